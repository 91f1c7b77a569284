// Package auth はWordPressを外部IdPとしたログイン・会員登録と、
// ローカルアカウント・IdP紐付け・Bearerセッションの管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mobilbff/internal/metrics"
	"github.com/hitoshi/mobilbff/internal/model"
	"github.com/hitoshi/mobilbff/internal/repository"
	"github.com/hitoshi/mobilbff/internal/security"
	"github.com/hitoshi/mobilbff/internal/woocommerce"
	"github.com/hitoshi/mobilbff/internal/wordpress"
)

// IdP紐付けの記録内容
const (
	MatchStrategyLiveLogin = "live_login"
	ConfidenceLiveLogin    = 100

	idSourceProfile     = "profile"
	idSourceToken       = "token_response"
	idSourceTokenClaims = "token_claims"
)

// IdentityProvider はWordPressの認証・プロフィール取得のインターフェース。
type IdentityProvider interface {
	Authenticate(ctx context.Context, identifier, password string) (*wordpress.TokenResult, error)
	FetchProfile(ctx context.Context, token string) (*wordpress.Profile, error)
}

// CommerceProvider はWooCommerceの顧客作成のインターフェース。
type CommerceProvider interface {
	CreateCustomer(ctx context.Context, in woocommerce.CustomerInput) (*woocommerce.Customer, error)
}

// Store はトランザクション内外のリポジトリ一式を提供する。
type Store interface {
	repository.Transactor
	Repositories() repository.Repositories
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	RememberTTL time.Duration // remember_me指定時のセッション有効期間
	ShortTTL    time.Duration
	// EnforceExpiry がfalseの場合、期限切れのセッションも有効として扱う。
	EnforceExpiry bool
}

// LoginInput はログインの入力。Identifierはユーザー名またはemail。
type LoginInput struct {
	Identifier string
	Password   string
	RememberMe bool
}

// RegisterInput は会員登録の入力。
type RegisterInput struct {
	Email      string
	Password   string
	Name       string
	RememberMe bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	idp       IdentityProvider
	commerce  CommerceProvider
	store     Store
	sanitizer *security.TextSanitizer
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	idp IdentityProvider,
	commerce CommerceProvider,
	store Store,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		idp:       idp,
		commerce:  commerce,
		store:     store,
		sanitizer: security.NewTextSanitizer(),
		metrics:   collector,
		config:    config,
		now:       time.Now,
	}
}

// resolvedIdentity はIdPから得られたユーザー情報をまとめたもの。
// Fullはプロフィール取得に成功したかどうか。
type resolvedIdentity struct {
	Email          string
	Name           string
	ExternalUserID *int64
	IDSource       string
	Roles          []string
	Full           bool
}

// Login はWordPressで認証し、ローカルアカウント・紐付け・セッションを1トランザクションで作成する。
func (s *Service) Login(ctx context.Context, in LoginInput) (*model.LoginResult, error) {
	result, err := s.login(ctx, in)
	s.metrics.RecordLogin(outcome(err))
	return result, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (*model.LoginResult, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		return nil, model.NewValidationError("identifier and password are required")
	}

	// 1. IdPで認証
	token, err := s.authenticate(ctx, identifier, in.Password)
	if err != nil {
		return nil, err
	}

	// 2. プロフィールを取得（失敗時はトークン情報のみで続行）
	ident := s.resolveIdentity(ctx, token)

	// 3. emailが得られなければ続行できない
	email := model.NormalizeEmail(ident.Email)
	if email == "" {
		return nil, model.NewIdentityError()
	}

	// 4. ロールを決定。プロフィールが無い場合は既存のロールを維持する
	derived := DeriveRole(ident.Roles)
	refreshRole := derived
	if !ident.Full {
		refreshRole = ""
	}
	name := s.sanitizer.Plain(ident.Name)

	// 5〜7. アカウント・紐付け・セッションを1トランザクションで書き込む
	var (
		account *model.Account
		session *model.Session
	)
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		var txErr error
		account, txErr = s.upsertAccount(ctx, repos.Accounts, email, name, refreshRole, derived, in.Password)
		if txErr != nil {
			return txErr
		}

		if ident.ExternalUserID != nil {
			if txErr = repos.Identities.Upsert(ctx, &model.IdentityMapping{
				ExternalUserID: *ident.ExternalUserID,
				AccountID:      account.ID,
				MatchStrategy:  MatchStrategyLiveLogin,
				Confidence:     ConfidenceLiveLogin,
				Note:           "external id from " + ident.IDSource,
				IsActive:       true,
				LinkedAt:       s.now(),
			}); txErr != nil {
				return fmt.Errorf("failed to upsert identity mapping: %w", txErr)
			}
		}

		session, txErr = s.createSession(ctx, repos.Sessions, account.ID, in.RememberMe)
		return txErr
	})
	if err != nil {
		return nil, storageError("login failed", err)
	}

	s.metrics.RecordSessionIssued(in.RememberMe)
	slog.Info("user logged in",
		slog.Int64("account_id", account.ID),
		slog.String("session_id", session.ID),
		slog.String("role", string(account.Role)),
		slog.Bool("full_identity", ident.Full),
	)

	roles := ident.Roles
	if roles == nil {
		roles = []string{}
	}
	return &model.LoginResult{
		Session: session,
		Account: model.AccountView{
			AccountID:      account.ID,
			Email:          account.Email,
			Name:           account.Name,
			ExternalUserID: ident.ExternalUserID,
			Roles:          roles,
		},
	}, nil
}

// authenticate はIdPの認証を呼び出し、失敗をUpstreamAuthErrorに変換する。
func (s *Service) authenticate(ctx context.Context, identifier, password string) (*wordpress.TokenResult, error) {
	start := time.Now()
	token, err := s.idp.Authenticate(ctx, identifier, password)
	s.metrics.RecordProviderLatency("wordpress", "authenticate", time.Since(start))
	if err != nil {
		var wpErr *wordpress.Error
		if errors.As(err, &wpErr) {
			return nil, model.NewUpstreamAuthError(s.sanitizer.Plain(wpErr.Message), err)
		}
		slog.Warn("identity provider unavailable", slog.String("error", err.Error()))
		return nil, model.NewUpstreamAuthError("identity provider unavailable", err)
	}
	return token, nil
}

// resolveIdentity はトークンレスポンスとプロフィールからユーザー情報を組み立てる。
// プロフィールが取得できた場合はその値を優先し、空の項目のみトークンの値で補う。
func (s *Service) resolveIdentity(ctx context.Context, token *wordpress.TokenResult) resolvedIdentity {
	ident := resolvedIdentity{
		Email: token.Email,
		Name:  token.DisplayName,
	}
	switch {
	case token.UserID != nil:
		ident.ExternalUserID, ident.IDSource = token.UserID, idSourceToken
	case token.Token != "":
		if id := wordpress.UserIDFromToken(token.Token); id != nil {
			ident.ExternalUserID, ident.IDSource = id, idSourceTokenClaims
		}
	}

	if token.Token == "" {
		s.metrics.RecordProfileFallback()
		return ident
	}

	start := time.Now()
	profile, err := s.idp.FetchProfile(ctx, token.Token)
	s.metrics.RecordProviderLatency("wordpress", "fetch_profile", time.Since(start))
	if err != nil {
		s.metrics.RecordProfileFallback()
		slog.Warn("profile fetch failed, continuing with token data",
			slog.String("error", err.Error()),
		)
		return ident
	}

	ident.Full = true
	ident.Roles = profile.Roles
	if profile.Email != "" {
		ident.Email = profile.Email
	}
	if profile.Name != "" {
		ident.Name = profile.Name
	}
	if profile.ID != nil {
		ident.ExternalUserID, ident.IDSource = profile.ID, idSourceProfile
	}
	return ident
}

// upsertAccount はemailでアカウントを更新し、無ければ作成する。
// パスワードのハッシュ化は作成時のみ行う。
func (s *Service) upsertAccount(
	ctx context.Context,
	accounts repository.AccountRepository,
	email, name string,
	refreshRole, newRole model.Role,
	password string,
) (*model.Account, error) {
	account, err := accounts.RefreshByEmail(ctx, email, name, refreshRole)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh account: %w", err)
	}
	if account != nil {
		return account, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	account, err = accounts.Insert(ctx, &model.Account{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         newRole,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}
	slog.Info("new account created",
		slog.Int64("account_id", account.ID),
		slog.String("role", string(account.Role)),
	)
	return account, nil
}

// Register はWooCommerceで顧客を作成し、同じ認証情報でログインする。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.LoginResult, error) {
	result, err := s.register(ctx, in)
	s.metrics.RecordRegistration(outcome(err))
	return result, err
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*model.LoginResult, error) {
	email := model.NormalizeEmail(in.Email)
	if !ValidEmailShape(email) {
		return nil, model.NewValidationError("a valid email address is required")
	}
	if in.Password == "" {
		return nil, model.NewValidationError("password is required")
	}

	first, last := SplitName(in.Name)

	start := time.Now()
	_, err := s.commerce.CreateCustomer(ctx, woocommerce.CustomerInput{
		Email:     email,
		Password:  in.Password,
		FirstName: first,
		LastName:  last,
	})
	s.metrics.RecordProviderLatency("woocommerce", "create_customer", time.Since(start))
	if err != nil {
		var wcErr *woocommerce.Error
		switch {
		case errors.As(err, &wcErr):
			return nil, model.NewRegistrationError(s.sanitizer.Plain(wcErr.Message), err)
		case errors.Is(err, woocommerce.ErrNotConfigured):
			return nil, model.NewSystemError("registration is not configured", err)
		default:
			return nil, model.NewSystemError("commerce provider unavailable", err)
		}
	}

	slog.Info("customer registered at commerce provider")

	return s.Login(ctx, LoginInput{
		Identifier: email,
		Password:   in.Password,
		RememberMe: in.RememberMe,
	})
}

// ValidateSession はBearerトークンからセッションを検証し、アカウント情報を返す。
func (s *Service) ValidateSession(ctx context.Context, token string) (*model.AccountView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, model.NewAuthError("Bearer token required")
	}

	repos := s.store.Repositories()

	session, err := repos.Sessions.FindByToken(ctx, token)
	if err != nil {
		return nil, model.NewSystemError("", err)
	}
	if session == nil {
		return nil, model.NewAuthError("invalid session")
	}
	if s.config.EnforceExpiry && session.Expired(s.now()) {
		return nil, model.NewAuthError("session expired")
	}

	account, err := repos.Accounts.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, model.NewSystemError("", err)
	}
	if account == nil {
		return nil, model.NewAuthError("invalid session")
	}

	view := &model.AccountView{
		AccountID: account.ID,
		Email:     account.Email,
		Name:      account.Name,
		Roles:     []string{},
	}

	mapping, err := repos.Identities.FindActiveByAccountID(ctx, account.ID)
	if err != nil {
		return nil, model.NewSystemError("", err)
	}
	if mapping != nil {
		id := mapping.ExternalUserID
		view.ExternalUserID = &id
	}

	return view, nil
}

// Logout はトークンに対応するセッションを破棄する。存在しないトークンはエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.NewAuthError("Bearer token required")
	}

	if err := s.store.Repositories().Sessions.DeleteByToken(ctx, token); err != nil {
		return model.NewSystemError("", err)
	}
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, sessions repository.SessionRepository, accountID int64, rememberMe bool) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	ttl := s.config.ShortTTL
	if rememberMe {
		ttl = s.config.RememberTTL
	}
	now := s.now().UTC()

	session := &model.Session{
		ID:        uuid.New().String(),
		Token:     token,
		AccountID: accountID,
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
		CreatedAt: now,
	}
	if err := sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateToken は32バイトの乱数をbase64url（パディング無し）で返す。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// storageError はトランザクション内のエラーをAPIErrorに変換する。
func storageError(message string, err error) error {
	if errors.Is(err, repository.ErrConflict) {
		return model.NewConflictError(err)
	}
	slog.Error(message, slog.String("error", err.Error()))
	return model.NewSystemError("", err)
}

// outcome はエラーをメトリクスの結果ラベルに変換する。
func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		return metrics.OutcomeSystem
	}
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return metrics.OutcomeValidation
	case model.ErrCodeUpstreamAuth:
		return metrics.OutcomeUpstreamAuth
	case model.ErrCodeIdentity:
		return metrics.OutcomeIdentity
	case model.ErrCodeRegistration:
		return metrics.OutcomeRegistration
	case model.ErrCodeConflict:
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeSystem
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/mobilbff/internal/model"
	"github.com/hitoshi/mobilbff/internal/repository"
	"github.com/hitoshi/mobilbff/internal/woocommerce"
	"github.com/hitoshi/mobilbff/internal/wordpress"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func int64Ptr(v int64) *int64 { return &v }

// newTestService はテスト用のServiceを生成する。現在時刻はfixedNowに固定する。
func newTestService(idp *mockIdP, commerce *mockCommerce, store *memStore) (*Service, *mockMetrics) {
	m := &mockMetrics{}
	svc := NewService(idp, commerce, store, m, ServiceConfig{
		RememberTTL:   30 * 24 * time.Hour,
		ShortTTL:      24 * time.Hour,
		EnforceExpiry: true,
	})
	svc.now = func() time.Time { return fixedNow }
	return svc, m
}

// profileOK はプロフィール取得に成功するfetchProfileFnを返す。
func profileOK(id int64, email, name string, roles ...string) func(context.Context, string) (*wordpress.Profile, error) {
	return func(_ context.Context, _ string) (*wordpress.Profile, error) {
		p := &wordpress.Profile{Email: email, Name: name, Roles: roles}
		if id != 0 {
			p.ID = int64Ptr(id)
		}
		return p, nil
	}
}

func assertCode(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %s, want %s (message: %s)", apiErr.Code, code, apiErr.Message)
	}
	return apiErr
}

// --- Login ---

// TestLogin_NewEmailWithoutProfile はプロフィールもIDも無い新規emailで
// customerアカウントが1件作成され、紐付けが作られず、30日のセッションが発行されることを検証する。
func TestLogin_NewEmailWithoutProfile(t *testing.T) {
	idp := &mockIdP{
		authenticateFn: func(_ context.Context, _, _ string) (*wordpress.TokenResult, error) {
			return &wordpress.TokenResult{Email: "newuser@x.com"}, nil
		},
	}
	store := newMemStore()
	svc, m := newTestService(idp, &mockCommerce{}, store)

	res, err := svc.Login(context.Background(), LoginInput{Identifier: "newuser@x.com", Password: "pw123", RememberMe: true})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if store.accountCount() != 1 {
		t.Fatalf("accounts = %d, want 1", store.accountCount())
	}
	a, _ := store.accountByEmail("newuser@x.com")
	if a.Role != model.RoleCustomer {
		t.Errorf("role = %s, want customer", a.Role)
	}
	if !VerifyPassword(a.PasswordHash, "pw123") {
		t.Error("stored password hash does not verify")
	}
	if len(store.state.identities) != 0 {
		t.Errorf("identity mappings = %d, want 0", len(store.state.identities))
	}
	if want := fixedNow.Add(30 * 24 * time.Hour); !res.Session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", res.Session.ExpiresAt, want)
	}
	if res.Account.ExternalUserID != nil {
		t.Errorf("ExternalUserID = %d, want nil", *res.Account.ExternalUserID)
	}
	if res.Account.Roles == nil || len(res.Account.Roles) != 0 {
		t.Errorf("Roles = %v, want empty", res.Account.Roles)
	}
	if idp.profileCalls != 0 {
		t.Errorf("profile calls = %d, want 0 without a provider token", idp.profileCalls)
	}
	if m.fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", m.fallbacks)
	}
	if len(m.logins) != 1 || m.logins[0] != "success" {
		t.Errorf("login outcomes = %v", m.logins)
	}
}

// TestLogin_ShortSession はremember_me=falseで1日のセッションになることを検証する。
func TestLogin_ShortSession(t *testing.T) {
	svc, _ := newTestService(&mockIdP{}, &mockCommerce{}, newMemStore())

	res, err := svc.Login(context.Background(), LoginInput{Identifier: "a@b.com", Password: "pw", RememberMe: false})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if want := fixedNow.Add(24 * time.Hour); !res.Session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", res.Session.ExpiresAt, want)
	}
}

// TestLogin_FullProfile_CreatesMapping はプロフィール取得成功時に紐付けとロールが反映されることを検証する。
func TestLogin_FullProfile_CreatesMapping(t *testing.T) {
	idp := &mockIdP{fetchProfileFn: profileOK(42, "Admin@Example.com", "Site Admin", "Administrator")}
	store := newMemStore()
	svc, m := newTestService(idp, &mockCommerce{}, store)

	res, err := svc.Login(context.Background(), LoginInput{Identifier: "admin", Password: "pw", RememberMe: true})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if res.Account.Email != "admin@example.com" {
		t.Errorf("Email = %q", res.Account.Email)
	}
	if res.Account.Name != "Site Admin" {
		t.Errorf("Name = %q", res.Account.Name)
	}
	if res.Account.ExternalUserID == nil || *res.Account.ExternalUserID != 42 {
		t.Errorf("ExternalUserID = %v, want 42", res.Account.ExternalUserID)
	}
	if len(res.Account.Roles) != 1 || res.Account.Roles[0] != "Administrator" {
		t.Errorf("Roles = %v", res.Account.Roles)
	}

	a, _ := store.accountByEmail("admin@example.com")
	if a.Role != model.RoleSuperAdmin {
		t.Errorf("role = %s, want super_admin", a.Role)
	}

	mapping, ok := store.state.identities[42]
	if !ok {
		t.Fatal("identity mapping for 42 not found")
	}
	if mapping.AccountID != a.ID || mapping.MatchStrategy != MatchStrategyLiveLogin || mapping.Confidence != 100 {
		t.Errorf("unexpected mapping: %+v", mapping)
	}
	if !strings.Contains(mapping.Note, "profile") {
		t.Errorf("Note = %q, want id source profile", mapping.Note)
	}
	if m.fallbacks != 0 {
		t.Errorf("fallbacks = %d, want 0", m.fallbacks)
	}
}

// TestLogin_ExistingEmail_PreservesID は既存アカウントのIDが維持され、
// 空でない値のみname/roleが更新されることを検証する。
func TestLogin_ExistingEmail_PreservesID(t *testing.T) {
	store := newMemStore()
	seeded := store.seedAccount(model.Account{
		Email:        "ada@example.com",
		PasswordHash: "original-hash",
		Name:         "Ada",
		Role:         model.RoleCustomer,
	})

	name := ""
	idp := &mockIdP{
		fetchProfileFn: func(_ context.Context, _ string) (*wordpress.Profile, error) {
			return &wordpress.Profile{Email: "ada@example.com", Name: name}, nil
		},
	}
	svc, _ := newTestService(idp, &mockCommerce{}, store)

	// 空のnameでは既存値を維持
	res, err := svc.Login(context.Background(), LoginInput{Identifier: "ada@example.com", Password: "other"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Account.AccountID != seeded.ID {
		t.Errorf("AccountID = %d, want %d", res.Account.AccountID, seeded.ID)
	}
	if res.Account.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", res.Account.Name)
	}

	// 空でないnameは上書き
	name = "Ada Lovelace"
	res, err = svc.Login(context.Background(), LoginInput{Identifier: "ada@example.com", Password: "other"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Account.AccountID != seeded.ID || res.Account.Name != "Ada Lovelace" {
		t.Errorf("unexpected account view: %+v", res.Account)
	}

	a := store.state.accounts[seeded.ID]
	if a.PasswordHash != "original-hash" {
		t.Error("password hash of an existing account must not change")
	}
	if !a.IsActive {
		t.Error("account should be marked active")
	}
	if store.accountCount() != 1 {
		t.Errorf("accounts = %d, want 1", store.accountCount())
	}
}

// TestLogin_PartialIdentity_KeepsExistingRole はプロフィールが取得できない場合に
// 既存のsuper_adminが降格されないことを検証する。
func TestLogin_PartialIdentity_KeepsExistingRole(t *testing.T) {
	store := newMemStore()
	seeded := store.seedAccount(model.Account{Email: "root@example.com", Role: model.RoleSuperAdmin})
	svc, m := newTestService(&mockIdP{}, &mockCommerce{}, store)

	if _, err := svc.Login(context.Background(), LoginInput{Identifier: "root@example.com", Password: "pw"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got := store.state.accounts[seeded.ID].Role; got != model.RoleSuperAdmin {
		t.Errorf("role = %s, want super_admin", got)
	}
	if m.fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", m.fallbacks)
	}
}

// TestLogin_EmailNormalization は大文字小文字違いのemailが同じアカウントになることを検証する。
func TestLogin_EmailNormalization(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(&mockIdP{}, &mockCommerce{}, store)

	first, err := svc.Login(context.Background(), LoginInput{Identifier: "User@Example.COM", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	second, err := svc.Login(context.Background(), LoginInput{Identifier: "user@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if first.Account.AccountID != second.Account.AccountID {
		t.Errorf("account ids differ: %d vs %d", first.Account.AccountID, second.Account.AccountID)
	}
	if store.accountCount() != 1 {
		t.Errorf("accounts = %d, want 1", store.accountCount())
	}
	if first.Account.Email != "user@example.com" {
		t.Errorf("Email = %q, want normalized", first.Account.Email)
	}
}

// TestLogin_Relink は同じ外部IDで別emailのログインを行うと、
// 紐付けが1件のまま最新のアカウントを指すことを検証する。
func TestLogin_Relink(t *testing.T) {
	email := "first@example.com"
	idp := &mockIdP{
		fetchProfileFn: func(_ context.Context, _ string) (*wordpress.Profile, error) {
			return &wordpress.Profile{ID: int64Ptr(7), Email: email}, nil
		},
	}
	store := newMemStore()
	svc, _ := newTestService(idp, &mockCommerce{}, store)

	r1, err := svc.Login(context.Background(), LoginInput{Identifier: "u", Password: "pw"})
	if err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	email = "second@example.com"
	r2, err := svc.Login(context.Background(), LoginInput{Identifier: "u", Password: "pw"})
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}

	if r1.Account.AccountID == r2.Account.AccountID {
		t.Fatal("expected two different accounts")
	}
	if len(store.state.identities) != 1 {
		t.Fatalf("identity mappings = %d, want 1", len(store.state.identities))
	}
	if got := store.state.identities[7].AccountID; got != r2.Account.AccountID {
		t.Errorf("mapping points at %d, want %d", got, r2.Account.AccountID)
	}
}

// TestLogin_TokensUnique はN回のログインでN個の異なる有効なトークンが発行されることを検証する。
func TestLogin_TokensUnique(t *testing.T) {
	store := newMemStore()
	svc, m := newTestService(&mockIdP{}, &mockCommerce{}, store)

	const n = 5
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		res, err := svc.Login(context.Background(), LoginInput{Identifier: "a@b.com", Password: "pw", RememberMe: true})
		if err != nil {
			t.Fatalf("Login() #%d error = %v", i, err)
		}
		if len(res.Session.Token) != 43 {
			t.Errorf("token length = %d, want 43", len(res.Session.Token))
		}
		if seen[res.Session.Token] {
			t.Fatalf("duplicate token %q", res.Session.Token)
		}
		seen[res.Session.Token] = true
	}

	for token := range seen {
		if _, err := svc.ValidateSession(context.Background(), token); err != nil {
			t.Errorf("ValidateSession(%q) error = %v", token, err)
		}
	}
	if m.issued != n {
		t.Errorf("sessions issued = %d, want %d", m.issued, n)
	}
}

// TestLogin_ExternalIDFromTokenClaims はプロフィールが無い場合に
// トークンのdata.user.idから外部IDを取得することを検証する。
func TestLogin_ExternalIDFromTokenClaims(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"data": map[string]any{"user": map[string]any{"id": "15"}},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	idp := &mockIdP{
		authenticateFn: func(_ context.Context, _, _ string) (*wordpress.TokenResult, error) {
			return &wordpress.TokenResult{Token: token, Email: "c@d.com"}, nil
		},
	}
	store := newMemStore()
	svc, _ := newTestService(idp, &mockCommerce{}, store)

	res, err := svc.Login(context.Background(), LoginInput{Identifier: "c", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Account.ExternalUserID == nil || *res.Account.ExternalUserID != 15 {
		t.Fatalf("ExternalUserID = %v, want 15", res.Account.ExternalUserID)
	}
	if idp.profileCalls != 1 {
		t.Errorf("profile calls = %d, want 1", idp.profileCalls)
	}
	if note := store.state.identities[15].Note; !strings.Contains(note, "token_claims") {
		t.Errorf("Note = %q, want id source token_claims", note)
	}
}

// TestLogin_Validation は入力不足の場合に外部呼び出し前にValidationErrorになることを検証する。
func TestLogin_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   LoginInput
	}{
		{"empty identifier", LoginInput{Identifier: "", Password: "pw"}},
		{"blank identifier", LoginInput{Identifier: "   ", Password: "pw"}},
		{"empty password", LoginInput{Identifier: "a@b.com", Password: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := &mockIdP{}
			store := newMemStore()
			svc, m := newTestService(idp, &mockCommerce{}, store)

			_, err := svc.Login(context.Background(), tt.in)
			assertCode(t, err, model.ErrCodeValidation)
			if idp.authCalls != 0 {
				t.Errorf("authenticate calls = %d, want 0", idp.authCalls)
			}
			if store.txCount != 0 {
				t.Errorf("transactions = %d, want 0", store.txCount)
			}
			if len(m.logins) != 1 || m.logins[0] != "validation" {
				t.Errorf("login outcomes = %v", m.logins)
			}
		})
	}
}

// TestLogin_ProviderRejects はIdPの拒否メッセージがタグ除去されて中継されることを検証する。
func TestLogin_ProviderRejects(t *testing.T) {
	idp := &mockIdP{
		authenticateFn: func(_ context.Context, _, _ string) (*wordpress.TokenResult, error) {
			return nil, &wordpress.Error{
				StatusCode: 403,
				Code:       "[jwt_auth] incorrect_password",
				Message:    "<strong>Error:</strong> The password you entered is incorrect.",
			}
		},
	}
	store := newMemStore()
	svc, _ := newTestService(idp, &mockCommerce{}, store)

	_, err := svc.Login(context.Background(), LoginInput{Identifier: "a@b.com", Password: "bad"})
	apiErr := assertCode(t, err, model.ErrCodeUpstreamAuth)
	if apiErr.Message != "Error: The password you entered is incorrect." {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if store.accountCount() != 0 {
		t.Error("no account should be created")
	}
}

// TestLogin_ProviderUnavailable は到達不能なIdPがUpstreamAuthErrorになることを検証する。
func TestLogin_ProviderUnavailable(t *testing.T) {
	idp := &mockIdP{
		authenticateFn: func(_ context.Context, _, _ string) (*wordpress.TokenResult, error) {
			return nil, fmt.Errorf("token request failed: %w", context.DeadlineExceeded)
		},
	}
	svc, _ := newTestService(idp, &mockCommerce{}, newMemStore())

	_, err := svc.Login(context.Background(), LoginInput{Identifier: "a@b.com", Password: "pw"})
	apiErr := assertCode(t, err, model.ErrCodeUpstreamAuth)
	if apiErr.Message != "identity provider unavailable" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause should be preserved")
	}
}

// TestLogin_NoEmail はemailが解決できない場合にIdentityErrorになることを検証する。
func TestLogin_NoEmail(t *testing.T) {
	idp := &mockIdP{
		authenticateFn: func(_ context.Context, _, _ string) (*wordpress.TokenResult, error) {
			return &wordpress.TokenResult{Token: "tok", DisplayName: "Nobody"}, nil
		},
		fetchProfileFn: profileOK(9, "", "Nobody"),
	}
	store := newMemStore()
	svc, _ := newTestService(idp, &mockCommerce{}, store)

	_, err := svc.Login(context.Background(), LoginInput{Identifier: "nobody", Password: "pw"})
	assertCode(t, err, model.ErrCodeIdentity)
	if store.accountCount() != 0 || len(store.state.identities) != 0 {
		t.Error("no state should be written")
	}
}

// TestLogin_StorageFailureRollsBack は書き込み途中の失敗で何も永続化されないことを検証する。
func TestLogin_StorageFailureRollsBack(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"session insert fails", func(s *memStore) { s.failSessionCreate = errors.New("connection reset") }},
		{"identity upsert fails", func(s *memStore) { s.failIdentityUpsert = errors.New("connection reset") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := &mockIdP{fetchProfileFn: profileOK(11, "e@f.com", "E F")}
			store := newMemStore()
			tt.setup(store)
			svc, m := newTestService(idp, &mockCommerce{}, store)

			_, err := svc.Login(context.Background(), LoginInput{Identifier: "e@f.com", Password: "pw"})
			apiErr := assertCode(t, err, model.ErrCodeSystem)
			if strings.Contains(apiErr.Message, "connection reset") {
				t.Errorf("system error message leaks cause: %q", apiErr.Message)
			}
			if store.accountCount() != 0 || len(store.state.identities) != 0 || len(store.state.sessions) != 0 {
				t.Error("partial state persisted after rollback")
			}
			if m.issued != 0 {
				t.Errorf("sessions issued = %d, want 0", m.issued)
			}
		})
	}
}

// TestLogin_ConflictIsRetryable は一意制約の競合がConflictErrorになることを検証する。
func TestLogin_ConflictIsRetryable(t *testing.T) {
	store := newMemStore()
	store.failRefresh = fmt.Errorf("failed to refresh account: %w", repository.ErrConflict)
	svc, m := newTestService(&mockIdP{}, &mockCommerce{}, store)

	_, err := svc.Login(context.Background(), LoginInput{Identifier: "a@b.com", Password: "pw"})
	assertCode(t, err, model.ErrCodeConflict)
	if !model.IsRetryable(err) {
		t.Error("conflict should be retryable")
	}
	if len(m.logins) != 1 || m.logins[0] != "conflict" {
		t.Errorf("login outcomes = %v", m.logins)
	}
}

// --- Register ---

// TestRegister_InvalidEmail は不正なemailで外部呼び出し前にValidationErrorになることを検証する。
func TestRegister_InvalidEmail(t *testing.T) {
	for _, email := range []string{"bad-email", "a@b", "@b.com", "a@.com", "a@b.", ""} {
		t.Run(email, func(t *testing.T) {
			idp := &mockIdP{}
			commerce := &mockCommerce{}
			svc, _ := newTestService(idp, commerce, newMemStore())

			_, err := svc.Register(context.Background(), RegisterInput{Email: email, Password: "pw", Name: "A B"})
			assertCode(t, err, model.ErrCodeValidation)
			if len(commerce.calls) != 0 || idp.authCalls != 0 {
				t.Error("no external call should be made")
			}
		})
	}
}

// TestRegister_SameShapeAsLogin は登録成功時の出力が同じ認証情報でのログインと同じ形になることを検証する。
func TestRegister_SameShapeAsLogin(t *testing.T) {
	newIdP := func() *mockIdP {
		return &mockIdP{fetchProfileFn: profileOK(21, "a@b.com", "Ada Lovelace", "customer")}
	}

	commerce := &mockCommerce{}
	regSvc, regMetrics := newTestService(newIdP(), commerce, newMemStore())
	reg, err := regSvc.Register(context.Background(), RegisterInput{
		Email: " A@B.com ", Password: "pw", Name: "  Ada   Lovelace ", RememberMe: true,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	loginSvc, _ := newTestService(newIdP(), &mockCommerce{}, newMemStore())
	login, err := loginSvc.Login(context.Background(), LoginInput{Identifier: "a@b.com", Password: "pw", RememberMe: true})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if reg.Account.AccountID != login.Account.AccountID ||
		reg.Account.Email != login.Account.Email ||
		reg.Account.Name != login.Account.Name ||
		*reg.Account.ExternalUserID != *login.Account.ExternalUserID ||
		strings.Join(reg.Account.Roles, ",") != strings.Join(login.Account.Roles, ",") {
		t.Errorf("register view %+v differs from login view %+v", reg.Account, login.Account)
	}
	if !reg.Session.ExpiresAt.Equal(login.Session.ExpiresAt) {
		t.Errorf("ExpiresAt %v differs from %v", reg.Session.ExpiresAt, login.Session.ExpiresAt)
	}

	if len(commerce.calls) != 1 {
		t.Fatalf("commerce calls = %d, want 1", len(commerce.calls))
	}
	in := commerce.calls[0]
	if in.Email != "a@b.com" || in.Password != "pw" || in.FirstName != "Ada" || in.LastName != "Lovelace" {
		t.Errorf("unexpected customer input: %+v", in)
	}
	if len(regMetrics.registrations) != 1 || regMetrics.registrations[0] != "success" {
		t.Errorf("registration outcomes = %v", regMetrics.registrations)
	}
}

// TestRegister_ProviderRejects はコマース側の拒否がRegistrationErrorになりログインしないことを検証する。
func TestRegister_ProviderRejects(t *testing.T) {
	idp := &mockIdP{}
	commerce := &mockCommerce{
		createFn: func(_ context.Context, _ woocommerce.CustomerInput) (*woocommerce.Customer, error) {
			return nil, &woocommerce.Error{
				StatusCode: 400,
				Code:       "registration-error-email-exists",
				Message:    "An account is already registered with <b>a@b.com</b>.",
			}
		},
	}
	svc, _ := newTestService(idp, commerce, newMemStore())

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@b.com", Password: "pw"})
	apiErr := assertCode(t, err, model.ErrCodeRegistration)
	if apiErr.Message != "An account is already registered with a@b.com." {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if idp.authCalls != 0 {
		t.Error("login should not run after a failed registration")
	}
}

// TestRegister_NotConfigured はコマースの認証情報が無い場合にSystemErrorになることを検証する。
func TestRegister_NotConfigured(t *testing.T) {
	commerce := &mockCommerce{
		createFn: func(_ context.Context, _ woocommerce.CustomerInput) (*woocommerce.Customer, error) {
			return nil, woocommerce.ErrNotConfigured
		},
	}
	svc, _ := newTestService(&mockIdP{}, commerce, newMemStore())

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@b.com", Password: "pw"})
	assertCode(t, err, model.ErrCodeSystem)
}

// TestRegister_EmptyPassword はパスワード未入力がValidationErrorになることを検証する。
func TestRegister_EmptyPassword(t *testing.T) {
	commerce := &mockCommerce{}
	svc, _ := newTestService(&mockIdP{}, commerce, newMemStore())

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@b.com"})
	assertCode(t, err, model.ErrCodeValidation)
	if len(commerce.calls) != 0 {
		t.Error("no external call should be made")
	}
}

// --- ValidateSession / Logout ---

// TestValidateSession_EmptyToken はトークン未指定がAuthErrorになることを検証する。
func TestValidateSession_EmptyToken(t *testing.T) {
	svc, _ := newTestService(&mockIdP{}, &mockCommerce{}, newMemStore())

	for _, token := range []string{"", "   "} {
		_, err := svc.ValidateSession(context.Background(), token)
		apiErr := assertCode(t, err, model.ErrCodeAuth)
		if apiErr.Message != "Bearer token required" {
			t.Errorf("Message = %q", apiErr.Message)
		}
	}
}

// TestValidateSession_UnknownToken は存在しないトークンがAuthErrorになることを検証する。
func TestValidateSession_UnknownToken(t *testing.T) {
	svc, _ := newTestService(&mockIdP{}, &mockCommerce{}, newMemStore())

	_, err := svc.ValidateSession(context.Background(), "nope")
	apiErr := assertCode(t, err, model.ErrCodeAuth)
	if apiErr.Message != "invalid session" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

// TestValidateSession_ReturnsAccountView は有効なセッションでアカウント情報と外部IDが返ることを検証する。
func TestValidateSession_ReturnsAccountView(t *testing.T) {
	idp := &mockIdP{fetchProfileFn: profileOK(31, "v@w.com", "Vee", "administrator")}
	svc, _ := newTestService(idp, &mockCommerce{}, newMemStore())

	res, err := svc.Login(context.Background(), LoginInput{Identifier: "v", Password: "pw", RememberMe: true})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	view, err := svc.ValidateSession(context.Background(), res.Session.Token)
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	if view.AccountID != res.Account.AccountID || view.Email != "v@w.com" || view.Name != "Vee" {
		t.Errorf("unexpected view: %+v", view)
	}
	if view.ExternalUserID == nil || *view.ExternalUserID != 31 {
		t.Errorf("ExternalUserID = %v, want 31", view.ExternalUserID)
	}
	if view.Roles == nil || len(view.Roles) != 0 {
		t.Errorf("Roles = %v, want empty", view.Roles)
	}
}

// TestValidateSession_Expiry は期限切れセッションの扱いが設定に従うことを検証する。
func TestValidateSession_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		enforce bool
		wantErr bool
	}{
		{"enforced", true, true},
		{"not enforced", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc, _ := newTestService(&mockIdP{}, &mockCommerce{}, store)
			svc.config.EnforceExpiry = tt.enforce

			res, err := svc.Login(context.Background(), LoginInput{Identifier: "x@y.com", Password: "pw"})
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}

			svc.now = func() time.Time { return fixedNow.Add(25 * time.Hour) }
			_, err = svc.ValidateSession(context.Background(), res.Session.Token)
			if tt.wantErr {
				apiErr := assertCode(t, err, model.ErrCodeAuth)
				if apiErr.Message != "session expired" {
					t.Errorf("Message = %q", apiErr.Message)
				}
			} else if err != nil {
				t.Errorf("ValidateSession() error = %v", err)
			}
		})
	}
}

// TestValidateSession_StorageError はストレージ障害がSystemErrorになることを検証する。
func TestValidateSession_StorageError(t *testing.T) {
	store := newMemStore()
	store.failFind = errors.New("db down")
	svc, _ := newTestService(&mockIdP{}, &mockCommerce{}, store)

	_, err := svc.ValidateSession(context.Background(), "token")
	assertCode(t, err, model.ErrCodeSystem)
}

// TestLogout はログアウト後にトークンが無効になることを検証する。
func TestLogout(t *testing.T) {
	svc, _ := newTestService(&mockIdP{}, &mockCommerce{}, newMemStore())

	res, err := svc.Login(context.Background(), LoginInput{Identifier: "l@o.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := svc.Logout(context.Background(), res.Session.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	_, err = svc.ValidateSession(context.Background(), res.Session.Token)
	assertCode(t, err, model.ErrCodeAuth)

	// 存在しないトークンはエラーにしない
	if err := svc.Logout(context.Background(), res.Session.Token); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}

	err = svc.Logout(context.Background(), "")
	assertCode(t, err, model.ErrCodeAuth)
}

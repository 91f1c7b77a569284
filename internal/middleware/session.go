// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/mobilbff/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// accountContextKey はリクエストコンテキストに認証済みアカウントを格納するためのキー。
var accountContextKey = contextKey("account")

// SessionValidator はBearerトークンの検証に必要なインターフェース。
// auth.Serviceが実装する。
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*model.AccountView, error)
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// スキーム名の大文字小文字は区別しない。ヘッダーが無い・形式が違う場合は空文字を返す。
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// NewSessionMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みアカウントをリクエストコンテキストに注入する。
// 未認証リクエストには401を統一エラーフォーマットで返す。
func NewSessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := validator.ValidateSession(r.Context(), BearerToken(r))
			if err != nil {
				WriteAPIError(w, err)
				return
			}

			setLoggedAccount(r.Context(), account.AccountID)
			next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), account)))
		})
	}
}

// AccountFromContext はリクエストコンテキストから認証済みアカウントを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func AccountFromContext(ctx context.Context) (*model.AccountView, error) {
	account, ok := ctx.Value(accountContextKey).(*model.AccountView)
	if !ok || account == nil {
		return nil, fmt.Errorf("account not found in context")
	}
	return account, nil
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
func AccountIDFromContext(ctx context.Context) (int64, error) {
	account, err := AccountFromContext(ctx)
	if err != nil {
		return 0, err
	}
	return account.AccountID, nil
}

// ContextWithAccount はコンテキストに認証済みアカウントを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAccount(ctx context.Context, account *model.AccountView) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/mobilbff/internal/auth"
	"github.com/hitoshi/mobilbff/internal/middleware"
	"github.com/hitoshi/mobilbff/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, in auth.LoginInput) (*model.LoginResult, error)
	Register(ctx context.Context, in auth.RegisterInput) (*model.LoginResult, error)
	ValidateSession(ctx context.Context, token string) (*model.AccountView, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandler はログイン・会員登録・セッション関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// loginRequest はPOST /auth/loginのリクエストボディ。
// username_or_emailは旧クライアント向けの別名。
type loginRequest struct {
	Identifier      string `json:"identifier"`
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
	RememberMe      *bool  `json:"remember_me"`
}

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	RememberMe *bool  `json:"remember_me"`
}

// accountResponse はアカウント情報のJSON表現。
type accountResponse struct {
	AccountID      int64    `json:"account_id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	ExternalUserID *int64   `json:"external_user_id"`
	Roles          []string `json:"roles"`
}

// sessionResponse はログイン・会員登録成功時のレスポンス。
type sessionResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    string `json:"expires_at"`
	accountResponse
}

// Login はIdPの資格情報でログインしセッションを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.UsernameOrEmail
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Identifier: identifier,
		Password:   req.Password,
		RememberMe: rememberMe(req.RememberMe),
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(result))
}

// Register はコマースプロバイダーで会員を作成し、そのままログインする。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		RememberMe: rememberMe(req.RememberMe),
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(result))
}

// Me はBearerトークンに対応するアカウント情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.ValidateSession(r.Context(), middleware.BearerToken(r))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// Logout はBearerトークンのセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// rememberMe は省略時にtrueとする。
func rememberMe(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

func toAccountResponse(v *model.AccountView) accountResponse {
	roles := v.Roles
	if roles == nil {
		roles = []string{}
	}
	return accountResponse{
		AccountID:      v.AccountID,
		Email:          v.Email,
		Name:           v.Name,
		ExternalUserID: v.ExternalUserID,
		Roles:          roles,
	}
}

func toSessionResponse(result *model.LoginResult) sessionResponse {
	return sessionResponse{
		SessionToken:    result.Session.Token,
		ExpiresAt:       result.Session.ExpiresAt.UTC().Format(time.RFC3339),
		accountResponse: toAccountResponse(&result.Account),
	}
}

// decodeJSON はリクエストボディをJSONとしてデコードする。
// 失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Causeは内部原因でレスポンスには含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, system
	Action   string // ユーザー向け対処方法
	Cause    error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeUpstreamAuth = "UPSTREAM_AUTH_ERROR"
	ErrCodeIdentity     = "IDENTITY_ERROR"
	ErrCodeRegistration = "REGISTRATION_ERROR"
	ErrCodeAuth         = "AUTH_ERROR"
	ErrCodeConflict     = "CONFLICT_ERROR"
	ErrCodeSystem       = "SYSTEM_ERROR"
)

// NewValidationError は入力不正エラーを生成する。外部呼び出し前に返す。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Check the submitted fields and try again.",
	}
}

// NewUpstreamAuthError は外部IdPが認証を拒否した、または到達できなかった場合のエラーを生成する。
// messageにはIdPから返されたメッセージを渡す（空の場合は既定文言）。
func NewUpstreamAuthError(message string, cause error) *APIError {
	if message == "" {
		message = "login failed"
	}
	return &APIError{
		Code:     ErrCodeUpstreamAuth,
		Message:  message,
		Category: "auth",
		Action:   "Check your username and password.",
		Cause:    cause,
	}
}

// NewIdentityError はemailを解決できなかった場合のエラーを生成する。
func NewIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentity,
		Message:  "could not resolve an email address for this account",
		Category: "auth",
		Action:   "Add an email address to your account and try again.",
	}
}

// NewRegistrationError は外部コマースでの会員作成失敗エラーを生成する。
func NewRegistrationError(message string, cause error) *APIError {
	if message == "" {
		message = "could not create customer account"
	}
	return &APIError{
		Code:     ErrCodeRegistration,
		Message:  message,
		Category: "validation",
		Action:   "Use a different email address or log in with the existing account.",
		Cause:    cause,
	}
}

// NewAuthError はBearerトークンが無い・不正な場合のエラーを生成する。
func NewAuthError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeAuth,
		Message:  message,
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewConflictError は同時書き込みの競合エラーを生成する。再試行可能。
func NewConflictError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "the account was modified concurrently",
		Category: "system",
		Action:   "Retry the request.",
		Cause:    cause,
	}
}

// NewSystemError はストレージ障害など予期しないエラーを生成する。
// 詳細はCauseに保持し、レスポンスには一般的な文言のみを返す。
func NewSystemError(message string, cause error) *APIError {
	if message == "" {
		message = "internal error"
	}
	return &APIError{
		Code:     ErrCodeSystem,
		Message:  message,
		Category: "system",
		Action:   "Please try again later.",
		Cause:    cause,
	}
}

// AsAPIError はerrからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HasCode はerrが指定コードのAPIErrorかを返す。
func HasCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}

// IsRetryable はクライアントが再試行してよいエラーかを返す。
func IsRetryable(err error) bool {
	return HasCode(err, ErrCodeConflict)
}

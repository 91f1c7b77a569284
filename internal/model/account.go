// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はローカルアカウントの権限を表す。
type Role string

const (
	// RoleCustomer は一般会員。
	RoleCustomer Role = "customer"
	// RoleSuperAdmin は管理者。
	RoleSuperAdmin Role = "super_admin"
)

// Account はローカルに保持するアカウントを表す。
// emailは小文字に正規化して保存し、正規化後の値で一意となる。
type Account struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdentityMapping は外部IdPのユーザーIDとローカルアカウントの紐付けを表す。
// 外部ユーザーIDごとに有効な紐付けは最大1件。
type IdentityMapping struct {
	ExternalUserID int64
	AccountID      int64
	MatchStrategy  string
	Confidence     int // 0〜100
	Note           string
	IsActive       bool
	LinkedAt       time.Time
}

// Session はBearerトークンによるログインセッションを表す。
// IDはログ出力用の行ID。Tokenはクライアントに渡す秘密値でログに出さない。
type Session struct {
	ID        string
	Token     string
	AccountID int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はセッションが指定時刻の時点で期限切れかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AccountView はAPIに返すアカウント情報。
type AccountView struct {
	AccountID      int64
	Email          string
	Name           string
	ExternalUserID *int64
	Roles          []string
}

// LoginResult はログイン・登録の結果。
type LoginResult struct {
	Session *Session
	Account AccountView
}

// NormalizeEmail はemailを前後空白除去・小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

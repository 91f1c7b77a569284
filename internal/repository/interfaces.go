// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/mobilbff/internal/model"
)

// AccountRepository はローカルアカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Account, error)

	// FindByEmail は正規化済みemailでアカウントを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// RefreshByEmail は既存アカウントのname/roleを更新し、有効化する。
	// 空文字のname/roleは既存値を維持する。該当アカウントが無い場合はnilを返す。
	RefreshByEmail(ctx context.Context, email, name string, role model.Role) (*model.Account, error)

	// Insert はアカウントを作成する。同一emailが同時に作成された場合は
	// 既存行をRefreshByEmailと同じ規則で更新し、その行を返す。
	Insert(ctx context.Context, account *model.Account) (*model.Account, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// Upsert は外部ユーザーIDをキーに紐付けを作成または上書きする。
	// 既存行はaccount_id、match_strategy、confidence、noteを上書きし、linked_atを更新する。
	Upsert(ctx context.Context, mapping *model.IdentityMapping) error

	// FindByExternalUserID は外部ユーザーIDで紐付けを取得する。見つからない場合はnilを返す。
	FindByExternalUserID(ctx context.Context, externalUserID int64) (*model.IdentityMapping, error)

	// FindActiveByAccountID はアカウントに紐付く有効な紐付けを1件取得する。
	// 複数ある場合は最新のlinked_atを返す。見つからない場合はnilを返す。
	FindActiveByAccountID(ctx context.Context, accountID int64) (*model.IdentityMapping, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByToken はトークンでセッションを取得する。期限は判定せず、見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.Session, error)
	// DeleteByToken はトークンに対応するセッションを削除する。
	DeleteByToken(ctx context.Context, token string) error
	// DeleteExpiredBefore は指定時刻より前に期限切れとなったセッションを削除し、件数を返す。
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// Repositories は同一トランザクション上のリポジトリ一式。
type Repositories struct {
	Accounts   AccountRepository
	Identities IdentityRepository
	Sessions   SessionRepository
}

// Transactor はリポジトリ一式を1トランザクションで実行する。
// fnがエラーを返した場合はロールバックし、そのエラーを返す。
type Transactor interface {
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}

// Querier は*sql.DBと*sql.Txの共通部分。
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/mobilbff/internal/model"
)

const accountColumns = `id, email, password_hash, name, role, is_active, created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db Querier
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
// dbには*sql.DBまたは*sql.Txを渡す。
func NewPostgresAccountRepo(db Querier) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	)
	return scanAccount(row, "failed to find account by ID")
}

// FindByEmail は正規化済みemailでアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		model.NormalizeEmail(email),
	)
	return scanAccount(row, "failed to find account by email")
}

// RefreshByEmail は既存アカウントのname/roleを更新し、有効化する。
// 空文字のname/roleは既存値を維持する。該当アカウントが無い場合はnilを返す。
func (r *PostgresAccountRepo) RefreshByEmail(ctx context.Context, email, name string, role model.Role) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE accounts
		 SET name = COALESCE(NULLIF($2, ''), name),
		     role = COALESCE(NULLIF($3, ''), role),
		     is_active = TRUE,
		     updated_at = now()
		 WHERE email = $1
		 RETURNING `+accountColumns,
		model.NormalizeEmail(email), name, string(role),
	)
	return scanAccount(row, "failed to refresh account")
}

// Insert はアカウントを作成する。
// 別リクエストが同じemailを先に作成していた場合はON CONFLICTで既存行を更新する。
// password_hashは既存行のものを維持する。
func (r *PostgresAccountRepo) Insert(ctx context.Context, account *model.Account) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (email, password_hash, name, role, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, TRUE, now(), now())
		 ON CONFLICT (email) DO UPDATE
		 SET name = COALESCE(NULLIF(EXCLUDED.name, ''), accounts.name),
		     role = COALESCE(NULLIF(EXCLUDED.role, ''), accounts.role),
		     is_active = TRUE,
		     updated_at = now()
		 RETURNING `+accountColumns,
		model.NormalizeEmail(account.Email), account.PasswordHash, account.Name, string(account.Role),
	)
	return scanAccount(row, "failed to insert account")
}

func scanAccount(row *sql.Row, op string) (*model.Account, error) {
	account := &model.Account{}
	var role string
	err := row.Scan(
		&account.ID, &account.Email, &account.PasswordHash, &account.Name,
		&role, &account.IsActive, &account.CreatedAt, &account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(op, err)
	}
	account.Role = model.Role(role)
	return account, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)

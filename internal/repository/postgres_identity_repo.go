package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/mobilbff/internal/model"
)

const identityColumns = `external_user_id, account_id, match_strategy, confidence, note, is_active, linked_at`

// PostgresIdentityRepo はPostgreSQLを使用したidentity_mapリポジトリ。
type PostgresIdentityRepo struct {
	db Querier
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db Querier) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// Upsert は外部ユーザーIDをキーに紐付けを作成または上書きする。
// 同じ外部ユーザーIDで重複行は作らず、常に最新のアカウントを指す。
func (r *PostgresIdentityRepo) Upsert(ctx context.Context, m *model.IdentityMapping) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identity_map (external_user_id, account_id, match_strategy, confidence, note, is_active, linked_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, now())
		 ON CONFLICT (external_user_id) DO UPDATE
		 SET account_id = EXCLUDED.account_id,
		     match_strategy = EXCLUDED.match_strategy,
		     confidence = EXCLUDED.confidence,
		     note = EXCLUDED.note,
		     linked_at = now(),
		     is_active = TRUE`,
		m.ExternalUserID, m.AccountID, m.MatchStrategy, m.Confidence, m.Note,
	)
	if err != nil {
		return wrapError("failed to upsert identity mapping", err)
	}
	return nil
}

// FindByExternalUserID は外部ユーザーIDで紐付けを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByExternalUserID(ctx context.Context, externalUserID int64) (*model.IdentityMapping, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identity_map WHERE external_user_id = $1`,
		externalUserID,
	)
	return scanIdentity(row, "failed to find identity mapping")
}

// FindActiveByAccountID はアカウントに紐付く有効な紐付けを1件取得する。
func (r *PostgresIdentityRepo) FindActiveByAccountID(ctx context.Context, accountID int64) (*model.IdentityMapping, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+`
		 FROM identity_map
		 WHERE account_id = $1 AND is_active = TRUE
		 ORDER BY linked_at DESC
		 LIMIT 1`,
		accountID,
	)
	return scanIdentity(row, "failed to find identity mapping by account")
}

func scanIdentity(row *sql.Row, op string) (*model.IdentityMapping, error) {
	m := &model.IdentityMapping{}
	err := row.Scan(&m.ExternalUserID, &m.AccountID, &m.MatchStrategy, &m.Confidence, &m.Note, &m.IsActive, &m.LinkedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(op, err)
	}
	return m, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)

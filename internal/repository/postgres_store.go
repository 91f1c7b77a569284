package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore は*sql.DB上のリポジトリ一式とトランザクション実行を提供する。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Repositories はトランザクション外で使うリポジトリ一式を返す。
func (s *PostgresStore) Repositories() Repositories {
	return newRepositories(s.db)
}

// WithinTx はfnを1トランザクションで実行する。
// fnが成功した場合のみコミットし、それ以外はロールバックする。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(repos Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(newRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapError("failed to commit transaction", err)
	}
	return nil
}

func newRepositories(q Querier) Repositories {
	return Repositories{
		Accounts:   NewPostgresAccountRepo(q),
		Identities: NewPostgresIdentityRepo(q),
		Sessions:   NewPostgresSessionRepo(q),
	}
}

// Ping はDB接続を確認する。
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Transactor = (*PostgresStore)(nil)

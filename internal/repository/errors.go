package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrConflict は一意制約違反やシリアライズ失敗など、再試行で解消しうる書き込み競合を表す。
var ErrConflict = errors.New("write conflict")

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// wrapError はドライバのエラーを文脈付きでラップする。
// 競合系のSQLSTATEはErrConflictとして判別できるようにする。
func wrapError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation, pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%s: %w: %s (%s)", op, ErrConflict, pqErr.Message, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

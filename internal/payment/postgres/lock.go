package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// AdvisoryLocker hands out session-level Postgres advisory locks. Each lock
// pins its own connection so the unlock runs on the session that holds it.
type AdvisoryLocker struct {
	db *sqlx.DB
}

func NewAdvisoryLocker(db *sqlx.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// TryLock returns ok=false without blocking when another session holds key.
func (l *AdvisoryLocker) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.GetContext(ctx, &acquired, "SELECT pg_try_advisory_lock($1)", key); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("try advisory lock %d: %w", key, err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Close()
	}
	return unlock, true, nil
}

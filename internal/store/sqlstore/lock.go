package sqlstore

import (
	"context"
	"log"
)

// TryLock takes the postgres session advisory lock key on a dedicated
// connection. The lock lives as long as that connection, so unlock must be
// called to release it; if the process dies, postgres releases it when the
// session ends. SQLite has a single writer and always grants the lock.
func (s *Store) TryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error) {
	if s.dialect != DialectPostgres {
		return func() {}, true, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	// Non-blocking lock attempt.
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	if err != nil || !acquired {
		_ = conn.Close()
		return nil, false, err
	}

	unlock = func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
			log.Printf("sqlstore: advisory unlock %d failed: %v", key, err)
		}
		_ = conn.Close()
	}
	return unlock, true, nil
}

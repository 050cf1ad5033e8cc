package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Session is a unit of work. All writes performed through its Queries
// become visible atomically on Commit.
type Session struct {
	tx   *sql.Tx
	done bool
}

// Begin opens a new Session.
func (d *Database) Begin(ctx context.Context) (*Session, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{tx: tx}, nil
}

// Queries returns the query set bound to this session's transaction.
func (s *Session) Queries() *Queries {
	return &Queries{q: s.tx}
}

// Commit finalizes the unit of work.
func (s *Session) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Commit()
}

// Rollback discards the unit of work. Safe to call after Commit, so it
// can be deferred unconditionally.
func (s *Session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback()
}

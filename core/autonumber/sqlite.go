package autonumber

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/artpar/entitysdk/core/storage"
)

const counterTable = "_autonumbers"

// SQLite keeps counters in a table of the SQLite store. Consuming a number
// increments the counter inside the caller's session, so an aborted write
// releases it.
type SQLite struct {
	store *storage.SQLiteStore
}

// NewSQLite creates a provider backed by store. Call EnsureTable before use.
func NewSQLite(store *storage.SQLiteStore) *SQLite {
	return &SQLite{store: store}
}

// EnsureTable creates the counter table.
func (s *SQLite) EnsureTable(ctx context.Context) error {
	_, err := s.store.DB().ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+counterTable+` (
  entity TEXT NOT NULL,
  attribute TEXT NOT NULL,
  value INTEGER NOT NULL,
  PRIMARY KEY (entity, attribute)
)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", counterTable, err)
	}
	return nil
}

// ResolveAutoNumber returns the next number for the attribute.
func (s *SQLite) ResolveAutoNumber(ctx context.Context, p Params) (any, error) {
	q, err := s.store.Querier(p.Session)
	if err != nil {
		return nil, err
	}

	start := Start(p.Attribute.AutoNumber)

	var n int64
	if p.MarkAsUsed {
		err = q.QueryRowContext(ctx, `INSERT INTO `+counterTable+` (entity, attribute, value) VALUES (?, ?, ?)
ON CONFLICT (entity, attribute) DO UPDATE SET value = value + 1
RETURNING value`, p.LogicalName, p.AttributeName, start).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("reserve auto-number %s: %w", key(p), err)
		}
	} else {
		var last int64
		err = q.QueryRowContext(ctx, `SELECT value FROM `+counterTable+` WHERE entity = ? AND attribute = ?`,
			p.LogicalName, p.AttributeName).Scan(&last)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			n = start
		case err != nil:
			return nil, fmt.Errorf("read auto-number %s: %w", key(p), err)
		default:
			n = last + 1
		}
	}

	return Format(p.Attribute.AutoNumber, p.Attribute.Type, n)
}

var _ Provider = (*SQLite)(nil)

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id         VARCHAR(64)     NOT NULL PRIMARY KEY,
	kind       VARCHAR(16)     NOT NULL,
	data       LONGBLOB        NOT NULL,
	version    BIGINT UNSIGNED NOT NULL,
	updated_at TIMESTAMP       NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`

// MySQLStore is the durable object store. Each save bumps the row's version
// column and is refused when the caller's expected version is stale.
type MySQLStore struct {
	sqlStore
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{sqlStore{db: db, isDuplicate: isMySQLDuplicate}}
}

// OpenMySQL connects with dsn and makes sure the entities table exists.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	s := NewMySQLStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (m *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, mysqlSchema); err != nil {
		return fmt.Errorf("create entities table: %w", err)
	}
	return nil
}

func (m *MySQLStore) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func isMySQLDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

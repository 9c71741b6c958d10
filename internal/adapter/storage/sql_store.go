package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/port"
)

// sqlStore keeps one row per entity in the entities table and uses the
// version column for optimistic concurrency. MySQL and SQLite share it and
// differ only in how a duplicate insert is reported.
type sqlStore struct {
	db          *sql.DB
	isDuplicate func(error) bool
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) Load(ctx context.Context, id domain.ID) (domain.Entity, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("storage is not configured")
	}

	var (
		kind    string
		data    []byte
		version uint64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, data, version FROM entities WHERE id = ?`, string(id),
	).Scan(&kind, &data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("load %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query entity: %w", err)
	}

	e, err := decodeEntity(kind, data, version)
	if err != nil {
		return nil, 0, err
	}
	return e, version, nil
}

func (s *sqlStore) Save(ctx context.Context, e domain.Entity, expected uint64) error {
	return s.write(ctx, s.db, port.Write{Op: port.WriteSave, ID: e.EntityID(), Entity: e, Expected: expected})
}

func (s *sqlStore) Delete(ctx context.Context, id domain.ID, expected uint64) error {
	return s.write(ctx, s.db, port.Write{Op: port.WriteDelete, ID: id, Expected: expected})
}

// Apply runs every write in one SQL transaction. The first version mismatch
// rolls the whole batch back.
func (s *sqlStore) Apply(ctx context.Context, writes []port.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		if err := s.write(ctx, tx, w); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqlStore) write(ctx context.Context, ex execer, w port.Write) error {
	if w.Op == port.WriteDelete {
		result, err := ex.ExecContext(ctx, `DELETE FROM entities WHERE id = ? AND version = ?`, string(w.ID), w.Expected)
		if err != nil {
			return fmt.Errorf("delete entity: %w", err)
		}
		return checkRows(result, w)
	}

	kind, data, err := encodeEntity(w.Entity)
	if err != nil {
		return err
	}
	if w.Expected == 0 {
		_, err := ex.ExecContext(ctx,
			`INSERT INTO entities (id, kind, data, version) VALUES (?, ?, ?, 1)`,
			string(w.ID), kind, data,
		)
		if err != nil && s.isDuplicate(err) {
			return fmt.Errorf("%s already exists: %w", w.ID, port.ErrVersionMismatch)
		}
		if err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
		return nil
	}

	result, err := ex.ExecContext(ctx, `
		UPDATE entities
		SET kind = ?, data = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		kind, data, string(w.ID), w.Expected,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return checkRows(result, w)
}

func checkRows(result sql.Result, w port.Write) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s at version %d: %w", w.ID, w.Expected, port.ErrVersionMismatch)
	}
	return nil
}

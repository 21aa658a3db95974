package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/auditcore/internal/data"
)

// Add inserts d or merges it into the stored record with the same identity.
// The insert-or-merge runs in one transaction.
func (s *Store) Add(ctx context.Context, d data.Data) (isNew bool, err error) {
	rec := data.ToRecord(d)
	body, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("add data: marshal: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("add data: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO data (identity, kind, subtype, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO NOTHING
	`, rec.Identity(), rec.Kind().String(), rec.Subtype(), string(body))
	if err != nil {
		return false, fmt.Errorf("add data: insert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add data: rows affected: %w", err)
	}

	if affected == 0 {
		if err := mergeExisting(ctx, tx, rec); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("add data: commit: %w", err)
	}
	return affected == 1, nil
}

func mergeExisting(ctx context.Context, tx *sql.Tx, rec *data.Record) error {
	var body string
	err := tx.QueryRowContext(ctx, `SELECT body FROM data WHERE identity = ?`, rec.Identity()).Scan(&body)
	if err != nil {
		return fmt.Errorf("add data: load existing: %w", err)
	}

	existing, err := unmarshalRecord(body)
	if err != nil {
		return fmt.Errorf("add data: %w", err)
	}

	merged, err := existing.Merge(rec)
	if err != nil {
		return fmt.Errorf("add data: %w", err)
	}

	newBody, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("add data: marshal merged: %w", err)
	}
	if string(newBody) == body {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE data SET body = ? WHERE identity = ?`, string(newBody), rec.Identity()); err != nil {
		return fmt.Errorf("add data: update: %w", err)
	}
	return nil
}

// Remove deletes the record. KindAny matches any kind.
func (s *Store) Remove(ctx context.Context, identity string, kind data.Kind) (bool, error) {
	where, args := identityClause(identity, kind)
	result, err := s.db.ExecContext(ctx, `DELETE FROM data WHERE `+where, args...)
	if err != nil {
		return false, fmt.Errorf("remove data: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove data: rows affected: %w", err)
	}
	return affected > 0, nil
}

// StateAdd stores value as JSON under plugin/key, replacing any previous value.
func (s *Store) StateAdd(ctx context.Context, plugin, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state add %s/%s: marshal: %w", plugin, key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plugin_state (plugin, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(plugin, key) DO UPDATE SET value = excluded.value
	`, plugin, key, string(raw))
	if err != nil {
		return fmt.Errorf("state add %s/%s: %w", plugin, key, err)
	}
	return nil
}

// StateRemove deletes plugin/key and reports whether it existed.
func (s *Store) StateRemove(ctx context.Context, plugin, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plugin_state WHERE plugin = ? AND key = ?`, plugin, key)
	if err != nil {
		return false, fmt.Errorf("state remove %s/%s: %w", plugin, key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("state remove %s/%s: rows affected: %w", plugin, key, err)
	}
	return affected > 0, nil
}

// SetAuditTime records a named timestamp (TimeStart, TimeStop).
func (s *Store) SetAuditTime(ctx context.Context, name string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_meta (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, name, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set audit time %s: %w", name, err)
	}
	return nil
}

func unmarshalRecord(body string) (*data.Record, error) {
	var rec data.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func identityClause(identity string, kind data.Kind) (string, []any) {
	if kind == data.KindAny {
		return "identity = ?", []any{identity}
	}
	return "identity = ? AND kind = ?", []any{identity, kind.String()}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/roach88/auditcore/internal/data"
)

// iteratePageSize bounds how many rows Iterate holds open at once. The
// connection is released between pages so the caller may use the store
// while ranging.
const iteratePageSize = 256

// HasKey reports whether a record exists. KindAny matches any kind.
func (s *Store) HasKey(ctx context.Context, identity string, kind data.Kind) (bool, error) {
	where, args := identityClause(identity, kind)
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM data WHERE `+where, args...).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has key: %w", err)
	}
	return true, nil
}

// Get returns the record, or nil if absent.
func (s *Store) Get(ctx context.Context, identity string, kind data.Kind) (*data.Record, error) {
	where, args := identityClause(identity, kind)
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM data WHERE `+where, args...).Scan(&body)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}
	return unmarshalRecord(body)
}

// GetMany returns the records that exist, in the order requested.
// Missing identities are skipped.
func (s *Store) GetMany(ctx context.Context, identities []string) ([]*data.Record, error) {
	out := make([]*data.Record, 0, len(identities))
	for _, id := range identities {
		rec, err := s.Get(ctx, id, data.KindAny)
		if err != nil {
			return nil, fmt.Errorf("get many: %w", err)
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Keys returns identities matching f in insertion order.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Keys(ctx context.Context, f Filter) ([]string, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	where, args := filterClause(f)

	rows, err := s.db.QueryContext(ctx, `SELECT identity FROM data`+where+` ORDER BY seq ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Count returns how many records match f.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	if err := f.validate(); err != nil {
		return 0, err
	}
	where, args := filterClause(f)

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count data: %w", err)
	}
	return n, nil
}

// Iterate lazily yields records matching f in insertion order. Each range
// over the returned sequence runs a fresh query.
func (s *Store) Iterate(ctx context.Context, f Filter) iter.Seq2[*data.Record, error] {
	return func(yield func(*data.Record, error) bool) {
		if err := f.validate(); err != nil {
			yield(nil, err)
			return
		}

		var after int64
		for {
			page, last, err := s.readPage(ctx, f, after)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < iteratePageSize {
				return
			}
			after = last
		}
	}
}

func (s *Store) readPage(ctx context.Context, f Filter, after int64) ([]*data.Record, int64, error) {
	where, args := filterClause(f)
	if where == "" {
		where = " WHERE seq > ?"
	} else {
		where += " AND seq > ?"
	}
	args = append(args, after, iteratePageSize)

	rows, err := s.db.QueryContext(ctx, `SELECT seq, body FROM data`+where+` ORDER BY seq ASC LIMIT ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query data: %w", err)
	}
	defer rows.Close()

	var (
		page []*data.Record
		last int64
	)
	for rows.Next() {
		var body string
		if err := rows.Scan(&last, &body); err != nil {
			return nil, 0, fmt.Errorf("scan data: %w", err)
		}
		rec, err := unmarshalRecord(body)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate data: %w", err)
	}
	return page, last, nil
}

// StateCheck reports whether plugin/key is set.
func (s *Store) StateCheck(ctx context.Context, plugin, key string) (bool, error) {
	_, ok, err := s.StateGet(ctx, plugin, key)
	return ok, err
}

// StateGet returns the JSON value stored under plugin/key.
func (s *Store) StateGet(ctx context.Context, plugin, key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM plugin_state WHERE plugin = ? AND key = ?`, plugin, key).Scan(&value)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state get %s/%s: %w", plugin, key, err)
	}
	return json.RawMessage(value), true, nil
}

// StateKeys lists a plugin's keys in lexical order.
func (s *Store) StateKeys(ctx context.Context, plugin string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM plugin_state WHERE plugin = ? ORDER BY key COLLATE BINARY ASC`, plugin)
	if err != nil {
		return nil, fmt.Errorf("state keys %s: %w", plugin, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan state key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state keys: %w", err)
	}
	return keys, nil
}

// AuditTimes returns the recorded start and stop times; zero when unset.
func (s *Store) AuditTimes(ctx context.Context) (start, stop time.Time, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM audit_meta WHERE key IN (?, ?)`, TimeStart, TimeStop)
	if err != nil {
		return start, stop, fmt.Errorf("audit times: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return start, stop, fmt.Errorf("scan audit time: %w", err)
		}
		t, perr := time.Parse(time.RFC3339Nano, value)
		if perr != nil {
			return start, stop, fmt.Errorf("parse audit time %s: %w", key, perr)
		}
		switch key {
		case TimeStart:
			start = t
		case TimeStop:
			stop = t
		}
	}
	if err := rows.Err(); err != nil {
		return start, stop, fmt.Errorf("iterate audit times: %w", err)
	}
	return start, stop, nil
}

func filterClause(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Kind != data.KindAny {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind.String())
	}
	if f.Subtype != "" {
		conds = append(conds, "subtype = ?")
		args = append(args, f.Subtype)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

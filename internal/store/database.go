package store

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"time"

	"github.com/roach88/auditcore/internal/data"
)

// ErrSubtypeWithoutKind is returned for a Filter naming a subtype but no kind.
var ErrSubtypeWithoutKind = errors.New("store: subtype filter requires a kind")

// Filter narrows listing queries. The zero Filter matches everything.
type Filter struct {
	Kind    data.Kind
	Subtype string
}

func (f Filter) validate() error {
	if f.Subtype != "" && f.Kind == data.KindAny {
		return ErrSubtypeWithoutKind
	}
	return nil
}

// Database is the contract an audit needs from its storage.
// *Store is the SQLite implementation.
type Database interface {
	// Add stores d, merging into an existing record with the same identity.
	Add(ctx context.Context, d data.Data) (isNew bool, err error)
	Remove(ctx context.Context, identity string, kind data.Kind) (bool, error)
	HasKey(ctx context.Context, identity string, kind data.Kind) (bool, error)
	// Get returns nil, nil when absent.
	Get(ctx context.Context, identity string, kind data.Kind) (*data.Record, error)
	GetMany(ctx context.Context, identities []string) ([]*data.Record, error)
	Keys(ctx context.Context, f Filter) ([]string, error)
	Count(ctx context.Context, f Filter) (int, error)
	Iterate(ctx context.Context, f Filter) iter.Seq2[*data.Record, error]

	StateAdd(ctx context.Context, plugin, key string, value any) error
	StateRemove(ctx context.Context, plugin, key string) (bool, error)
	StateCheck(ctx context.Context, plugin, key string) (bool, error)
	StateGet(ctx context.Context, plugin, key string) (json.RawMessage, bool, error)
	StateKeys(ctx context.Context, plugin string) ([]string, error)

	SetAuditTime(ctx context.Context, name string, t time.Time) error
	AuditTimes(ctx context.Context) (start, stop time.Time, err error)

	Compact(ctx context.Context) error
	Close() error
}

var _ Database = (*Store)(nil)

// Audit time names.
const (
	TimeStart = "start_time"
	TimeStop  = "stop_time"
)

package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/netslot"
	"github.com/roach88/auditcore/internal/rpc"
)

// ErrQueueClosed is returned when the orchestrator stopped accepting messages.
var ErrQueueClosed = errors.New("plugin: orchestrator queue closed")

// Context is the plugin's only channel back to the orchestrator. Every
// method becomes a message; synchronous RPC blocks the calling worker until
// the response arrives or ctx ends.
type Context struct {
	audit  string
	plugin string
	sender message.Sender
}

// NewContext creates a context for plugin running in audit.
func NewContext(audit, plugin string, sender message.Sender) *Context {
	return &Context{audit: audit, plugin: plugin, sender: sender}
}

func (c *Context) AuditName() string  { return c.audit }
func (c *Context) PluginName() string { return c.plugin }

// Send submits a data object to the audit.
func (c *Context) Send(d data.Data) error {
	return c.SendMessage(message.NewData(c.audit, d))
}

// SendMessage submits any message.
func (c *Context) SendMessage(m message.Message) error {
	if !c.sender.Enqueue(m) {
		return ErrQueueClosed
	}
	return nil
}

// Log emits a log line at the given verbosity (message.LogStandard...).
func (c *Context) Log(level int, text string) {
	c.SendMessage(message.NewControl(message.ControlLog, c.audit,
		message.LogEntry{Text: text, Level: level}, message.PriorityHigh))
}

// Logf is Log with formatting at standard verbosity.
func (c *Context) Logf(format string, args ...any) {
	c.Log(message.LogStandard, fmt.Sprintf(format, args...))
}

// Warn emits a warning.
func (c *Context) Warn(text string) {
	c.SendMessage(message.NewControl(message.ControlWarning, c.audit,
		message.Warning{Text: text, Source: c.plugin}, message.PriorityHigh))
}

// Error reports a plugin error.
func (c *Context) Error(err error) {
	c.reportError(err.Error(), "")
}

func (c *Context) reportError(desc, trace string) {
	c.SendMessage(message.NewControl(message.ControlError, c.audit,
		message.ErrorReport{Description: desc, Trace: trace, Source: c.plugin}, message.PriorityHigh))
}

// Call runs a synchronous RPC.
func (c *Context) Call(ctx context.Context, code message.Code, args ...any) (any, error) {
	call, ch := rpc.NewSyncCall(c.audit, code, args...)
	if !c.sender.Enqueue(call.Message()) {
		return nil, ErrQueueClosed
	}
	return rpc.Wait(ctx, ch)
}

// CallAsync runs an RPC without waiting for its result.
func (c *Context) CallAsync(code message.Code, args ...any) error {
	return c.SendMessage(rpc.NewAsyncCall(c.audit, code, args...).Message())
}

// Database returns the client for the audit database.
func (c *Context) Database() DatabaseClient { return DatabaseClient{c: c} }

// State returns the client for this plugin's persistent state.
func (c *Context) State() StateClient { return StateClient{c: c} }

// Cache returns the client for the audit cache.
func (c *Context) Cache() CacheClient { return CacheClient{c: c} }

// RequestSlot waits for a network slot on host. The returned release
// function must be called once the connection is done.
func (c *Context) RequestSlot(ctx context.Context, host string) (release func(), err error) {
	for {
		res, err := c.Call(ctx, message.RPCRequestSlot, host)
		if err != nil {
			return nil, err
		}
		g, ok := res.(netslot.Grant)
		if !ok {
			return nil, fmt.Errorf("request slot: unexpected result %T", res)
		}
		if g.Granted {
			token := g.Token
			return func() { c.CallAsync(message.RPCReleaseSlot, token) }, nil
		}

		wait := g.RetryAfter
		if wait <= 0 {
			wait = netslot.DefaultRetryAfter
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// result asserts the dynamic type of an RPC result.
func result[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected rpc result %T, want %T", v, zero)
	}
	return t, nil
}

// DatabaseClient reads and writes the audit database over RPC.
type DatabaseClient struct{ c *Context }

func (d DatabaseClient) Add(ctx context.Context, obj data.Data) (bool, error) {
	return result[bool](d.c.Call(ctx, message.RPCDataAdd, obj))
}

func (d DatabaseClient) Remove(ctx context.Context, identity string, kind data.Kind) (bool, error) {
	return result[bool](d.c.Call(ctx, message.RPCDataRemove, identity, kind))
}

func (d DatabaseClient) Has(ctx context.Context, identity string, kind data.Kind) (bool, error) {
	return result[bool](d.c.Call(ctx, message.RPCDataCheck, identity, kind))
}

// Get returns nil when the object is absent.
func (d DatabaseClient) Get(ctx context.Context, identity string, kind data.Kind) (*data.Record, error) {
	return result[*data.Record](d.c.Call(ctx, message.RPCDataGet, identity, kind))
}

func (d DatabaseClient) GetMany(ctx context.Context, identities []string) ([]*data.Record, error) {
	return result[[]*data.Record](d.c.Call(ctx, message.RPCDataGetMany, identities))
}

func (d DatabaseClient) Keys(ctx context.Context, kind data.Kind, subtype string) ([]string, error) {
	return result[[]string](d.c.Call(ctx, message.RPCDataKeys, kind, subtype))
}

func (d DatabaseClient) Count(ctx context.Context, kind data.Kind, subtype string) (int, error) {
	return result[int](d.c.Call(ctx, message.RPCDataCount, kind, subtype))
}

// StateClient stores values scoped to the calling plugin.
type StateClient struct{ c *Context }

func (s StateClient) Set(ctx context.Context, key string, value any) error {
	_, err := s.c.Call(ctx, message.RPCStateAdd, s.c.plugin, key, value)
	return err
}

func (s StateClient) Remove(ctx context.Context, key string) (bool, error) {
	return result[bool](s.c.Call(ctx, message.RPCStateRemove, s.c.plugin, key))
}

func (s StateClient) Has(ctx context.Context, key string) (bool, error) {
	return result[bool](s.c.Call(ctx, message.RPCStateCheck, s.c.plugin, key))
}

// Get returns the stored JSON, or false when the key is unset.
func (s StateClient) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	raw, err := result[json.RawMessage](s.c.Call(ctx, message.RPCStateGet, s.c.plugin, key))
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// GetMany fetches several keys in one BULK round trip. Every key must exist.
func (s StateClient) GetMany(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	batch := make([]any, len(keys))
	for i, k := range keys {
		batch[i] = []any{s.c.plugin, k}
	}
	results, err := result[[]any](s.c.Call(ctx, message.RPCBulk, message.RPCStateGet, batch))
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(results))
	for i, r := range results {
		raw, ok := r.(json.RawMessage)
		if !ok {
			return nil, fmt.Errorf("state get many: item %d: unexpected %T", i, r)
		}
		out[i] = raw
	}
	return out, nil
}

func (s StateClient) Keys(ctx context.Context) ([]string, error) {
	return result[[]string](s.c.Call(ctx, message.RPCStateKeys, s.c.plugin))
}

// CacheClient reaches the audit cache.
type CacheClient struct{ c *Context }

// Get returns nil when the key is absent or expired.
func (k CacheClient) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return result[json.RawMessage](k.c.Call(ctx, message.RPCCacheGet, key))
}

// Set stores value; a zero ttl never expires.
func (k CacheClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	_, err := k.c.Call(ctx, message.RPCCacheSet, key, value, ttl)
	return err
}

func (k CacheClient) Has(ctx context.Context, key string) (bool, error) {
	return result[bool](k.c.Call(ctx, message.RPCCacheCheck, key))
}

func (k CacheClient) Remove(ctx context.Context, key string) error {
	_, err := k.c.Call(ctx, message.RPCCacheRemove, key)
	return err
}

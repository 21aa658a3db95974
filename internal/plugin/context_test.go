package plugin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/netslot"
	"github.com/roach88/auditcore/internal/rpc"
)

// rpcServer answers RPC messages with a registry, standing in for the
// orchestrator loop.
func rpcServer(t *testing.T, reg *rpc.Registry) message.Sender {
	t.Helper()
	d := rpc.NewDispatcher(reg)
	return message.SenderFunc(func(m message.Message) bool {
		if m.Type() != message.TypeRPC {
			return true
		}
		call := m.Payload().(*rpc.Call)
		require.NoError(t, d.Execute(context.Background(), call))
		return true
	})
}

func TestContext_DatabaseClient(t *testing.T) {
	rec, err := data.NewDomain("example.com")
	require.NoError(t, err)

	reg := rpc.NewRegistry()
	reg.MustRegister(message.RPCDataGet, func(_ context.Context, audit string, args []any, _ map[string]any) (any, error) {
		assert.Equal(t, "audit-1", audit)
		id, _ := rpc.ArgString(args, 0)
		if id == rec.Identity() {
			return rec, nil
		}
		return nil, nil
	})
	reg.MustRegister(message.RPCDataCount, func(context.Context, string, []any, map[string]any) (any, error) {
		return 7, nil
	})

	pc := NewContext("audit-1", "testing/x", rpcServer(t, reg))
	ctx := context.Background()

	got, err := pc.Database().Get(ctx, rec.Identity(), data.KindResource)
	require.NoError(t, err)
	assert.Equal(t, rec.Identity(), got.Identity())

	missing, err := pc.Database().Get(ctx, "nope", data.KindAny)
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := pc.Database().Count(ctx, data.KindAny, "")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = pc.Database().Keys(ctx, data.KindAny, "")
	assert.ErrorIs(t, err, rpc.ErrNotImplemented)
}

func TestContext_StateClient(t *testing.T) {
	state := map[string]json.RawMessage{"a": json.RawMessage(`1`), "b": json.RawMessage(`2`)}

	reg := rpc.NewRegistry()
	reg.MustRegister(message.RPCStateGet, func(_ context.Context, _ string, args []any, _ map[string]any) (any, error) {
		plugin, _ := rpc.ArgString(args, 0)
		assert.Equal(t, "testing/x", plugin)
		key, _ := rpc.ArgString(args, 1)
		v, ok := state[key]
		if !ok {
			return nil, rpc.NotFound("state key %s", key)
		}
		return v, nil
	})
	reg.MustRegister(message.RPCBulk, rpc.BulkHandler(reg))

	pc := NewContext("audit-1", "testing/x", rpcServer(t, reg))
	ctx := context.Background()

	raw, ok, err := pc.State().Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `1`, string(raw))

	_, ok, err = pc.State().Get(ctx, "zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	many, err := pc.State().GetMany(ctx, []string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.JSONEq(t, `2`, string(many[0]))
}

func TestContext_RequestSlotRetries(t *testing.T) {
	attempts := 0
	var released []any

	reg := rpc.NewRegistry()
	reg.MustRegister(message.RPCRequestSlot, func(context.Context, string, []any, map[string]any) (any, error) {
		attempts++
		if attempts < 3 {
			return netslot.Grant{RetryAfter: time.Millisecond}, nil
		}
		return netslot.Grant{Granted: true, Token: "tok"}, nil
	})
	reg.MustRegister(message.RPCReleaseSlot, func(_ context.Context, _ string, args []any, _ map[string]any) (any, error) {
		released = args
		return nil, nil
	})

	pc := NewContext("audit-1", "testing/x", rpcServer(t, reg))
	release, err := pc.RequestSlot(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	release()
	assert.Equal(t, []any{"tok"}, released)
}

func TestContext_RequestSlotCancelled(t *testing.T) {
	reg := rpc.NewRegistry()
	reg.MustRegister(message.RPCRequestSlot, func(context.Context, string, []any, map[string]any) (any, error) {
		return netslot.Grant{RetryAfter: time.Hour}, nil
	})

	pc := NewContext("audit-1", "testing/x", rpcServer(t, reg))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := pc.RequestSlot(ctx, "example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContext_QueueClosed(t *testing.T) {
	pc := NewContext("audit-1", "testing/x", message.SenderFunc(func(message.Message) bool { return false }))

	assert.ErrorIs(t, pc.Send(nil), ErrQueueClosed)
	_, err := pc.Call(context.Background(), message.RPCDataCount)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestContext_LogMessages(t *testing.T) {
	var got []message.Message
	pc := NewContext("audit-1", "testing/x", message.SenderFunc(func(m message.Message) bool {
		got = append(got, m)
		return true
	}))

	pc.Logf("found %d", 3)
	pc.Warn("careful")

	require.Len(t, got, 2)
	assert.True(t, got[0].IsControl(message.ControlLog))
	assert.Equal(t, message.PriorityHigh, got[0].Priority())
	assert.Equal(t, "found 3", got[0].Payload().(message.LogEntry).Text)
	assert.Equal(t, "testing/x", got[1].Payload().(message.Warning).Source)
}

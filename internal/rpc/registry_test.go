package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditcore/internal/message"
)

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	for _, code := range message.RPCCodes() {
		if code == message.RPCStateKeys || code == message.RPCBulk {
			continue
		}
		r.MustRegister(code, echoHandler)
	}

	err := r.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHandlers)

	var mh *MissingHandlersError
	require.True(t, errors.As(err, &mh))
	assert.Equal(t, []string{"BULK", "STATE_KEYS"}, mh.Codes)

	r.MustRegister(message.RPCStateKeys, echoHandler)
	r.MustRegister(message.RPCBulk, BulkHandler(r))
	assert.NoError(t, r.Validate())
}

func TestRegistry_RegisterTwice(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(message.RPCCacheGet, echoHandler))
	assert.Error(t, r.Register(message.RPCCacheGet, echoHandler))
	assert.Error(t, r.Register(message.RPCCacheSet, nil))
	assert.Equal(t, []message.Code{message.RPCCacheGet}, r.Codes())
}

func TestBulkHandler(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(message.RPCDataGet, func(_ context.Context, _ string, args []any, _ map[string]any) (any, error) {
		id, err := ArgString(args, 0)
		if err != nil {
			return nil, err
		}
		if id == "bad" {
			return nil, NotFound("%s", id)
		}
		return "got:" + id, nil
	})
	bulk := BulkHandler(r)
	ctx := context.Background()

	res, err := bulk(ctx, "audit-1", []any{message.RPCDataGet, []any{[]any{"a"}, []any{"b"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"got:a", "got:b"}, res)

	// Codes decoded from JSON arrive as float64.
	res, err = bulk(ctx, "audit-1", []any{float64(message.RPCDataGet), []any{[]any{"c"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"got:c"}, res)

	_, err = bulk(ctx, "audit-1", []any{message.RPCDataGet, []any{[]any{"a"}, []any{"bad"}}}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = bulk(ctx, "audit-1", []any{message.RPCBulk, []any{}}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = bulk(ctx, "audit-1", []any{message.RPCCacheSet, []any{}}, nil)
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = bulk(ctx, "audit-1", []any{message.RPCDataGet, "nope"}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

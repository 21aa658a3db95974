package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "audit-1", "k", map[string]int{"n": 1}, 0))

	raw, ok, err := c.Get(ctx, "audit-1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(raw))

	_, ok, err = c.Get(ctx, "audit-2", "k")
	require.NoError(t, err)
	assert.False(t, ok, "entries are scoped per audit")
}

func TestMemory_TTL(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetNow(func() time.Time { return now })

	require.NoError(t, c.Set(ctx, "audit-1", "k", "v", time.Minute))

	ok, err := c.Check(ctx, "audit-1", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, err = c.Check(ctx, "audit-1", "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires at its deadline")
}

func TestMemory_RemoveAndClean(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "audit-1", "a", 1, 0))
	require.NoError(t, c.Set(ctx, "audit-1", "b", 2, 0))
	require.NoError(t, c.Set(ctx, "audit-2", "a", 3, 0))

	require.NoError(t, c.Remove(ctx, "audit-1", "a"))
	assert.Equal(t, 1, c.Len("audit-1"))

	require.NoError(t, c.Clean(ctx, "audit-1"))
	assert.Equal(t, 0, c.Len("audit-1"))
	assert.Equal(t, 1, c.Len("audit-2"), "other audits untouched")

	// Removing from an unknown audit is a no-op.
	assert.NoError(t, c.Remove(ctx, "missing", "a"))
}

func TestMemory_SetRejectsUnencodable(t *testing.T) {
	c := NewMemory()
	err := c.Set(context.Background(), "audit-1", "k", make(chan int), 0)
	assert.Error(t, err)
}

func TestNew_Backends(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	_, err = New(Config{Backend: "memcached"})
	assert.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "audit-1", escapeGlob("audit-1"))
	assert.Equal(t, `a\*b\?`, escapeGlob("a*b?"))
}

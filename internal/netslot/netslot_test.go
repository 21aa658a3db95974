package netslot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestSlot_PerHostCap(t *testing.T) {
	m := New(Config{MaxPerHost: 2})

	g1, err := m.RequestSlot("audit-1", "example.com")
	require.NoError(t, err)
	require.True(t, g1.Granted)

	g2, err := m.RequestSlot("audit-2", "EXAMPLE.com")
	require.NoError(t, err)
	require.True(t, g2.Granted)

	g3, err := m.RequestSlot("audit-1", "example.com")
	require.NoError(t, err)
	assert.False(t, g3.Granted, "cap is per host across audits")
	assert.Equal(t, DefaultRetryAfter, g3.RetryAfter)

	other, err := m.RequestSlot("audit-1", "other.example")
	require.NoError(t, err)
	assert.True(t, other.Granted, "other hosts are independent")

	require.NoError(t, m.ReleaseSlot("audit-1", g1.Token))
	g4, err := m.RequestSlot("audit-1", "example.com")
	require.NoError(t, err)
	assert.True(t, g4.Granted)
}

func TestRequestSlot_RatePacing(t *testing.T) {
	m := New(Config{SlotsPerSecond: 2, Burst: 1})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.SetNow(func() time.Time { return now })

	g, err := m.RequestSlot("audit-1", "example.com")
	require.NoError(t, err)
	require.True(t, g.Granted)

	g, err = m.RequestSlot("audit-1", "example.com")
	require.NoError(t, err)
	assert.False(t, g.Granted)
	assert.Equal(t, 500*time.Millisecond, g.RetryAfter)

	now = now.Add(500 * time.Millisecond)
	g, err = m.RequestSlot("audit-1", "example.com")
	require.NoError(t, err)
	assert.True(t, g.Granted, "refused reservation must not consume a token")
}

func TestRequestSlot_EmptyHost(t *testing.T) {
	m := New(Config{})
	_, err := m.RequestSlot("audit-1", "  ")
	assert.Error(t, err)
}

func TestReleaseSlot_WrongAudit(t *testing.T) {
	m := New(Config{})
	g, err := m.RequestSlot("audit-1", "example.com")
	require.NoError(t, err)

	err = m.ReleaseSlot("audit-2", g.Token)
	assert.ErrorIs(t, err, ErrUnknownSlot)

	assert.NoError(t, m.ReleaseSlot("audit-1", g.Token))
	assert.ErrorIs(t, m.ReleaseSlot("audit-1", g.Token), ErrUnknownSlot)
}

func TestReleaseAll(t *testing.T) {
	m := New(Config{MaxPerHost: 10})
	for i := 0; i < 3; i++ {
		_, err := m.RequestSlot("audit-1", "example.com")
		require.NoError(t, err)
	}
	_, err := m.RequestSlot("audit-2", "example.com")
	require.NoError(t, err)

	assert.Equal(t, 3, m.ReleaseAll("audit-1"))
	assert.Equal(t, 0, m.Held("audit-1"))
	assert.Equal(t, 1, m.Held("audit-2"))
	assert.Equal(t, 1, m.Active("example.com"))
	assert.Equal(t, 0, m.ReleaseAll("audit-1"))
}

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/plugin"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRecordingSender(t *testing.T) {
	s := NewRecordingSender()
	assert.True(t, s.Enqueue(message.NewACK("a")))
	assert.True(t, s.Enqueue(message.NewData("a", "x")))

	assert.Equal(t, 1, s.ACKs())
	assert.Len(t, s.Data(), 1)
	assert.Len(t, s.Drain(), 2)
	assert.Empty(t, s.Messages())

	s.Close()
	assert.False(t, s.Enqueue(message.NewACK("a")))
}

func TestCapturePlugin(t *testing.T) {
	p := NewCapturePlugin("cap")
	assert.Equal(t, "testing/cap", p.Name())
	assert.Nil(t, p.AcceptedInfo())

	d, err := data.NewDomain("example.com")
	require.NoError(t, err)

	called := false
	p.OnInfo = func(context.Context, *plugin.Context, data.Data) error {
		called = true
		return nil
	}
	pc := plugin.NewContext("a", p.Name(), NewRecordingSender())
	require.NoError(t, p.RecvInfo(context.Background(), pc, d))
	require.NoError(t, p.RecvMsg(context.Background(), pc, message.NewACK("a")))

	assert.True(t, called)
	assert.Len(t, p.Infos(), 1)
	assert.Len(t, p.Messages(), 1)
}

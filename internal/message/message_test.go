package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewACK_IsLowPriorityControl(t *testing.T) {
	m := NewACK("audit-1")

	assert.True(t, m.IsACK())
	assert.Equal(t, TypeControl, m.Type())
	assert.Equal(t, PriorityLow, m.Priority())
	assert.Equal(t, "audit-1", m.AuditName())
	assert.NotEmpty(t, m.ID())
}

func TestNew_UniqueIDs(t *testing.T) {
	a := NewData("audit-1", nil)
	b := NewData("audit-1", nil)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestCodeName(t *testing.T) {
	tests := []struct {
		typ  Type
		code Code
		want string
	}{
		{TypeData, CodeData, "DATA"},
		{TypeControl, ControlACK, "ACK"},
		{TypeControl, ControlStopAudit, "STOP_AUDIT"},
		{TypeRPC, RPCBulk, "BULK"},
		{TypeRPC, RPCDataGetMany, "DATA_GET_MANY"},
		{TypeRPC, Code(99), "rpc(99)"},
		{TypeData, Code(3), "data(3)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeName(tt.typ, tt.code))
		})
	}
}

func TestRPCCodes_AllNamed(t *testing.T) {
	codes := RPCCodes()
	require.Len(t, codes, len(rpcNames))
	for _, c := range codes {
		_, ok := rpcNames[c]
		assert.True(t, ok, "code %d has no name", c)
	}
}

func TestMessage_JSON(t *testing.T) {
	m := NewControl(ControlLog, "audit-1", LogEntry{Text: "hello", Level: LogVerbose}, PriorityHigh)

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, m.ID(), got.ID())
	assert.Equal(t, TypeControl, got.Type())
	assert.Equal(t, ControlLog, got.Code())
	assert.Equal(t, "audit-1", got.AuditName())
	assert.Equal(t, PriorityHigh, got.Priority())

	var entry LogEntry
	require.NoError(t, json.Unmarshal(got.Payload().(json.RawMessage), &entry))
	assert.Equal(t, "hello", entry.Text)
	assert.Equal(t, LogVerbose, entry.Level)
}

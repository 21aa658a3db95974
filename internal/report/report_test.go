package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/notify"
	"github.com/roach88/auditcore/internal/plugin"
	"github.com/roach88/auditcore/internal/rpc"
	"github.com/roach88/auditcore/internal/store"
)

type recordingReceiver struct {
	name string
	mu   *sync.Mutex
	got  *[]message.Message
}

func (r recordingReceiver) Name() string             { return r.name }
func (r recordingReceiver) AcceptedInfo() []data.Tag { return nil }

func (r recordingReceiver) Deliver(_ context.Context, msg message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.got = append(*r.got, msg)
	return nil
}

type recordingAttacher struct {
	mu       sync.Mutex
	got      []message.Message
	attached []string
}

func (a *recordingAttacher) Attach(p plugin.Plugin, audit string) notify.Receiver {
	a.attached = append(a.attached, p.Name()+"@"+audit)
	return recordingReceiver{name: p.Name(), mu: &a.mu, got: &a.got}
}

type textReporter struct{ plugin.Base }

func (*textReporter) Name() string              { return "report/text" }
func (*textReporter) Category() plugin.Category { return plugin.CategoryReport }
func (*textReporter) IsSupported(f string) bool { return filepath.Ext(f) == ".txt" || f == "" }

func (*textReporter) GenerateReport(context.Context, *plugin.Context, message.ReportRequest) error {
	return nil
}

func TestManager_LaunchPicksReporterPerOutput(t *testing.T) {
	host := &recordingAttacher{}
	m := NewManager(host, []plugin.Reporter{NewJSONReporter(), &textReporter{}})

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n, err := m.Launch(context.Background(), Job{
		Audit:   "audit-1",
		Outputs: []string{"out.json", "out.txt", "more.JSON"},
		Start:   start,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"report/json@audit-1", "report/text@audit-1", "report/json@audit-1"}, host.attached)

	require.Len(t, host.got, 3)
	for _, msg := range host.got {
		assert.True(t, msg.IsControl(message.ControlStartReport))
		assert.Equal(t, start, msg.Payload().(message.ReportRequest).StartTime)
	}
	assert.Equal(t, "out.txt", host.got[1].Payload().(message.ReportRequest).OutputFile)
}

func TestManager_UnsupportedOutput(t *testing.T) {
	host := &recordingAttacher{}
	m := NewManager(host, []plugin.Reporter{NewJSONReporter()})

	assert.True(t, m.Supported("a.json"))
	assert.False(t, m.Supported("a.pdf"))

	n, err := m.Launch(context.Background(), Job{Audit: "audit-1", Outputs: []string{"a.pdf", "a.json"}})
	assert.ErrorIs(t, err, ErrNoReporter)
	assert.Equal(t, 1, n, "supported outputs still launch")
}

func TestManager_NoOutputs(t *testing.T) {
	m := NewManager(&recordingAttacher{}, []plugin.Reporter{NewJSONReporter()})
	n, err := m.Launch(context.Background(), Job{Audit: "audit-1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

// storeBackedSender answers the data RPCs the JSON reporter uses from db.
func storeBackedSender(t *testing.T, db *store.Store) message.Sender {
	t.Helper()
	reg := rpc.NewRegistry()
	reg.MustRegister(message.RPCDataKeys, func(ctx context.Context, _ string, _ []any, _ map[string]any) (any, error) {
		return db.Keys(ctx, store.Filter{})
	})
	reg.MustRegister(message.RPCDataGetMany, func(ctx context.Context, _ string, args []any, _ map[string]any) (any, error) {
		ids, err := rpc.ArgStrings(args, 0)
		if err != nil {
			return nil, err
		}
		return db.GetMany(ctx, ids)
	})
	d := rpc.NewDispatcher(reg)
	return message.SenderFunc(func(m message.Message) bool {
		if m.Type() == message.TypeRPC {
			require.NoError(t, d.Execute(context.Background(), m.Payload().(*rpc.Call)))
		}
		return true
	})
}

func TestJSONReporter_WritesDatabase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dom, err := data.NewDomain("example.com")
	require.NoError(t, err)
	vuln, err := data.NewVulnerability("xss", map[string]string{"param": "q"}, nil, dom)
	require.NoError(t, err)
	for _, d := range []data.Data{dom, vuln} {
		_, err := db.Add(ctx, d)
		require.NoError(t, err)
	}

	out := filepath.Join(dir, "report.json")
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	pc := plugin.NewContext("audit-1", "report/json", storeBackedSender(t, db))

	rep := NewJSONReporter()
	require.True(t, rep.IsSupported(out))
	require.NoError(t, rep.GenerateReport(ctx, pc, message.ReportRequest{OutputFile: out, StartTime: start}))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	var got struct {
		Audit     string            `json:"audit"`
		StartTime time.Time         `json:"start_time"`
		StopTime  *time.Time        `json:"stop_time"`
		Summary   map[string]int    `json:"summary"`
		Data      []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "audit-1", got.Audit)
	assert.True(t, start.Equal(got.StartTime))
	assert.Nil(t, got.StopTime)
	assert.Equal(t, map[string]int{"resource": 1, "vulnerability": 1}, got.Summary)
	require.Len(t, got.Data, 2)

	var first data.Record
	require.NoError(t, json.Unmarshal(got.Data[0], &first))
	assert.Equal(t, dom.Identity(), first.Identity())
}

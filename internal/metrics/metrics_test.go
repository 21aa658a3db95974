package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditcore/internal/audit"
	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/rpc"
)

func newMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New()
	require.NoError(t, err)
	return m
}

func TestMetrics_ObserveMessage(t *testing.T) {
	m := newMetrics(t)
	u, err := data.NewURL("http://example.com/")
	require.NoError(t, err)

	m.ObserveMessage(message.NewData("a1", u))
	m.ObserveMessage(message.NewData("a1", u))
	m.ObserveMessage(message.NewACK("a1"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("data", "DATA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("control", "ACK")))
}

func TestMetrics_QueueLength(t *testing.T) {
	m := newMetrics(t)
	m.SetQueueLength(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueLength))
	m.SetQueueLength(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueLength))
}

func TestMetrics_RPCObserver(t *testing.T) {
	m := newMetrics(t)
	observe := m.RPCObserver()

	observe(message.RPCDataAdd, "", 2*time.Millisecond)
	observe(message.RPCDataAdd, rpc.KindInvalidArgument, time.Millisecond)
	observe(message.RPCCacheGet, "", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcCallsTotal.WithLabelValues("DATA_ADD", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcCallsTotal.WithLabelValues("DATA_ADD", "invalid_argument")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcCallsTotal.WithLabelValues("CACHE_GET", "ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.rpcDurationSeconds))
}

func TestMetrics_RPCObserverFromDispatcher(t *testing.T) {
	m := newMetrics(t)
	reg := rpc.NewRegistry()
	reg.MustRegister(message.RPCDataCount, func(context.Context, string, []any, map[string]any) (any, error) {
		return 3, nil
	})
	d := rpc.NewDispatcher(reg, rpc.WithObserver(m.RPCObserver()))

	call, ch := rpc.NewSyncCall("a1", message.RPCDataCount)
	require.NoError(t, d.Execute(context.Background(), call))
	got, err := rpc.Wait(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	call, ch = rpc.NewSyncCall("a1", message.RPCStateKeys)
	require.NoError(t, d.Execute(context.Background(), call))
	_, err = rpc.Wait(context.Background(), ch)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcCallsTotal.WithLabelValues("DATA_COUNT", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcCallsTotal.WithLabelValues("STATE_KEYS", "not_implemented")))
}

func TestMetrics_AuditObserver(t *testing.T) {
	m := newMetrics(t)

	m.AuditAdded("a1")
	m.AuditAdded("a2")
	m.AuditRemoved("a1")
	m.Dispatched("a2", audit.Result{Outcome: audit.Forwarded, Delivered: 2})
	m.Dispatched("a2", audit.Result{Outcome: audit.Dropped, Reason: audit.ReasonLinkBudget})
	m.Dispatched("a2", audit.Result{Outcome: audit.Dropped, Reason: audit.ReasonLinkBudget})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.auditsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditsRemoved))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeAudits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("forwarded", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("dropped", "link_budget")))
}

func TestMetrics_Exposition(t *testing.T) {
	m := newMetrics(t)
	m.AuditAdded("a1")

	expected := `
# HELP auditcore_active_audits Audits currently registered
# TYPE auditcore_active_audits gauge
auditcore_active_audits 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "auditcore_active_audits"))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := newMetrics(t)
	b := newMetrics(t)

	a.AuditAdded("x")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.activeAudits))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.activeAudits))
}

func TestServer_ServesMetrics(t *testing.T) {
	m := newMetrics(t)
	m.SetQueueLength(3)

	srv, err := m.Serve("127.0.0.1:0", "/metrics")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "auditcore_queue_length 3")
}

func TestServer_ShutdownIdempotent(t *testing.T) {
	m := newMetrics(t)
	srv, err := m.Serve("127.0.0.1:0", "/metrics")
	require.NoError(t, err)

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.Shutdown(context.Background()))

	_, err = http.Get("http://" + srv.Addr() + "/metrics")
	assert.Error(t, err)
}

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/notify"
)

// ErrHostClosed is returned when delivering to a stopped host.
var ErrHostClosed = errors.New("plugin: host closed")

// DefaultWorkers is used when NewHost is given a non-positive count.
const DefaultWorkers = 4

type job struct {
	plugin Plugin
	audit  string
	msg    message.Message
}

// Host runs plugin deliveries on a fixed pool of workers.
//
// Deliveries are queued without bound so the consumer loop never blocks on
// a busy plugin. After a counted delivery (data or START_REPORT) returns,
// the host sends exactly one ACK for it, whether the plugin succeeded,
// failed or panicked.
type Host struct {
	sender  message.Sender
	workers int

	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{}
	active int

	wg sync.WaitGroup
}

// NewHost creates a host that reports back through sender.
func NewHost(sender message.Sender, workers int) *Host {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Host{
		sender:  sender,
		workers: workers,
		signal:  make(chan struct{}, 1),
	}
}

// Start launches the workers. They exit when ctx ends or Stop is called
// and the queue has drained.
func (h *Host) Start(ctx context.Context) {
	for i := 0; i < h.workers; i++ {
		h.wg.Add(1)
		go h.work(ctx)
	}
}

// Stop rejects new deliveries and waits for queued ones to finish.
func (h *Host) Stop() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.signal)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// Pending returns the number of queued plus running deliveries.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs) + h.active
}

// Attach binds p to an audit, giving the Receiver a Notifier delivers to.
func (h *Host) Attach(p Plugin, audit string) notify.Receiver {
	return &hosted{host: h, plugin: p, audit: audit}
}

func (h *Host) push(j job) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHostClosed
	}
	h.jobs = append(h.jobs, j)
	select {
	case h.signal <- struct{}{}:
	default:
	}
	return nil
}

func (h *Host) pop() (job, bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.jobs) == 0 {
		return job{}, false, h.closed
	}
	j := h.jobs[0]
	h.jobs[0] = job{}
	h.jobs = h.jobs[1:]
	h.active++
	// More work left: pass the wakeup on to another worker.
	if len(h.jobs) > 0 && !h.closed {
		select {
		case h.signal <- struct{}{}:
		default:
		}
	}
	return j, true, h.closed
}

func (h *Host) done() {
	h.mu.Lock()
	h.active--
	h.mu.Unlock()
}

func (h *Host) work(ctx context.Context) {
	defer h.wg.Done()
	for {
		j, ok, closed := h.pop()
		if ok {
			h.run(ctx, j)
			h.done()
			continue
		}
		if closed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-h.signal:
		}
	}
}

func (h *Host) run(ctx context.Context, j job) {
	pc := NewContext(j.audit, j.plugin.Name(), h.sender)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("plugin panic",
				"audit", j.audit,
				"plugin", j.plugin.Name(),
				"panic", fmt.Sprint(r),
			)
			pc.reportError(fmt.Sprintf("panic: %v", r), string(debug.Stack()))
		}
		if notify.ExpectsACK(j.msg) {
			if !h.sender.Enqueue(message.NewACK(j.audit)) {
				slog.Warn("ack dropped, queue closed", "audit", j.audit, "plugin", j.plugin.Name())
			}
		}
	}()

	if err := h.dispatch(ctx, pc, j); err != nil {
		slog.Warn("plugin failed",
			"audit", j.audit,
			"plugin", j.plugin.Name(),
			"message", j.msg.String(),
			"error", err,
		)
		pc.Error(err)
	}
}

func (h *Host) dispatch(ctx context.Context, pc *Context, j job) error {
	switch {
	case j.msg.Type() == message.TypeData:
		d, ok := j.msg.Payload().(data.Data)
		if !ok {
			return fmt.Errorf("data message carries %T", j.msg.Payload())
		}
		return j.plugin.RecvInfo(ctx, pc, d)

	case j.msg.IsControl(message.ControlStartReport):
		rep, ok := j.plugin.(Reporter)
		if !ok {
			return j.plugin.RecvMsg(ctx, pc, j.msg)
		}
		req, ok := j.msg.Payload().(message.ReportRequest)
		if !ok {
			return fmt.Errorf("start report carries %T", j.msg.Payload())
		}
		return rep.GenerateReport(ctx, pc, req)

	default:
		return j.plugin.RecvMsg(ctx, pc, j.msg)
	}
}

// hosted is a plugin attached to one audit.
type hosted struct {
	host   *Host
	plugin Plugin
	audit  string
}

func (r *hosted) Name() string             { return r.plugin.Name() }
func (r *hosted) AcceptedInfo() []data.Tag { return r.plugin.AcceptedInfo() }

func (r *hosted) Deliver(_ context.Context, msg message.Message) error {
	return r.host.push(job{plugin: r.plugin, audit: r.audit, msg: msg})
}

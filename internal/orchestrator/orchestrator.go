// Package orchestrator wires the audit engine together and runs its
// consumer loop.
//
// Every message, whether emitted by a plugin, an audit or the CLI, goes
// through one priority queue. A single goroutine (Run) drains it: RPC calls
// go to the dispatcher, everything else is published on the bus, where the
// audit manager sees it first and the UI manager second. All audit state is
// therefore mutated from that goroutine only.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/auditcore/internal/audit"
	"github.com/roach88/auditcore/internal/bus"
	"github.com/roach88/auditcore/internal/cache"
	"github.com/roach88/auditcore/internal/config"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/metrics"
	"github.com/roach88/auditcore/internal/netslot"
	"github.com/roach88/auditcore/internal/plugin"
	"github.com/roach88/auditcore/internal/report"
	"github.com/roach88/auditcore/internal/rpc"
	"github.com/roach88/auditcore/internal/store"
	"github.com/roach88/auditcore/internal/ui"
)

var (
	// ErrStopTimeout is returned by Stop when the loop outlives the timeout.
	ErrStopTimeout = errors.New("orchestrator: stop timed out")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("orchestrator: already running")
)

// Options are the optional collaborators of New.
type Options struct {
	// Metrics receives loop, RPC and audit counters. When nil and metrics
	// are enabled in the config, New creates one.
	Metrics *metrics.Metrics
	// Tracer overrides the global OpenTelemetry tracer for RPC spans.
	Tracer trace.Tracer
	// Cache overrides the configured backend.
	Cache cache.Cache
	Now   func() time.Time
}

// Orchestrator is the composition root.
type Orchestrator struct {
	cfg *config.Config

	queue   *message.Queue
	host    *plugin.Host
	uiHost  *plugin.Host
	slots   *netslot.Manager
	cache   cache.Cache
	reports *report.Manager
	audits  *audit.Manager
	ui      *ui.Manager
	bus     *bus.Bus
	rpc     *rpc.Dispatcher
	metrics *metrics.Metrics

	sawAudit bool

	running  atomic.Bool
	cancel   context.CancelFunc
	cancelMu sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// New builds every component from cfg. plugins holds the testing, report
// and UI plugins available to audits.
func New(cfg *config.Config, plugins *plugin.Registry, opts Options) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if plugins == nil {
		plugins = plugin.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Orchestrator{
		cfg:   cfg,
		queue: message.NewQueue(nil),
		done:  make(chan struct{}),
	}
	o.host = plugin.NewHost(o.queue, cfg.Orchestrator.Workers)
	// One worker keeps UI output in queue order.
	o.uiHost = plugin.NewHost(ui.DropACKs(o.queue), 1)
	o.slots = netslot.New(netslot.Config{
		MaxPerHost:     cfg.Network.MaxConnectionsPerHost,
		SlotsPerSecond: cfg.Network.SlotsPerSecond,
		Burst:          cfg.Network.Burst,
	})

	o.cache = opts.Cache
	if o.cache == nil {
		c, err := cache.New(cache.Config{
			Backend: cfg.Cache.Backend,
			Redis: cache.RedisConfig{
				Addr:      cfg.Cache.Redis.Addr,
				Password:  cfg.Cache.Redis.Password,
				DB:        cfg.Cache.Redis.DB,
				KeyPrefix: cfg.Cache.Redis.KeyPrefix,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: cache: %w", err)
		}
		o.cache = c
	}

	o.metrics = opts.Metrics
	if o.metrics == nil && cfg.Metrics.Enabled {
		m, err := metrics.New()
		if err != nil {
			o.cache.Close()
			return nil, err
		}
		o.metrics = m
	}

	o.reports = report.NewManager(o.host, plugins.Reporters())

	deps := audit.Deps{
		Sender:  o.queue,
		OpenDB:  o.openDB,
		Plugins: plugins,
		Host:    o.host,
		Reports: o.reports,
		Slots:   o.slots,
		Cache:   o.cache,
		Now:     opts.Now,
	}
	if o.metrics != nil {
		deps.Observer = o.metrics
	}
	am, err := audit.NewManager(deps)
	if err != nil {
		o.cache.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	o.audits = am

	var uiPlugins []plugin.Plugin
	if cfg.UI.Mode != "none" {
		uiPlugins, err = plugins.Load(plugin.CategoryUI, nil, nil)
		if err != nil {
			o.cache.Close()
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
	}
	o.ui = ui.NewManager(o.uiHost, uiPlugins)

	o.bus = bus.New()
	o.bus.Register(o.audits)
	o.bus.Register(o.ui)

	reg := rpc.NewRegistry()
	if err := o.registerHandlers(reg); err != nil {
		o.cache.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	var dopts []rpc.Option
	if opts.Tracer != nil {
		dopts = append(dopts, rpc.WithTracer(opts.Tracer))
	}
	if o.metrics != nil {
		dopts = append(dopts, rpc.WithObserver(o.metrics.RPCObserver()))
	}
	o.rpc = rpc.NewDispatcher(reg, dopts...)

	return o, nil
}

// Audits returns the audit registry.
func (o *Orchestrator) Audits() *audit.Manager { return o.audits }

// Metrics returns the metrics collectors, or nil when disabled.
func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }

// Enqueue submits a message to the loop. It returns false once the
// orchestrator has shut down.
func (o *Orchestrator) Enqueue(m message.Message) bool {
	return o.queue.Enqueue(m)
}

// StartAudit queues the creation of an audit.
func (o *Orchestrator) StartAudit(cfg config.Audit) bool {
	return o.Enqueue(message.NewControl(message.ControlStartAudit, cfg.AuditName, cfg, message.PriorityMedium))
}

// Run drains the queue until ctx ends, a global STOP arrives, the queue is
// closed, or, with exit_when_idle, the last audit is gone. On return every
// audit has been torn down and the plugin workers have stopped.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancelMu.Lock()
	o.cancel = cancel
	o.cancelMu.Unlock()
	defer cancel()

	var srv *metrics.Server
	if o.metrics != nil && o.cfg.Metrics.Enabled {
		srv, err = o.metrics.Serve(o.cfg.Metrics.Addr, o.cfg.Metrics.Path)
		if err != nil {
			o.queue.Close()
			return errors.Join(err, o.cache.Close())
		}
	}

	o.host.Start(loopCtx)
	o.uiHost.Start(loopCtx)
	o.ui.Start(loopCtx)
	slog.Info("orchestrator starting",
		"workers", o.cfg.Orchestrator.Workers,
		"ui", o.ui.Plugins(),
	)

	err = o.loop(loopCtx)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Cancelled by Stop.
		err = nil
	}
	return errors.Join(err, o.shutdown(context.WithoutCancel(ctx), cancel, srv))
}

func (o *Orchestrator) loop(ctx context.Context) error {
	for {
		msg, ok := o.queue.TryDequeue()
		if ok {
			if o.metrics != nil {
				o.metrics.ObserveMessage(msg)
				o.metrics.SetQueueLength(o.queue.Len())
			}
			if stop := o.process(ctx, msg); stop {
				slog.Info("orchestrator stopping: stop requested")
				return nil
			}
			if o.idle() {
				slog.Info("orchestrator stopping: no audits left")
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("orchestrator stopping: context cancelled")
			return ctx.Err()
		case <-o.queue.Wait():
			if o.queue.Closed() && o.queue.Len() == 0 {
				slog.Info("orchestrator stopping: queue closed")
				return nil
			}
		}
	}
}

// process handles one message and reports whether the loop must end.
// Failures are logged; none of them stops the loop.
func (o *Orchestrator) process(ctx context.Context, msg message.Message) bool {
	if msg.Type() == message.TypeRPC {
		call, ok := msg.Payload().(*rpc.Call)
		if !ok {
			slog.Error("rpc message without call", "message", msg.String())
			return false
		}
		if err := o.rpc.Execute(ctx, call); err != nil {
			slog.Error("rpc dispatch failed",
				"audit", call.AuditName,
				"code", message.CodeName(message.TypeRPC, call.Code),
				"error", err,
			)
		}
		return false
	}

	if msg.IsControl(message.ControlStop) && msg.AuditName() == "" {
		return true
	}

	if err := o.bus.Publish(ctx, msg); err != nil {
		slog.Error("message processing failed",
			"audit", msg.AuditName(),
			"message", msg.String(),
			"error", err,
		)
	}
	if msg.IsControl(message.ControlStartAudit) || o.audits.HasAudits() {
		o.sawAudit = true
	}
	return false
}

func (o *Orchestrator) idle() bool {
	return o.cfg.Orchestrator.ExitWhenIdle &&
		o.sawAudit &&
		!o.audits.HasAudits() &&
		o.queue.Len() == 0
}

// shutdown tears the components down once the loop has returned.
func (o *Orchestrator) shutdown(ctx context.Context, cancel context.CancelFunc, srv *metrics.Server) error {
	var errs []error
	if err := o.audits.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	o.ui.Stop(ctx)
	o.uiHost.Stop()
	// Unblock plugins still waiting on RPC answers.
	cancel()
	o.host.Stop()
	o.queue.Close()

	if err := o.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if srv != nil {
		sctx, scancel := context.WithTimeout(ctx, o.cfg.Orchestrator.StopTimeout)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	slog.Info("orchestrator stopped")
	return errors.Join(errs...)
}

// Stop asks the loop to finish and waits up to timeout for Run to return.
// Past the timeout the loop context is cancelled and ErrStopTimeout is
// returned; Run still completes its teardown afterwards.
func (o *Orchestrator) Stop(timeout time.Duration) error {
	if !o.running.Load() {
		return nil
	}
	o.stopOnce.Do(func() {
		o.queue.Enqueue(message.NewControl(message.ControlStop, "", nil, message.PriorityHigh))
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-o.done:
		return nil
	case <-timer.C:
		o.cancelMu.Lock()
		if o.cancel != nil {
			o.cancel()
		}
		o.cancelMu.Unlock()
		return fmt.Errorf("%w after %s", ErrStopTimeout, timeout)
	}
}

// Done is closed when Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// openDB opens the database of a new audit: the configured path, or
// <database_dir>/<name>.db.
func (o *Orchestrator) openDB(name string, cfg config.Audit) (store.Database, error) {
	path := cfg.Database
	if path == "" {
		path = filepath.Join(o.cfg.Orchestrator.DatabaseDir, name+".db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

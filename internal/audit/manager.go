package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/roach88/auditcore/internal/config"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/notify"
	"github.com/roach88/auditcore/internal/plugin"
	"github.com/roach88/auditcore/internal/report"
	"github.com/roach88/auditcore/internal/store"
)

// PluginSource selects plugins by category. *plugin.Registry implements it.
type PluginSource interface {
	Load(category plugin.Category, enabled, disabled []string) ([]plugin.Plugin, error)
}

// Attacher binds a plugin to an audit. *plugin.Host implements it.
type Attacher interface {
	Attach(p plugin.Plugin, audit string) notify.Receiver
}

// ReportLauncher starts report plugins. *report.Manager implements it.
type ReportLauncher interface {
	Launch(ctx context.Context, job report.Job) (int, error)
}

// SlotReleaser frees the network slots of an audit. *netslot.Manager
// implements it.
type SlotReleaser interface {
	ReleaseAll(audit string) int
}

// CacheCleaner evicts the cache entries of an audit. cache.Cache
// implements it.
type CacheCleaner interface {
	Clean(ctx context.Context, audit string) error
}

// Observer is told about audit lifecycle and dispatch outcomes.
type Observer interface {
	AuditAdded(name string)
	AuditRemoved(name string)
	Dispatched(name string, res Result)
}

// Deps are the collaborators shared by every audit.
type Deps struct {
	// Sender is where audits enqueue the messages they emit. Required.
	Sender message.Sender
	// OpenDB opens the database of a new audit. Required.
	OpenDB func(name string, cfg config.Audit) (store.Database, error)

	Plugins  PluginSource
	Host     Attacher
	Reports  ReportLauncher
	Slots    SlotReleaser
	Cache    CacheCleaner
	Observer Observer
	Now      func() time.Time
}

// Manager is the registry of running audits.
type Manager struct {
	deps Deps

	mu     sync.RWMutex
	audits map[string]*Audit
}

// NewManager creates an empty registry.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Sender == nil {
		return nil, errors.New("audit manager: sender is required")
	}
	if deps.OpenDB == nil {
		return nil, errors.New("audit manager: database opener is required")
	}
	if deps.Plugins != nil && deps.Host == nil {
		return nil, errors.New("audit manager: plugins need a host")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{deps: deps, audits: make(map[string]*Audit)}, nil
}

// NewAudit validates cfg, registers the audit and starts it. If starting
// fails the audit is removed again.
func (m *Manager) NewAudit(ctx context.Context, cfg config.Audit) (*Audit, error) {
	if errs := config.ValidateAudit(cfg); len(errs) > 0 {
		all := make([]error, len(errs))
		for i, e := range errs {
			all[i] = e
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(all...))
	}

	name, err := m.allocateName(cfg.AuditName)
	if err != nil {
		return nil, err
	}
	cfg.AuditName = name

	db, err := m.deps.OpenDB(name, cfg)
	if err != nil {
		m.release(name)
		return nil, fmt.Errorf("audit %s: open database: %w", name, err)
	}

	a := newAudit(name, cfg, db, &m.deps)
	m.mu.Lock()
	m.audits[name] = a
	m.mu.Unlock()
	if m.deps.Observer != nil {
		m.deps.Observer.AuditAdded(name)
	}

	if err := a.Run(ctx); err != nil {
		if rerr := m.RemoveAudit(ctx, name); rerr != nil {
			slog.Warn("cleanup after failed start", "audit", name, "error", rerr)
		}
		return nil, err
	}
	return a, nil
}

// allocateName reserves name, or a generated one when empty. The slot holds
// a nil audit until NewAudit stores the real one.
func (m *Manager) allocateName(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name != "" {
		if _, ok := m.audits[name]; ok {
			return "", fmt.Errorf("%w: %s", ErrDuplicateAudit, name)
		}
		m.audits[name] = nil
		return name, nil
	}

	base := "audit-" + m.deps.Now().Format("2006-01-02-15_04")
	name = base
	for n := 2; ; n++ {
		if _, ok := m.audits[name]; !ok {
			break
		}
		name = fmt.Sprintf("%s-%d", base, n)
	}
	m.audits[name] = nil
	return name, nil
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audits[name] == nil {
		delete(m.audits, name)
	}
}

// GetAudit returns a running audit.
func (m *Manager) GetAudit(name string) (*Audit, error) {
	m.mu.RLock()
	a := m.audits[name]
	m.mu.RUnlock()
	if a == nil {
		return nil, fmt.Errorf("%w: %q", ErrAuditNotFound, name)
	}
	return a, nil
}

// Audits returns the names of running audits, sorted.
func (m *Manager) Audits() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.audits))
	for name, a := range m.audits {
		if a != nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// HasAudits reports whether any audit is running.
func (m *Manager) HasAudits() bool {
	return len(m.Audits()) > 0
}

// RemoveAudit tears an audit down: its network slots are released, it is
// closed, dropped from the registry and its cache entries are evicted.
// Every step runs even when an earlier one fails; the errors are joined.
func (m *Manager) RemoveAudit(ctx context.Context, name string) error {
	var errs []error

	if m.deps.Slots != nil {
		errs = appendStep(errs, "release slots", func() error {
			if n := m.deps.Slots.ReleaseAll(name); n > 0 {
				slog.Debug("released network slots", "audit", name, "slots", n)
			}
			return nil
		})
	}

	a, err := m.GetAudit(name)
	if err != nil {
		errs = append(errs, err)
	} else {
		errs = appendStep(errs, "close", func() error { return a.Close(ctx) })
	}

	m.mu.Lock()
	_, known := m.audits[name]
	delete(m.audits, name)
	m.mu.Unlock()

	if m.deps.Cache != nil {
		errs = appendStep(errs, "clean cache", func() error { return m.deps.Cache.Clean(ctx, name) })
	}

	if known && m.deps.Observer != nil {
		m.deps.Observer.AuditRemoved(name)
	}
	slog.Info("audit removed", "audit", name)
	return errors.Join(errs...)
}

// appendStep runs one teardown step, turning a panic into an error so the
// remaining steps still run.
func appendStep(errs []error, step string, fn func() error) []error {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		return fn()
	}()
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", step, err))
	}
	return errs
}

// DispatchMsg handles a message from the bus. It reports whether the
// message was forwarded to plugins.
//
// Data goes to the owning audit. An ACK is counted against its audit; when
// the audit expects no more ACKs its reports are launched, or, if they
// already ran, a STOP_AUDIT is queued. STOP_AUDIT removes the audit and
// START_AUDIT creates one. Anything else passes through.
func (m *Manager) DispatchMsg(ctx context.Context, msg message.Message) (bool, error) {
	switch {
	case msg.Type() == message.TypeData:
		if msg.AuditName() == "" {
			return false, ErrMissingAudit
		}
		a, err := m.GetAudit(msg.AuditName())
		if err != nil {
			return false, err
		}
		res, err := a.DispatchMsg(ctx, msg)
		if err != nil {
			return false, err
		}
		if m.deps.Observer != nil {
			m.deps.Observer.Dispatched(a.Name(), res)
		}
		if res.Outcome == Dropped {
			slog.Warn("data dropped",
				"audit", a.Name(),
				"reason", res.Reason.String(),
				"message", msg.String(),
			)
		}
		return res.Outcome == Forwarded, nil

	case msg.IsACK():
		if msg.AuditName() == "" {
			return true, nil
		}
		return true, m.acknowledge(ctx, msg.AuditName())

	case msg.IsControl(message.ControlStopAudit):
		if msg.AuditName() == "" {
			return false, ErrMissingAudit
		}
		finished, _ := msg.Payload().(bool)
		slog.Info("stopping audit", "audit", msg.AuditName(), "finished", finished)
		return true, m.RemoveAudit(ctx, msg.AuditName())

	case msg.IsControl(message.ControlStartAudit):
		cfg, err := auditConfig(msg.Payload())
		if err != nil {
			return false, err
		}
		_, err = m.NewAudit(ctx, cfg)
		return err == nil, err
	}
	return true, nil
}

// Receive is the bus listener hook.
func (m *Manager) Receive(ctx context.Context, msg message.Message) error {
	_, err := m.DispatchMsg(ctx, msg)
	return err
}

func (m *Manager) acknowledge(ctx context.Context, name string) error {
	a, err := m.GetAudit(name)
	if err != nil {
		return err
	}
	// Only an unexpected ACK leaves the count untouched; any other failure
	// still lets the audit advance.
	ackErr := a.Acknowledge(ctx)
	if errors.Is(ackErr, ErrUnexpectedACK) {
		return ackErr
	}
	if a.ExpectingACK() != 0 {
		return ackErr
	}

	if !a.ReportStarted() {
		return errors.Join(ackErr, a.GenerateReports(ctx))
	}
	stop := message.NewControl(message.ControlStopAudit, name, true, message.PriorityMedium)
	if !m.deps.Sender.Enqueue(stop) {
		return errors.Join(ackErr, fmt.Errorf("audit %s: queue closed before stop", name))
	}
	return ackErr
}

func auditConfig(payload any) (config.Audit, error) {
	switch cfg := payload.(type) {
	case config.Audit:
		return cfg, nil
	case *config.Audit:
		if cfg != nil {
			return *cfg, nil
		}
	}
	return config.Audit{}, fmt.Errorf("%w: START_AUDIT carries %T", ErrInvalidPayload, payload)
}

// Close removes every audit. Individual failures are logged and joined.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, name := range m.Audits() {
		if err := m.RemoveAudit(ctx, name); err != nil {
			slog.Warn("audit teardown failed", "audit", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package audit tracks each running audit from its first target to its
// final report.
//
// An Audit is mutated only from the orchestrator's consumer loop. It counts
// the ACKs owed by plugin deliveries; when the count returns to zero the
// Manager advances the audit to report generation and then to teardown.
// Every code path that raises the count also enqueues the ACK that lowers
// it again, so the count converges as long as plugins answer.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/auditcore/internal/config"
	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/notify"
	"github.com/roach88/auditcore/internal/plugin"
	"github.com/roach88/auditcore/internal/report"
	"github.com/roach88/auditcore/internal/store"
)

// Audit is one scan campaign.
type Audit struct {
	name     string
	cfg      config.Audit
	db       store.Database
	notifier *notify.Notifier
	deps     *Deps

	expectingACK int

	// Vulnerabilities waiting for the resources they link to.
	orphans     map[string]data.Data
	orphanOrder []string

	followedLinks int
	linkWarned    bool

	reportStarted bool
	state         State
	closed        bool
}

func newAudit(name string, cfg config.Audit, db store.Database, deps *Deps) *Audit {
	return &Audit{
		name:     name,
		cfg:      cfg,
		db:       db,
		notifier: notify.New(),
		deps:     deps,
		orphans:  make(map[string]data.Data),
		state:    StateStarting,
	}
}

func (a *Audit) Name() string             { return a.name }
func (a *Audit) Config() config.Audit     { return a.cfg }
func (a *Audit) Database() store.Database { return a.db }
func (a *Audit) ExpectingACK() int        { return a.expectingACK }
func (a *Audit) ReportStarted() bool      { return a.reportStarted }
func (a *Audit) State() State             { return a.state }
func (a *Audit) OrphanCount() int         { return len(a.orphans) }
func (a *Audit) FollowedLinks() int       { return a.followedLinks }

// Plugins returns the names of the plugins attached to the audit.
func (a *Audit) Plugins() []string { return a.notifier.Plugins() }

// Run loads the testing plugins and emits one URL resource per target.
// The targets count one extra ACK, sent right after them, so an audit
// whose targets reach no plugin still finishes.
func (a *Audit) Run(ctx context.Context) error {
	a.expectingACK = 0

	targets := make([]*data.Record, 0, len(a.cfg.Targets))
	for _, t := range a.cfg.Targets {
		u, err := data.NewURL(t)
		if err != nil {
			return fmt.Errorf("audit %s: target: %w", a.name, err)
		}
		targets = append(targets, u)
	}

	if a.deps.Plugins != nil {
		plugins, err := a.deps.Plugins.Load(plugin.CategoryTesting, a.cfg.EnabledPlugins, a.cfg.DisabledPlugins)
		if err != nil {
			return fmt.Errorf("audit %s: %w", a.name, err)
		}
		for _, p := range plugins {
			a.notifier.AddPlugin(a.deps.Host.Attach(p, a.name))
		}
	}

	if err := a.db.SetAuditTime(ctx, store.TimeStart, a.deps.Now()); err != nil {
		return fmt.Errorf("audit %s: record start time: %w", a.name, err)
	}

	a.state = StateRunning
	slog.Info("audit started",
		"audit", a.name,
		"targets", len(targets),
		"plugins", len(a.notifier.Plugins()),
	)

	a.expectingACK++
	defer a.sendACK()
	for _, t := range targets {
		a.send(message.NewData(a.name, t))
	}
	return nil
}

// DispatchMsg routes a data message addressed to this audit through the
// orphan, link budget and duplicate checks before it reaches the plugins.
// Control messages are handled by the Manager and rejected here.
func (a *Audit) DispatchMsg(ctx context.Context, msg message.Message) (Result, error) {
	if msg.Type() != message.TypeData {
		return Result{}, fmt.Errorf("%w: audit %s got %s", ErrInvalidPayload, a.name, msg.String())
	}

	d, ok := msg.Payload().(data.Data)
	if !ok || d == nil {
		return Result{}, fmt.Errorf("%w: data message carries %T", ErrInvalidPayload, msg.Payload())
	}

	if d.Kind() == data.KindVulnerability {
		orphan, err := a.checkOrphan(ctx, d)
		if err != nil {
			return Result{}, err
		}
		if _, tracked := a.orphans[d.Identity()]; tracked || orphan {
			a.trackOrphan(d)
			slog.Debug("vulnerability withheld until its resources arrive",
				"audit", a.name,
				"identity", d.Identity(),
			)
			return Result{Outcome: Orphaned}, nil
		}
	}

	if d.Kind() == data.KindResource && d.Subtype() == data.SubtypeURL {
		a.followedLinks++
		if a.cfg.MaxLinks > 0 && a.followedLinks > a.cfg.MaxLinks {
			a.warnLinkBudget()
			a.expectingACK++
			a.sendACK()
			return Result{Outcome: Dropped, Reason: ReasonLinkBudget}, nil
		}
	}

	isNew, err := a.db.Add(ctx, d)
	if err != nil {
		return Result{}, fmt.Errorf("audit %s: store %s: %w", a.name, d.Identity(), err)
	}
	if !isNew {
		a.expectingACK++
		a.sendACK()
		return Result{Outcome: Dropped, Reason: ReasonDuplicate}, nil
	}

	n := a.notifier.Notify(ctx, msg)
	a.expectingACK += n

	if found := d.Discovered(); len(found) > 0 {
		a.expectingACK++
		defer a.sendACK()
		for _, f := range found {
			has, err := a.db.HasKey(ctx, f.Identity(), f.Kind())
			if err != nil {
				return Result{Outcome: Forwarded, Delivered: n},
					fmt.Errorf("audit %s: check discovered %s: %w", a.name, f.Identity(), err)
			}
			if !has {
				a.send(message.NewData(a.name, f))
			}
		}
	}
	return Result{Outcome: Forwarded, Delivered: n}, nil
}

// Acknowledge consumes one ACK and re-submits every orphan whose resources
// are now all stored. An orphan that cannot be checked stays in the table
// for the next ACK; the failures are returned after the ACK is counted.
func (a *Audit) Acknowledge(ctx context.Context) error {
	if a.expectingACK == 0 {
		return fmt.Errorf("%w: audit %s", ErrUnexpectedACK, a.name)
	}
	a.expectingACK--
	defer a.advance()

	var ready []string
	var errs []error
	for _, id := range a.orphanOrder {
		orphan, err := a.checkOrphan(ctx, a.orphans[id])
		if err != nil {
			slog.Warn("orphan check failed, retrying on next ACK",
				"audit", a.name,
				"identity", id,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		if !orphan {
			ready = append(ready, id)
		}
	}
	if len(ready) == 0 {
		return errors.Join(errs...)
	}

	a.expectingACK++
	defer a.sendACK()
	for _, id := range ready {
		d := a.orphans[id]
		delete(a.orphans, id)
		a.send(message.NewData(a.name, d))
	}
	a.orphanOrder = slices.DeleteFunc(a.orphanOrder, func(id string) bool {
		_, still := a.orphans[id]
		return !still
	})
	return errors.Join(errs...)
}

// GenerateReports launches the configured reporters. It may run once.
func (a *Audit) GenerateReports(ctx context.Context) error {
	if a.reportStarted {
		return fmt.Errorf("%w: audit %s", ErrDuplicateReportRequest, a.name)
	}
	a.reportStarted = true
	a.state = StateReporting

	a.expectingACK++
	defer a.sendACK()

	if n := len(a.orphans); n > 0 {
		slog.Warn("vulnerabilities never matched their resources",
			"audit", a.name,
			"orphans", n,
		)
	}

	stop := a.deps.Now()
	if err := a.db.SetAuditTime(ctx, store.TimeStop, stop); err != nil {
		slog.Warn("failed to record stop time", "audit", a.name, "error", err)
	}
	start, _, err := a.db.AuditTimes(ctx)
	if err != nil {
		slog.Warn("failed to read audit times", "audit", a.name, "error", err)
	}

	if a.deps.Reports == nil || len(a.cfg.Reports) == 0 {
		return nil
	}
	n, err := a.deps.Reports.Launch(ctx, report.Job{
		Audit:     a.name,
		Outputs:   a.cfg.Reports,
		Start:     start,
		Stop:      stop,
		OnlyVulns: a.cfg.OnlyVulns,
	})
	a.expectingACK += n
	if err != nil {
		return fmt.Errorf("audit %s: %w", a.name, err)
	}
	return nil
}

// Close compacts and closes the audit database. Compaction failing does
// not prevent the close. Calling Close again does nothing.
func (a *Audit) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.state = StateFinished

	var errs []error
	if err := a.db.Compact(ctx); err != nil {
		errs = append(errs, fmt.Errorf("compact: %w", err))
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("audit %s: %w", a.name, err)
	}
	return nil
}

// checkOrphan reports whether vulnerability d must wait. Only resource
// links are supported.
func (a *Audit) checkOrphan(ctx context.Context, d data.Data) (bool, error) {
	var missing bool
	for _, l := range d.Links() {
		if l.Kind != data.KindResource {
			return false, fmt.Errorf("%w: %s links to %s %s", ErrUnsupportedLink, d.Identity(), l.Kind, l.Identity)
		}
		if missing {
			continue
		}
		has, err := a.db.HasKey(ctx, l.Identity, data.KindResource)
		if err != nil {
			return false, fmt.Errorf("audit %s: check link %s: %w", a.name, l.Identity, err)
		}
		if !has {
			missing = true
		}
	}
	return missing, nil
}

func (a *Audit) trackOrphan(d data.Data) {
	id := d.Identity()
	if _, ok := a.orphans[id]; !ok {
		a.orphanOrder = append(a.orphanOrder, id)
	}
	a.orphans[id] = d
}

func (a *Audit) warnLinkBudget() {
	if a.linkWarned {
		slog.Debug("url dropped, link budget exhausted", "audit", a.name)
		return
	}
	a.linkWarned = true
	slog.Warn("link budget exhausted, dropping further URLs",
		"audit", a.name,
		"max_links", a.cfg.MaxLinks,
	)
	a.send(message.NewControl(message.ControlWarning, a.name, message.Warning{
		Text:   fmt.Sprintf("maximum number of links (%d) reached for audit %s", a.cfg.MaxLinks, a.name),
		Source: "audit",
	}, message.PriorityHigh))
}

// advance moves between states once every ACK is in.
func (a *Audit) advance() {
	if a.expectingACK != 0 {
		return
	}
	switch a.state {
	case StateRunning:
		a.state = StateAwaitingReport
	case StateReporting:
		a.state = StateFinished
	}
}

func (a *Audit) send(m message.Message) {
	if !a.deps.Sender.Enqueue(m) {
		slog.Warn("message dropped, queue closed",
			"audit", a.name,
			"message", m.String(),
		)
	}
}

func (a *Audit) sendACK() {
	a.send(message.NewACK(a.name))
}

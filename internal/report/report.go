// Package report launches report plugins at the end of an audit.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/notify"
	"github.com/roach88/auditcore/internal/plugin"
)

// ErrNoReporter is returned for an output file no reporter supports.
var ErrNoReporter = errors.New("report: no reporter supports output")

// Job describes the reports one audit asks for.
type Job struct {
	Audit   string
	Outputs []string
	Start   time.Time
	Stop    time.Time
	// OnlyVulns asks reporters to leave out everything but vulnerabilities.
	OnlyVulns bool
}

// Attacher binds a plugin to an audit. *plugin.Host implements it.
type Attacher interface {
	Attach(p plugin.Plugin, audit string) notify.Receiver
}

// Manager picks a reporter per output file and sends it START_REPORT.
type Manager struct {
	host      Attacher
	reporters []plugin.Reporter
}

// NewManager creates a manager over the given reporters, tried in order.
func NewManager(host Attacher, reporters []plugin.Reporter) *Manager {
	return &Manager{host: host, reporters: reporters}
}

// Supported reports whether some reporter accepts outputFile.
func (m *Manager) Supported(outputFile string) bool {
	return m.pick(outputFile) != nil
}

// Launch starts one report per output and returns how many ACKs the
// launched reporters will send. Outputs without a reporter are skipped and
// reported in the joined error; the count still covers the others.
func (m *Manager) Launch(ctx context.Context, job Job) (int, error) {
	var errs []error
	expected := 0
	for _, out := range job.Outputs {
		rep := m.pick(out)
		if rep == nil {
			slog.Warn("no reporter for output", "audit", job.Audit, "output", out)
			errs = append(errs, fmt.Errorf("%w: %q", ErrNoReporter, out))
			continue
		}
		// One notifier per output: each START_REPORT reaches only its reporter.
		n := notify.New()
		n.AddPlugin(m.host.Attach(rep, job.Audit))
		msg := message.NewControl(message.ControlStartReport, job.Audit, message.ReportRequest{
			OutputFile: out,
			StartTime:  job.Start,
			StopTime:   job.Stop,
			OnlyVulns:  job.OnlyVulns,
		}, message.PriorityMedium)

		count := n.Notify(ctx, msg)
		slog.Info("report launched",
			"audit", job.Audit,
			"reporter", rep.Name(),
			"output", out,
		)
		expected += count
	}
	return expected, errors.Join(errs...)
}

func (m *Manager) pick(outputFile string) plugin.Reporter {
	for _, r := range m.reporters {
		if r.IsSupported(outputFile) {
			return r
		}
	}
	return nil
}

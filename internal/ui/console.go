package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/auditcore/internal/config"
	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/plugin"
)

// ConsoleName is the registry name of the console plugin.
const ConsoleName = "ui/console"

// Console prints audit progress, plugin logs and found vulnerabilities.
type Console struct {
	w         io.Writer
	verbosity int
	st        styles

	mu    sync.Mutex
	vulns map[string]int
}

var _ plugin.Plugin = (*Console)(nil)

// NewConsole creates a console writing to w. Plugin log lines above
// verbosity (message.LogStandard and up) are hidden.
func NewConsole(w io.Writer, verbosity int) *Console {
	return &Console{
		w:         w,
		verbosity: verbosity,
		st:        newStyles(w),
		vulns:     make(map[string]int),
	}
}

func (c *Console) Name() string              { return ConsoleName }
func (c *Console) Category() plugin.Category { return plugin.CategoryUI }

// AcceptedInfo limits data deliveries to vulnerabilities.
func (c *Console) AcceptedInfo() []data.Tag {
	return []data.Tag{{Kind: data.KindVulnerability}}
}

// Vulnerabilities returns how many vulnerabilities were shown for audit.
func (c *Console) Vulnerabilities(audit string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vulns[audit]
}

func (c *Console) RecvInfo(_ context.Context, pc *plugin.Context, d data.Data) error {
	rec := data.ToRecord(d)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.vulns[pc.AuditName()]++

	line := c.st.severityBadge(rec.Attr("severity")) + " " +
		c.st.badge(c.st.audit, pc.AuditName()) + " " +
		d.Subtype()
	if title := rec.Attr("title"); title != "" {
		line += ": " + title
	}
	for _, l := range d.Links() {
		line += " " + c.st.muted.Render("-> "+shortID(l.Identity))
	}
	return c.println(line)
}

func (c *Console) RecvMsg(_ context.Context, _ *plugin.Context, msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	audit := msg.AuditName()
	switch msg.Code() {
	case message.ControlLog:
		entry, ok := msg.Payload().(message.LogEntry)
		if !ok || entry.Level > c.verbosity {
			return nil
		}
		if entry.IsError {
			return c.println(c.prefix(audit, c.st.err, "!") + entry.Text)
		}
		return c.println(c.prefix(audit, c.st.muted, "*") + entry.Text)

	case message.ControlWarning:
		w, _ := msg.Payload().(message.Warning)
		text := w.Text
		if w.Source != "" {
			text = w.Source + ": " + text
		}
		return c.println(c.prefix(audit, c.st.warning, "warn") + text)

	case message.ControlError:
		e, _ := msg.Payload().(message.ErrorReport)
		text := e.Description
		if e.Source != "" {
			text = e.Source + ": " + text
		}
		if err := c.println(c.prefix(audit, c.st.err, "error") + text); err != nil {
			return err
		}
		if e.Trace != "" && c.verbosity >= message.LogVerbose {
			return c.println(c.st.muted.Render(strings.TrimRight(e.Trace, "\n")))
		}
		return nil

	case message.ControlStartAudit:
		var targets int
		switch cfg := msg.Payload().(type) {
		case config.Audit:
			targets, audit = len(cfg.Targets), cfg.AuditName
		case *config.Audit:
			if cfg != nil {
				targets, audit = len(cfg.Targets), cfg.AuditName
			}
		}
		if audit == "" {
			audit = "new audit"
		}
		return c.println(c.prefix(audit, c.st.success, "+") + fmt.Sprintf("starting, %d target(s)", targets))

	case message.ControlStopAudit:
		n := c.vulns[audit]
		delete(c.vulns, audit)
		if finished, _ := msg.Payload().(bool); !finished {
			return c.println(c.prefix(audit, c.st.warning, "-") + "stopped")
		}
		return c.println(c.prefix(audit, c.st.success, "-") + fmt.Sprintf("finished, %d vulnerabilit%s", n, plural(n, "y", "ies")))

	case message.ControlStartUI:
		return c.println(c.st.title.Render("auditcore") + " " + c.st.muted.Render("security audit orchestrator"))

	case message.ControlStopUI:
		return c.println(c.st.muted.Render("all audits done"))
	}
	return nil
}

func (c *Console) prefix(audit string, style lipgloss.Style, mark string) string {
	p := c.st.badge(style, mark) + " "
	if audit != "" {
		p += c.st.badge(c.st.audit, audit) + " "
	}
	return p
}

func (c *Console) println(line string) error {
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

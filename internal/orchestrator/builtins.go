package orchestrator

import (
	"io"

	"github.com/roach88/auditcore/internal/plugin"
	"github.com/roach88/auditcore/internal/report"
	"github.com/roach88/auditcore/internal/ui"
)

// RegisterBuiltins adds the bundled plugins: the JSON reporter and the
// console UI writing to out.
func RegisterBuiltins(reg *plugin.Registry, out io.Writer, verbosity int) error {
	for _, p := range []plugin.Plugin{
		report.NewJSONReporter(),
		ui.NewConsole(out, verbosity),
	} {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

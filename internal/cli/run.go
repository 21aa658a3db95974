package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/auditcore/internal/config"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/orchestrator"
	"github.com/roach88/auditcore/internal/plugin"
)

// RunOptions holds the run command flags.
type RunOptions struct {
	ConfigPath string
	Targets    []string
	MaxLinks   int
	Reports    []string
	Name       string
	Enable     []string
	Disable    []string
	OnlyVulns  bool
}

// RunResult summarizes a finished run.
type RunResult struct {
	Audits  int      `json:"audits"`
	Reports []string `json:"reports,omitempty"`
	Elapsed string   `json:"elapsed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the audits of a config file or of the given targets",
		Long: `Run starts the orchestrator, launches every configured audit and waits
until all of them have finished and written their reports.

Targets given with --target form one extra audit on top of those in the
config file. An interrupt stops the audits gracefully.`,
		Example: `  auditcore run -c audits.yaml
  auditcore run -t https://example.com -o report.json --max-links 200`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML)")
	cmd.Flags().StringArrayVarP(&opts.Targets, "target", "t", nil, "target URL (repeatable)")
	cmd.Flags().IntVar(&opts.MaxLinks, "max-links", 0, "maximum links followed per audit (0 = unlimited)")
	cmd.Flags().StringArrayVarP(&opts.Reports, "report", "o", nil, "report output file (repeatable)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "audit name (generated when empty)")
	cmd.Flags().StringSliceVar(&opts.Enable, "enable", nil, "plugins to enable (default all)")
	cmd.Flags().StringSliceVar(&opts.Disable, "disable", nil, "plugins to disable")
	cmd.Flags().BoolVar(&opts.OnlyVulns, "only-vulns", false, "report vulnerabilities only")

	return cmd
}

func runRun(rootOpts *RootOptions, opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfigLoad, "cannot load config", err)
		}
		cfg = loaded
	}
	if len(opts.Targets) > 0 {
		cfg.Audits = append(cfg.Audits, opts.audit())
	}
	if len(cfg.Audits) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeNoAudits, "nothing to audit: give --target or a config with audits", nil)
	}
	if rootOpts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeInvalidConfig, "invalid config", err)
	}

	logger, closeLog, err := config.NewLogger(cfg.Logging, formatter.GetErrWriter())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidConfig, "cannot set up logging", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	// JSON output owns stdout; the console moves to stderr.
	var uiOut io.Writer = formatter.Writer
	if formatter.Format == "json" {
		uiOut = formatter.GetErrWriter()
	}
	verbosity := message.LogStandard
	if rootOpts.Verbose {
		verbosity = message.LogVerbose
	}
	reg := plugin.NewRegistry()
	if err := orchestrator.RegisterBuiltins(reg, uiOut, verbosity); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "cannot register plugins", err)
	}

	orch, err := orchestrator.New(cfg, reg, orchestrator.Options{})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeRunFailed, "cannot start orchestrator", err)
	}
	for _, a := range cfg.Audits {
		orch.StartAudit(a)
	}

	start := time.Now()
	err = runUntilDone(cmd.Context(), orch, cfg.Orchestrator.StopTimeout)
	elapsed := time.Since(start)
	if errors.Is(err, orchestrator.ErrStopTimeout) {
		return formatter.Fail(ExitFailure, ErrCodeStopTimeout, "audits did not stop in time", err)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeRunFailed, "audit run failed", err)
	}

	result := RunResult{
		Audits:  len(cfg.Audits),
		Elapsed: elapsed.Round(time.Millisecond).String(),
	}
	for _, a := range cfg.Audits {
		result.Reports = append(result.Reports, a.Reports...)
	}
	return outputRunResult(formatter, result)
}

// runUntilDone runs orch and stops it on SIGINT or SIGTERM.
func runUntilDone(parent context.Context, orch *orchestrator.Orchestrator, timeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- orch.Run(parent) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Warn("interrupted, stopping audits", "timeout", timeout)
		stopErr := orch.Stop(timeout)
		return errors.Join(<-errCh, stopErr)
	}
}

func (o *RunOptions) audit() config.Audit {
	return config.Audit{
		AuditName:       o.Name,
		Targets:         o.Targets,
		EnabledPlugins:  o.Enable,
		DisabledPlugins: o.Disable,
		MaxLinks:        o.MaxLinks,
		Reports:         o.Reports,
		OnlyVulns:       o.OnlyVulns,
	}
}

func outputRunResult(formatter *OutputFormatter, result RunResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d audit(s) finished in %s\n", result.Audits, result.Elapsed)
	for _, r := range result.Reports {
		fmt.Fprintf(formatter.Writer, "  report: %s\n", r)
	}
	return nil
}

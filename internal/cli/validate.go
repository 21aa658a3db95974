package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/auditcore/internal/config"
)

// ValidationResult is the outcome of validate.
type ValidationResult struct {
	Valid  bool                     `json:"valid"`
	Audits int                      `json:"audits"`
	Errors []config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file without running it",
		Long: `Validate checks the orchestrator settings and every audit of a
configuration file against the audit schema. Nothing is started.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("config %s not found", path), nil)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfigLoad, "cannot load config", err)
	}
	formatter.VerboseLog("Loaded %s: %d audit(s)", path, len(cfg.Audits))

	errs := validateConfig(cfg)
	if len(errs) > 0 {
		return outputValidationErrors(formatter, len(cfg.Audits), errs)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Audits: len(cfg.Audits)})
	}
	fmt.Fprintf(formatter.Writer, "✓ Config valid (%d audit(s))\n", len(cfg.Audits))
	return nil
}

// validateConfig collects orchestrator-level problems followed by the
// schema errors of every audit, with fields prefixed by the audit index.
func validateConfig(cfg *config.Config) []config.ValidationError {
	var out []config.ValidationError

	global := *cfg
	global.Audits = nil
	if err := global.Validate(); err != nil {
		for _, e := range unjoin(err) {
			out = append(out, config.ValidationError{
				Field:   "config",
				Message: e.Error(),
				Code:    ErrCodeInvalidConfig,
			})
		}
	}

	for i, a := range cfg.Audits {
		for _, v := range config.ValidateAudit(a) {
			v.Field = fmt.Sprintf("audits[%d].%s", i, v.Field)
			out = append(out, v)
		}
	}
	return out
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func outputValidationErrors(formatter *OutputFormatter, audits int, errs []config.ValidationError) error {
	if formatter.Format == "json" {
		_ = formatter.Success(ValidationResult{Valid: false, Audits: audits, Errors: errs})
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %d validation error(s):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", e.Code, e.Field, e.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(errs)))
}

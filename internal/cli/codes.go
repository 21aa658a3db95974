package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/auditcore/internal/message"
)

// CodeEntry is one row of the RPC code table.
type CodeEntry struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

// NewCodesCommand creates the codes command.
func NewCodesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "codes",
		Short:         "List the RPC codes plugins can call",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodes(rootOpts, cmd)
		},
	}
}

func runCodes(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	codes := message.RPCCodes()
	entries := make([]CodeEntry, len(codes))
	for i, c := range codes {
		entries[i] = CodeEntry{Code: int(c), Name: message.CodeName(message.TypeRPC, c)}
	}

	if formatter.Format == "json" {
		return formatter.Success(entries)
	}
	fmt.Fprintf(formatter.Writer, "%4s  %s\n", "CODE", "NAME")
	for _, e := range entries {
		fmt.Fprintf(formatter.Writer, "%4d  %s\n", e.Code, e.Name)
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/extsandbox/internal/infrastructure/audit"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/output"
	"github.com/reglet-dev/extsandbox/internal/version"
)

// auditCmd groups audit stream commands.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Work with recorded audit streams",
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(newAuditExportCmd())
}

func newAuditExportCmd() *cobra.Command {
	format := "sarif"
	cmd := &cobra.Command{
		Use:   "export <audit.jsonl>",
		Short: "Convert a JSON-lines audit stream to a report",
		Long: `Read an audit stream written by 'run --audit-out' and render it in another
format. SARIF output lists denied and failed hostcalls as results. Use "-" to
read from stdin.`,
		Example: `  extsandbox audit export run.jsonl > run.sarif
  extsandbox audit export run.jsonl --format table`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				//nolint:gosec // G304: User-controlled input file path is intentional
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open audit stream: %w", err)
				}
				defer func() {
					_ = f.Close() // Best-effort cleanup
				}()
				in = f
			}
			return exportAudit(in, cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().StringVar(&format, "format", format, "Output format: table, json, jsonl, yaml, sarif")
	return cmd
}

func exportAudit(in io.Reader, out io.Writer, format string) error {
	records, err := audit.ReadJSONLines(in)
	if err != nil {
		return err
	}
	report := &output.Report{Version: version.Get().String(), Audit: records}
	if len(records) > 0 {
		report.StartTime = records[0].Timestamp
		report.EndTime = records[len(records)-1].Timestamp
	}

	formatter, err := output.NewFormatterFactory().Create(format, out)
	if err != nil {
		return err
	}
	if err := formatter.Format(report); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	return nil
}

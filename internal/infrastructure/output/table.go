package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// TableFormatter formats reports as a human-readable table.
type TableFormatter struct {
	writer      io.Writer
	EnableColor bool
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{
		writer:      w,
		EnableColor: true, // Default to true, caller can disable
	}
}

// colorize returns the string wrapped in ANSI color codes if enabled.
func (f *TableFormatter) colorize(text, code string) string {
	if !f.EnableColor {
		return text
	}
	return code + text + colorReset
}

// Format writes the report as a table.
//
//nolint:errcheck // Table formatting errors are non-critical (best-effort terminal output)
func (f *TableFormatter) Format(report *Report) error {
	rule := f.colorize(strings.Repeat("─", 80), colorGray)

	fmt.Fprintln(f.writer, rule)
	fmt.Fprintf(f.writer, "extsandbox %s\n", f.colorize(report.Version, colorBold))
	if !report.StartTime.IsZero() {
		fmt.Fprintf(f.writer, "Started: %s\n", report.StartTime.Format(time.RFC3339))
	}
	if !report.EndTime.IsZero() && !report.StartTime.IsZero() {
		fmt.Fprintf(f.writer, "Duration: %s\n", report.EndTime.Sub(report.StartTime).Round(time.Millisecond))
	}
	fmt.Fprintln(f.writer)

	if len(report.Extensions) == 0 {
		fmt.Fprintln(f.writer, "No extensions loaded.")
	} else {
		fmt.Fprintln(f.writer, f.colorize("Extensions:", colorBold))
		fmt.Fprintln(f.writer, rule)
		for _, ext := range report.Extensions {
			f.formatExtension(ext)
		}
		fmt.Fprintln(f.writer, rule)
	}

	f.formatSummary(report)
	return nil
}

//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) formatExtension(ext ExtensionStatus) {
	symbol, color := "✓", colorGreen
	if ext.Failed() {
		symbol, color = "✗", colorRed
	}
	fmt.Fprintf(f.writer, "%s %s [%s]\n", f.colorize(symbol, color), f.colorize(ext.ID, color), ext.State)
	if ext.Entry != "" {
		fmt.Fprintf(f.writer, "  Entry: %s\n", ext.Entry)
	}
	if ext.FailureKind != "" {
		fmt.Fprintf(f.writer, "  %s: %s\n", f.colorize("Failure", colorRed), ext.FailureKind)
	}
	if ext.Error != "" {
		fmt.Fprintf(f.writer, "  Error: %s\n", ext.Error)
	}
	f.formatList("Tools", ext.Tools)
	f.formatList("Commands", ext.Commands)
	f.formatList("Hooks", ext.Hooks)
}

//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) formatList(label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(f.writer, "  %s: %s\n", label, f.colorize(strings.Join(items, ", "), colorCyan))
}

//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) formatSummary(report *Report) {
	s := report.Summarize()
	fmt.Fprintf(f.writer, "%s %s loaded, %s failed\n",
		f.colorize("Summary:", colorBold),
		f.colorize(fmt.Sprint(s.Loaded), colorGreen),
		f.colorize(fmt.Sprint(s.Failed), colorRed))

	if len(s.Outcomes) == 0 && report.DroppedAudit == 0 {
		return
	}
	codes := make([]string, 0, len(s.Outcomes))
	for code := range s.Outcomes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%s=%d", code, s.Outcomes[code]))
	}
	line := strings.Join(parts, " ")
	if report.DroppedAudit > 0 {
		line = strings.TrimSpace(line + " " + f.colorize(fmt.Sprintf("dropped=%d", report.DroppedAudit), colorYellow))
	}
	fmt.Fprintf(f.writer, "Audit: %s\n", line)
}

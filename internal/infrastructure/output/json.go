package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter writes the whole report as one JSON document.
type JSONFormatter struct {
	writer io.Writer
	indent bool
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(w io.Writer, indent bool) *JSONFormatter {
	return &JSONFormatter{writer: w, indent: indent}
}

// Format writes the report as JSON.
func (f *JSONFormatter) Format(report *Report) error {
	enc := json.NewEncoder(f.writer)
	if f.indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(report)
}

// JSONLinesFormatter writes only the audit records, one per line, in the
// same shape the recorder streams.
type JSONLinesFormatter struct {
	writer io.Writer
}

// NewJSONLinesFormatter creates a new JSON lines formatter.
func NewJSONLinesFormatter(w io.Writer) *JSONLinesFormatter {
	return &JSONLinesFormatter{writer: w}
}

// Format writes the audit records.
func (f *JSONLinesFormatter) Format(report *Report) error {
	enc := json.NewEncoder(f.writer)
	for _, rec := range report.Audit {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

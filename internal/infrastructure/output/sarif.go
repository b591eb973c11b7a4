package output

import (
	"fmt"
	"io"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"
)

// SARIFFormatter formats audit records as SARIF 2.1.0 JSON.
// Each outcome code becomes a rule and each audit record a result located
// at the entry file of its extension.
type SARIFFormatter struct {
	writer io.Writer
}

// NewSARIFFormatter creates a new SARIF formatter.
func NewSARIFFormatter(writer io.Writer) *SARIFFormatter {
	return &SARIFFormatter{writer: writer}
}

// Format writes the report's audit stream as SARIF 2.1.0 JSON.
func (f *SARIFFormatter) Format(report *Report) error {
	out := sarif.NewReport()

	run := sarif.NewRunWithInformationURI("extsandbox", "https://github.com/reglet-dev/extsandbox")
	if report.Version != "" {
		run.Tool.Driver.Version = &report.Version
	}
	run.Tool.Driver.Organization = ptrString("reglet")

	newSARIFMapper(report).mapToRun(run)
	out.AddRun(run)

	if err := out.Write(f.writer); err != nil {
		return fmt.Errorf("failed to write SARIF output: %w", err)
	}
	_, err := f.writer.Write([]byte("\n"))
	return err
}

func ptrString(s string) *string {
	return &s
}

func ptrBool(b bool) *bool {
	return &b
}

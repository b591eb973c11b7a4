package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
)

// auditRule describes one outcome code.
type auditRule struct {
	id          string
	name        string
	description string
	level       string
}

var auditRules = map[string]auditRule{
	"denied": {
		id: "denied", name: "CapabilityDenied", level: "warning",
		description: "A hostcall was refused by the capability policy or by filesystem containment.",
	},
	"io": {
		id: "io", name: "HostcallIOFailure", level: "note",
		description: "A permitted hostcall failed with an I/O error.",
	},
	"internal": {
		id: "internal", name: "HostInternalError", level: "error",
		description: "The host failed while serving a hostcall.",
	},
	"timeout": {
		id: "timeout", name: "HostcallTimeout", level: "warning",
		description: "A hostcall ran out of time or the extension budget was exhausted.",
	},
	"invalid_request": {
		id: "invalid_request", name: "MalformedHostcall", level: "note",
		description: "Guest code issued a malformed hostcall.",
	},
}

type sarifMapper struct {
	report    *Report
	cwd       string
	artifacts map[string]*sarif.Artifact
}

func newSARIFMapper(report *Report) *sarifMapper {
	cwd, _ := os.Getwd() // Best effort, ignore error
	return &sarifMapper{
		report:    report,
		cwd:       cwd,
		artifacts: make(map[string]*sarif.Artifact),
	}
}

// mapToRun populates the SARIF run with rules, results, artifacts, and invocations.
func (m *sarifMapper) mapToRun(run *sarif.Run) {
	m.addRules(run)
	for _, rec := range m.report.Audit {
		run.AddResult(m.mapRecord(rec))
	}
	for _, uri := range m.sortedArtifactURIs() {
		run.AddArtifact(m.artifacts[uri])
	}
	m.addInvocation(run)

	props := sarif.NewPropertyBag()
	props.Add("summary", m.report.Summarize())
	run.WithProperties(props)
}

// addRules emits one rule per outcome code seen in the stream.
func (m *sarifMapper) addRules(run *sarif.Run) {
	seen := make(map[string]bool)
	var codes []string
	for _, rec := range m.report.Audit {
		if !seen[rec.OutcomeCode] {
			seen[rec.OutcomeCode] = true
			codes = append(codes, rec.OutcomeCode)
		}
	}
	sort.Strings(codes)

	for _, code := range codes {
		r := ruleFor(code)
		rule := sarif.NewReportingDescriptor().WithID(r.id)
		rule.WithName(r.name)
		rule.WithShortDescription(&sarif.MultiformatMessageString{Text: &r.name})
		rule.WithFullDescription(&sarif.MultiformatMessageString{Text: &r.description})
		rule.WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: r.level})
		run.Tool.Driver.AddRule(rule)
	}
}

func ruleFor(code string) auditRule {
	if r, ok := auditRules[code]; ok {
		return r
	}
	return auditRule{id: code, name: code, level: "warning", description: fmt.Sprintf("Hostcall outcome %s.", code)}
}

func (m *sarifMapper) mapRecord(rec ports.AuditRecord) *sarif.Result {
	r := ruleFor(rec.OutcomeCode)
	result := sarif.NewRuleResult(r.id)
	result.Level = r.level
	result.Kind = "fail"

	msg := rec.Message
	if msg == "" {
		msg = fmt.Sprintf("%s %s", rec.Op, rec.OutcomeCode)
	}
	result.Message = sarif.NewTextMessage(fmt.Sprintf("[%s] %s: %s", rec.ExtensionID, rec.Op, msg))

	if entry := m.report.EntryFor(rec.ExtensionID); entry != "" {
		uri := m.normalizeURI(entry)
		m.registerArtifact(uri)
		result.Locations = []*sarif.Location{
			sarif.NewLocation().WithPhysicalLocation(
				sarif.NewPhysicalLocation().WithArtifactLocation(sarif.NewArtifactLocation().WithURI(uri))),
		}
	}

	props := sarif.NewPropertyBag()
	props.Add("extension", rec.ExtensionID)
	props.Add("op", rec.Op)
	props.Add("elapsed_ms", rec.ElapsedMS)
	props.Add("timestamp", rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
	result.WithProperties(props)
	return result
}

// normalizeURI converts a file path to a SARIF-compliant URI.
func (m *sarifMapper) normalizeURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path) // Fallback to original
	}
	if m.cwd != "" {
		if rel, err := filepath.Rel(m.cwd, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return "file://" + filepath.ToSlash(abs)
}

func (m *sarifMapper) registerArtifact(uri string) {
	if _, exists := m.artifacts[uri]; exists {
		return
	}
	m.artifacts[uri] = sarif.NewArtifact().WithLocation(sarif.NewArtifactLocation().WithURI(uri))
}

func (m *sarifMapper) sortedArtifactURIs() []string {
	uris := make([]string, 0, len(m.artifacts))
	for uri := range m.artifacts {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// addInvocation adds run metadata.
func (m *sarifMapper) addInvocation(run *sarif.Run) {
	invocation := sarif.NewInvocation()

	summary := m.report.Summarize()
	invocation.ExecutionSuccessful = ptrBool(summary.Failed == 0 && summary.Outcomes["internal"] == 0)

	if !m.report.StartTime.IsZero() {
		start := m.report.StartTime.UTC().Format("2006-01-02T15:04:05.000Z")
		invocation.StartTimeUtc = &start
	}
	if !m.report.EndTime.IsZero() {
		end := m.report.EndTime.UTC().Format("2006-01-02T15:04:05.000Z")
		invocation.EndTimeUtc = &end
	}
	if hostname, err := os.Hostname(); err == nil {
		invocation.Machine = &hostname
	}
	if m.cwd != "" {
		invocation.WorkingDirectory = sarif.NewArtifactLocation().WithURI("file://" + filepath.ToSlash(m.cwd))
	}

	props := sarif.NewPropertyBag()
	props.Add("droppedAuditRecords", m.report.DroppedAudit)
	invocation.WithProperties(props)

	run.AddInvocation(invocation)
}

// Package output formats run reports and audit streams for operators.
package output

import (
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
)

// ExtensionStatus is the load outcome of one extension.
type ExtensionStatus struct {
	ID          string   `json:"id" yaml:"id"`
	Entry       string   `json:"entry" yaml:"entry"`
	State       string   `json:"state" yaml:"state"`
	FailureKind string   `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Commands    []string `json:"commands,omitempty" yaml:"commands,omitempty"`
	Hooks       []string `json:"hooks,omitempty" yaml:"hooks,omitempty"`
}

// Failed reports whether the extension did not load.
func (s ExtensionStatus) Failed() bool {
	return s.FailureKind != "" || s.State == "failed"
}

// Report is what a run produced: extension statuses and the audit records
// collected while it ran.
type Report struct {
	Version      string              `json:"version" yaml:"version"`
	StartTime    time.Time           `json:"start_time" yaml:"start_time"`
	EndTime      time.Time           `json:"end_time" yaml:"end_time"`
	Extensions   []ExtensionStatus   `json:"extensions" yaml:"extensions"`
	Audit        []ports.AuditRecord `json:"audit" yaml:"audit"`
	DroppedAudit uint64              `json:"dropped_audit,omitempty" yaml:"dropped_audit,omitempty"`
}

// Summary counts extensions and audit outcomes.
type Summary struct {
	Loaded   int            `json:"loaded" yaml:"loaded"`
	Failed   int            `json:"failed" yaml:"failed"`
	Outcomes map[string]int `json:"outcomes" yaml:"outcomes"`
}

// Summarize computes the report summary.
func (r *Report) Summarize() Summary {
	s := Summary{Outcomes: make(map[string]int)}
	for _, ext := range r.Extensions {
		if ext.Failed() {
			s.Failed++
		} else {
			s.Loaded++
		}
	}
	for _, rec := range r.Audit {
		s.Outcomes[rec.OutcomeCode]++
	}
	return s
}

// EntryFor returns the entry path of an extension, if known.
func (r *Report) EntryFor(extensionID string) string {
	for _, ext := range r.Extensions {
		if ext.ID == extensionID {
			return ext.Entry
		}
	}
	return ""
}

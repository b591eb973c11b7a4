// Package redaction scrubs secrets from guest log lines, audit messages and
// operator output.
package redaction

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Marker replaces every detected secret.
const Marker = "[REDACTED]"

// Redactor replaces secrets in strings and JSON documents.
// All fields are read-only after construction, making it safe for concurrent use.
type Redactor struct {
	patterns []*regexp.Regexp
	keys     map[string]bool

	// nil when disabled or when the gitleaks rules failed to load
	gitleaksDetector *detect.Detector
}

// Config holds the configuration for the Redactor.
type Config struct {
	// Extra patterns to redact (e.g. "INT-[A-Z0-9]{16}").
	Patterns []string
	// JSON object keys whose string values are always redacted, matched
	// case-insensitively (e.g. "password").
	Keys []string
	// DisableGitleaks uses only the built-in and extra patterns.
	DisableGitleaks bool
}

// DefaultKeys are the JSON keys redacted in structured payloads.
var DefaultKeys = []string{"password", "passwd", "secret", "token", "api_key", "apikey", "authorization", "private_key"}

// New creates a new Redactor with the given configuration.
func New(cfg Config) (*Redactor, error) {
	r := &Redactor{
		patterns: make([]*regexp.Regexp, 0, len(cfg.Patterns)+len(defaultPatterns)),
		keys:     make(map[string]bool, len(cfg.Keys)),
	}

	if !cfg.DisableGitleaks {
		detector, err := newGitleaksDetector()
		if err != nil {
			slog.Warn("gitleaks rules unavailable, using built-in patterns only", "error", err)
		} else {
			r.gitleaksDetector = detector
		}
	}

	for _, p := range defaultPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile default pattern %s: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile custom pattern %s: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	for _, k := range cfg.Keys {
		r.keys[strings.ToLower(k)] = true
	}
	return r, nil
}

// newGitleaksDetector creates a detector from the gitleaks default rules.
func newGitleaksDetector() (*detect.Detector, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(config.DefaultConfig)); err != nil {
		return nil, fmt.Errorf("failed to read gitleaks config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("failed to translate gitleaks config: %w", err)
	}
	return detect.NewDetector(cfg), nil
}

// ScrubString replaces secrets found by gitleaks and by the regex patterns.
func (r *Redactor) ScrubString(input string) string {
	if r == nil || input == "" {
		return input
	}

	result := input
	if r.gitleaksDetector != nil {
		for _, finding := range r.gitleaksDetector.Detect(detect.Fragment{Raw: result}) {
			if finding.Secret != "" {
				result = strings.ReplaceAll(result, finding.Secret, Marker)
			}
		}
	}
	for _, re := range r.patterns {
		result = re.ReplaceAllString(result, Marker)
	}
	return result
}

// ScrubJSON redacts a JSON document: values under sensitive keys are
// replaced and every other string is scrubbed. Invalid JSON is scrubbed as
// text and re-encoded as a JSON string.
func (r *Redactor) ScrubJSON(raw json.RawMessage) json.RawMessage {
	if r == nil || len(raw) == 0 {
		return raw
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		out, _ := json.Marshal(r.ScrubString(string(raw)))
		return out
	}
	out, err := json.Marshal(r.walk(doc, false))
	if err != nil {
		return raw
	}
	return out
}

// walk redacts in place. sensitive is set below a sensitive key.
func (r *Redactor) walk(data any, sensitive bool) any {
	switch v := data.(type) {
	case string:
		if sensitive {
			return Marker
		}
		return r.ScrubString(v)
	case map[string]any:
		for k, val := range v {
			v[k] = r.walk(val, sensitive || r.keys[strings.ToLower(k)])
		}
		return v
	case []any:
		for i, val := range v {
			v[i] = r.walk(val, sensitive)
		}
		return v
	default:
		return v
	}
}

// defaultPatterns cover high-confidence secrets when gitleaks is off.
var defaultPatterns = []string{
	// AWS Access Key ID
	`\b((?:AKIA|ABIA|ACCA|ASIA)[0-9A-Z]{16})\b`,
	// Generic Private Key Header
	`-----BEGIN [A-Z ]+ PRIVATE KEY-----`,
	// Github Token
	`gh[pousr]_[A-Za-z0-9_]{36,255}`,
	// Slack Token
	`xox[baprs]-[0-9a-zA-Z-]{10,72}`,
	// Bearer credentials in headers
	`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`,
}

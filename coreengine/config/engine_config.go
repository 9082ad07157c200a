// Package config provides the workflow engine configuration.
//
// This package contains ONLY configuration the engine itself consults:
//   - Guardrail thresholds and required sections
//   - Per-stage timeout and retry schedule
//   - Incomplete-document policy
//
// Service settings (listen addresses, provider endpoints, SMTP) belong to the
// binary in cmd/procurement.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
)

// IncompleteDocumentPolicy decides what happens to a generated document with
// empty required sections.
type IncompleteDocumentPolicy string

const (
	// IncompleteReject passes the document on so the approval guardrails reject it.
	IncompleteReject IncompleteDocumentPolicy = "reject"
	// IncompleteFail fails the generation stage with IncompleteDocument.
	IncompleteFail IncompleteDocumentPolicy = "fail"
)

// RetryBackoff is the exponential schedule between retries of a stage.
type RetryBackoff struct {
	Initial    time.Duration `json:"initial" yaml:"initial"`
	Max        time.Duration `json:"max" yaml:"max"`
	Multiplier float64       `json:"multiplier" yaml:"multiplier"`
	// Jitter is the randomization factor in [0,1). Zero gives a fixed schedule.
	Jitter float64 `json:"jitter" yaml:"jitter"`
}

// EngineConfig holds everything the engine needs at construction.
// It is copied into the engine and never changes for the engine's lifetime.
type EngineConfig struct {
	// Guardrails
	AutoApprovalCeiling float64          `json:"auto_approval_ceiling" yaml:"auto_approval_ceiling"`
	RequiredSections    []domain.Section `json:"required_sections" yaml:"required_sections"`

	// Stage execution
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	Backoff      RetryBackoff  `json:"backoff" yaml:"backoff"`

	// Document handling
	IncompleteDocuments IncompleteDocumentPolicy `json:"incomplete_documents" yaml:"incomplete_documents"`
	DefaultCurrency     string                   `json:"default_currency" yaml:"default_currency"`
}

// DefaultEngineConfig returns an EngineConfig with default values.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		AutoApprovalCeiling: 1_000_000,
		RequiredSections:    domain.DefaultRequiredSections(),

		StageTimeout: 60 * time.Second,
		MaxRetries:   2,
		Backoff: RetryBackoff{
			Initial:    250 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2,
		},

		IncompleteDocuments: IncompleteReject,
		DefaultCurrency:     domain.DefaultCurrency,
	}
}

// Clone returns a deep copy.
func (c *EngineConfig) Clone() *EngineConfig {
	out := *c
	out.RequiredSections = append([]domain.Section(nil), c.RequiredSections...)
	return &out
}

// ValidationError lists every invalid field of a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid engine config: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration and returns a *ValidationError listing
// all problems, or nil.
func (c *EngineConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if math.IsNaN(c.AutoApprovalCeiling) || math.IsInf(c.AutoApprovalCeiling, 0) || c.AutoApprovalCeiling < 0 {
		add("auto_approval_ceiling must be a finite number >= 0, got %v", c.AutoApprovalCeiling)
	}
	if len(c.RequiredSections) == 0 {
		add("required_sections must not be empty")
	}
	seen := make(map[domain.Section]bool)
	for _, s := range c.RequiredSections {
		if _, err := domain.ParseSection(string(s)); err != nil {
			add("required_sections: %v", err)
		}
		if seen[s] {
			add("required_sections: %s listed twice", s)
		}
		seen[s] = true
	}
	if c.StageTimeout <= 0 {
		add("stage_timeout must be > 0, got %s", c.StageTimeout)
	}
	if c.MaxRetries < 0 {
		add("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.Backoff.Initial < 0 || c.Backoff.Max < 0 {
		add("backoff durations must be >= 0")
	}
	if c.Backoff.Max > 0 && c.Backoff.Initial > c.Backoff.Max {
		add("backoff.initial (%s) exceeds backoff.max (%s)", c.Backoff.Initial, c.Backoff.Max)
	}
	if c.Backoff.Multiplier < 1 {
		add("backoff.multiplier must be >= 1, got %v", c.Backoff.Multiplier)
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1 {
		add("backoff.jitter must be in [0,1), got %v", c.Backoff.Jitter)
	}
	switch c.IncompleteDocuments {
	case IncompleteReject, IncompleteFail:
	default:
		add("incomplete_documents must be %q or %q, got %q", IncompleteReject, IncompleteFail, c.IncompleteDocuments)
	}
	if len(c.DefaultCurrency) != 3 {
		add("default_currency must be a 3-letter code, got %q", c.DefaultCurrency)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ToMap returns the configuration as a flat map for logging.
func (c *EngineConfig) ToMap() map[string]any {
	sections := make([]string, len(c.RequiredSections))
	for i, s := range c.RequiredSections {
		sections[i] = string(s)
	}
	return map[string]any{
		"auto_approval_ceiling": c.AutoApprovalCeiling,
		"required_sections":     sections,
		"stage_timeout":         c.StageTimeout.String(),
		"max_retries":           c.MaxRetries,
		"backoff_initial":       c.Backoff.Initial.String(),
		"backoff_max":           c.Backoff.Max.String(),
		"backoff_multiplier":    c.Backoff.Multiplier,
		"backoff_jitter":        c.Backoff.Jitter,
		"incomplete_documents":  string(c.IncompleteDocuments),
		"default_currency":      c.DefaultCurrency,
	}
}

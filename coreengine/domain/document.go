package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// SECTIONS
// =============================================================================

// Section names a part of an RFP document.
type Section string

const (
	SectionOverview               Section = "Overview"
	SectionRequirements           Section = "Requirements"
	SectionTimeline               Section = "Timeline"
	SectionBudget                 Section = "Budget"
	SectionEvaluationCriteria     Section = "EvaluationCriteria"
	SectionSubmissionInstructions Section = "SubmissionInstructions"
	SectionQuantity               Section = "Quantity"
	SectionWarranty               Section = "Warranty"
	SectionServiceLevels          Section = "ServiceLevels"
	SectionQualityStandards       Section = "QualityStandards"
)

// DefaultRequiredSections are the sections a document must carry to be
// eligible for approval.
func DefaultRequiredSections() []Section {
	return []Section{SectionOverview, SectionRequirements, SectionTimeline, SectionBudget}
}

// ParseSection resolves a section name, ignoring case.
func ParseSection(s string) (Section, error) {
	for _, sec := range []Section{
		SectionOverview, SectionRequirements, SectionTimeline, SectionBudget,
		SectionEvaluationCriteria, SectionSubmissionInstructions, SectionQuantity,
		SectionWarranty, SectionServiceLevels, SectionQualityStandards,
	} {
		if strings.EqualFold(string(sec), strings.TrimSpace(s)) {
			return sec, nil
		}
	}
	return "", fmt.Errorf("unknown section %q", s)
}

// =============================================================================
// RFP DOCUMENT
// =============================================================================

// RFPDocument is the request for proposal drafted by the generation stage.
type RFPDocument struct {
	RequestID    string    `json:"request_id,omitempty"`
	Title        string    `json:"title"`
	Category     Category  `json:"category"`
	Overview     string    `json:"overview"`
	Requirements []string  `json:"requirements"`
	Timeline     string    `json:"timeline"`
	Budget       float64   `json:"budget"`
	Currency     string    `json:"currency"`
	GeneratedAt  time.Time `json:"generated_at"`

	EvaluationCriteria     string `json:"evaluation_criteria,omitempty"`
	SubmissionInstructions string `json:"submission_instructions,omitempty"`
	Quantity               string `json:"quantity,omitempty"`
	Warranty               string `json:"warranty,omitempty"`
	ServiceLevels          string `json:"service_levels,omitempty"`
	QualityStandards       string `json:"quality_standards,omitempty"`

	Suppliers []Supplier `json:"suppliers,omitempty"`
}

// Clone returns a deep copy of the document.
func (d RFPDocument) Clone() RFPDocument {
	out := d
	if d.Requirements != nil {
		out.Requirements = append([]string(nil), d.Requirements...)
	}
	if d.Suppliers != nil {
		out.Suppliers = append([]Supplier(nil), d.Suppliers...)
	}
	return out
}

// SectionText returns the textual content of a section.
// Budget renders as a grouped amount with currency, or "" when it is not positive.
func (d RFPDocument) SectionText(s Section) string {
	switch s {
	case SectionOverview:
		return d.Overview
	case SectionRequirements:
		return strings.Join(d.Requirements, "\n")
	case SectionTimeline:
		return d.Timeline
	case SectionBudget:
		if d.Budget <= 0 {
			return ""
		}
		return formatAmount(d.Budget, d.Currency)
	case SectionEvaluationCriteria:
		return d.EvaluationCriteria
	case SectionSubmissionInstructions:
		return d.SubmissionInstructions
	case SectionQuantity:
		return d.Quantity
	case SectionWarranty:
		return d.Warranty
	case SectionServiceLevels:
		return d.ServiceLevels
	case SectionQualityStandards:
		return d.QualityStandards
	}
	return ""
}

// HasSection reports whether a section is present and non-empty.
func (d RFPDocument) HasSection(s Section) bool {
	if s == SectionRequirements {
		for _, r := range d.Requirements {
			if strings.TrimSpace(r) != "" {
				return true
			}
		}
		return false
	}
	return strings.TrimSpace(d.SectionText(s)) != ""
}

// MissingSections returns the required sections that are absent or empty,
// in the order they were asked for.
func (d RFPDocument) MissingSections(required []Section) []Section {
	var missing []Section
	for _, s := range required {
		if !d.HasSection(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

func formatAmount(v float64, currency string) string {
	whole, frac, _ := strings.Cut(strconv.FormatFloat(v, 'f', 2, 64), ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "00" {
		b.WriteString("." + frac)
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return b.String() + " " + currency
}

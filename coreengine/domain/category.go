// Package domain defines the procurement data model shared by every stage of a run.
//
// Values in this package are plain data. They are copied into a run when it
// starts and handed out as copies afterwards, so nothing outside the engine can
// alter what a stage already produced.
package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// CATEGORY
// =============================================================================

// Category is the closed set of procurement categories a request can be classified into.
type Category string

const (
	CategorySoftware     Category = "Software"
	CategoryHardware     Category = "Hardware"
	CategoryServices     Category = "Services"
	CategoryRawMaterials Category = "RawMaterials"
)

// AllCategories returns every valid category in display order.
func AllCategories() []Category {
	return []Category{CategorySoftware, CategoryHardware, CategoryServices, CategoryRawMaterials}
}

// DisplayName returns the human-readable category name.
func (c Category) DisplayName() string {
	if c == CategoryRawMaterials {
		return "Raw Materials"
	}
	return string(c)
}

// IsValid reports whether c is one of the closed set.
func (c Category) IsValid() bool {
	switch c {
	case CategorySoftware, CategoryHardware, CategoryServices, CategoryRawMaterials:
		return true
	}
	return false
}

// ParseCategory maps free text onto the closed category set.
// Case, spaces, dashes and underscores are ignored, so "raw materials",
// "Raw-Materials" and "RAW_MATERIALS" all resolve to CategoryRawMaterials.
func ParseCategory(s string) (Category, error) {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))

	for _, c := range AllCategories() {
		if strings.ToLower(string(c)) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ClassificationResult is the output of the classification stage.
// It is produced once per run and never mutated afterwards.
type ClassificationResult struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// Validate checks that the category is known and the confidence lies in [0,1].
func (c ClassificationResult) Validate() error {
	if !c.Category.IsValid() {
		return fmt.Errorf("category %q is not in the closed set", c.Category)
	}
	if c.Confidence < 0 || c.Confidence > 1 || c.Confidence != c.Confidence {
		return fmt.Errorf("confidence %v outside [0,1]", c.Confidence)
	}
	return nil
}

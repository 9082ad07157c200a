package domain

import (
	"fmt"
	"strings"
)

type templateSection struct {
	heading string
	section Section
}

// Each category renders its own heading set. Unknown categories fall back to
// the Services layout.
var rfpTemplates = map[Category][]templateSection{
	CategorySoftware: {
		{"Project Overview", SectionOverview},
		{"Requirements", SectionRequirements},
		{"Timeline", SectionTimeline},
		{"Budget", SectionBudget},
		{"Evaluation Criteria", SectionEvaluationCriteria},
		{"Submission Instructions", SectionSubmissionInstructions},
	},
	CategoryHardware: {
		{"Project Overview", SectionOverview},
		{"Technical Specifications", SectionRequirements},
		{"Quantity", SectionQuantity},
		{"Delivery Timeline", SectionTimeline},
		{"Budget", SectionBudget},
		{"Warranty Requirements", SectionWarranty},
		{"Submission Instructions", SectionSubmissionInstructions},
	},
	CategoryServices: {
		{"Service Overview", SectionOverview},
		{"Scope of Work", SectionRequirements},
		{"Service Level Requirements", SectionServiceLevels},
		{"Timeline", SectionTimeline},
		{"Budget", SectionBudget},
		{"Evaluation Criteria", SectionEvaluationCriteria},
		{"Submission Instructions", SectionSubmissionInstructions},
	},
	CategoryRawMaterials: {
		{"Material Overview", SectionOverview},
		{"Material Specifications", SectionRequirements},
		{"Quantity", SectionQuantity},
		{"Quality Standards", SectionQualityStandards},
		{"Delivery Timeline", SectionTimeline},
		{"Budget", SectionBudget},
		{"Submission Instructions", SectionSubmissionInstructions},
	},
}

// Markdown renders the document using the template for its category.
func (d RFPDocument) Markdown() string {
	layout, ok := rfpTemplates[d.Category]
	if !ok {
		layout = rfpTemplates[CategoryServices]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# REQUEST FOR PROPOSAL: %s PROCUREMENT\n", strings.ToUpper(d.Category.DisplayName()))
	if d.Title != "" {
		fmt.Fprintf(&b, "\n_%s_\n", d.Title)
	}
	for _, ts := range layout {
		fmt.Fprintf(&b, "\n## %s\n", ts.heading)
		if ts.section == SectionRequirements {
			for _, r := range d.Requirements {
				if r = strings.TrimSpace(r); r != "" {
					fmt.Fprintf(&b, "- %s\n", r)
				}
			}
			continue
		}
		if text := strings.TrimSpace(d.SectionText(ts.section)); text != "" {
			b.WriteString(text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

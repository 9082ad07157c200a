package agents

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
)

const notSpecified = "Not specified"

const classificationSystem = `You are a procurement classification assistant. Classify procurement requests
into exactly one of these categories: Software, Hardware, Services, or Raw Materials.
Analyze the request details and determine the most appropriate category.`

const generationSystem = `You are an RFP drafting assistant. Extract the relevant details from a
procurement request and produce a complete Request for Proposal. The RFP must
include an overview, requirements, timeline, budget and evaluation criteria.`

const critiqueSystem = `You review RFP documents before they are sent to suppliers. Check for
completeness, clarity, compliance with standard procurement practice and any
anomalies. Give clear feedback when revisions are needed.`

func classificationPrompt(req domain.ProcurementRequest) Prompt {
	categories := make([]string, 0, 4)
	for _, c := range domain.AllCategories() {
		categories = append(categories, c.DisplayName())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Classify the following procurement request into one of these categories: %s.\n\n",
		strings.Join(categories, ", "))
	fmt.Fprintf(&b, "REQUEST TITLE: %s\n", orNotSpecified(req.Title))
	fmt.Fprintf(&b, "REQUEST DESCRIPTION: %s\n", req.Description)
	fmt.Fprintf(&b, "ADDITIONAL NOTES: %s\n", orNotSpecified(req.AdditionalNotes))
	if req.CategoryHint != "" {
		fmt.Fprintf(&b, "REQUESTER CATEGORY HINT: %s\n", req.CategoryHint.DisplayName())
	}
	b.WriteString(`
Respond with a JSON object with these fields:
- category: one of the categories above
- confidence: a number between 0 and 1
- rationale: a brief explanation of the choice
`)
	return Prompt{
		Task:         StageClassification,
		System:       classificationSystem,
		User:         b.String(),
		Temperature:  0,
		JSONResponse: true,
	}
}

func generationPrompt(req domain.ProcurementRequest, cls domain.ClassificationResult) Prompt {
	budget := notSpecified
	if req.Budget > 0 {
		budget = fmt.Sprintf("%.2f %s", req.Budget, req.Currency)
	}
	requiredBy := notSpecified
	if req.RequiredBy != nil {
		requiredBy = req.RequiredBy.Format("2006-01-02")
	}

	var b strings.Builder
	b.WriteString("Draft a Request for Proposal from the following procurement request:\n\n")
	fmt.Fprintf(&b, "REQUEST TITLE: %s\n", orNotSpecified(req.Title))
	fmt.Fprintf(&b, "REQUEST DESCRIPTION: %s\n", req.Description)
	fmt.Fprintf(&b, "ESTIMATED BUDGET: %s\n", budget)
	fmt.Fprintf(&b, "TIMELINE: %s\n", orNotSpecified(req.Timeline))
	fmt.Fprintf(&b, "DEPARTMENT: %s\n", orNotSpecified(req.Department))
	fmt.Fprintf(&b, "REQUESTER: %s\n", orNotSpecified(req.Requester))
	fmt.Fprintf(&b, "REQUIRED BY DATE: %s\n", requiredBy)
	fmt.Fprintf(&b, "URGENT: %t\n", req.Urgent)
	fmt.Fprintf(&b, "ADDITIONAL NOTES: %s\n\n", orNotSpecified(req.AdditionalNotes))
	fmt.Fprintf(&b, "CATEGORY: %s\n", cls.Category.DisplayName())
	fmt.Fprintf(&b, `
Follow the standard template for %s procurements. Respond with a JSON object
with these fields:
- title: a short RFP title
- project_overview: a brief overview of the procurement need
- requirements: a list of specific requirements
- timeline: expected timeline for delivery
- budget: the budget as a number, never above the estimated budget
- evaluation_criteria: criteria for evaluating proposals
- submission_instructions: how suppliers submit proposals
- quantity: (if applicable) quantity of items needed
- warranty: (if applicable) warranty requirements
- sla: (if applicable) service level requirements
- quality: (if applicable) quality standards
`, cls.Category.DisplayName())

	return Prompt{
		Task:         StageGeneration,
		System:       generationSystem,
		User:         b.String(),
		Temperature:  0.2,
		JSONResponse: true,
	}
}

func critiquePrompt(doc domain.RFPDocument) Prompt {
	var b strings.Builder
	b.WriteString("Review the following Request for Proposal:\n\n")
	fmt.Fprintf(&b, "RFP TITLE: %s\n", doc.Title)
	fmt.Fprintf(&b, "RFP CATEGORY: %s\n", doc.Category.DisplayName())
	b.WriteString("RFP CONTENT:\n")
	b.WriteString(doc.Markdown())
	b.WriteString(`

Check completeness, clarity and specificity of the requirements, whether the
timeline and budget are clear and reasonable, compliance with standard
procurement practice, and any unusual requests or red flags. Do not be overly
restrictive; most reasonable RFPs should pass.

Respond with a JSON object with these fields:
- approved: true or false
- feedback: overall feedback
- issues: a list of specific issues that must be addressed (empty when approved)
`)
	return Prompt{
		Task:         StageApproval,
		System:       critiqueSystem,
		User:         b.String(),
		Temperature:  0,
		JSONResponse: true,
	}
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return notSpecified
	}
	return s
}

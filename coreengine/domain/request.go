package domain

import (
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"
)

// DefaultCurrency is applied to requests that do not name one.
const DefaultCurrency = "USD"

// Supplier is a recipient of an approved RFP.
type Supplier struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	ContactPerson string `json:"contact_person,omitempty"`
}

// ProcurementRequest is a submission entering the workflow.
// Once accepted into a run it is never modified; the run keeps its own copy.
type ProcurementRequest struct {
	ID              string     `json:"id,omitempty"`
	Title           string     `json:"title"`
	Requester       string     `json:"requester"`
	Department      string     `json:"department,omitempty"`
	Description     string     `json:"description"`
	CategoryHint    Category   `json:"category_hint,omitempty"`
	Budget          float64    `json:"budget"`
	Currency        string     `json:"currency,omitempty"`
	Urgent          bool       `json:"urgent,omitempty"`
	Timeline        string     `json:"timeline,omitempty"`
	RequiredBy      *time.Time `json:"required_by,omitempty"`
	AdditionalNotes string     `json:"additional_notes,omitempty"`
	Suppliers       []Supplier `json:"suppliers,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at,omitempty"`

	// AllowBudgetOverride lets the generated document carry a budget above
	// the declared one.
	AllowBudgetOverride bool `json:"allow_budget_override,omitempty"`
}

// Clone returns a deep copy of the request.
func (r ProcurementRequest) Clone() ProcurementRequest {
	out := r
	if r.RequiredBy != nil {
		t := *r.RequiredBy
		out.RequiredBy = &t
	}
	if r.Suppliers != nil {
		out.Suppliers = append([]Supplier(nil), r.Suppliers...)
	}
	return out
}

// Normalize fills defaults that do not change the meaning of the request.
func (r *ProcurementRequest) Normalize(defaultCurrency string) {
	r.Description = strings.TrimSpace(r.Description)
	r.Title = strings.TrimSpace(r.Title)
	if r.Currency == "" {
		r.Currency = defaultCurrency
		if r.Currency == "" {
			r.Currency = DefaultCurrency
		}
	}
	r.Currency = strings.ToUpper(r.Currency)
}

// Validate reports every problem with the request, joined into one error.
func (r ProcurementRequest) Validate() error {
	var problems []error
	if strings.TrimSpace(r.Description) == "" {
		problems = append(problems, errors.New("description is required"))
	}
	if math.IsNaN(r.Budget) || math.IsInf(r.Budget, 0) {
		problems = append(problems, errors.New("budget must be a finite number"))
	} else if r.Budget < 0 {
		problems = append(problems, fmt.Errorf("budget must be >= 0, got %v", r.Budget))
	}
	if r.CategoryHint != "" && !r.CategoryHint.IsValid() {
		problems = append(problems, fmt.Errorf("category hint %q is not a known category", r.CategoryHint))
	}
	for i, s := range r.Suppliers {
		if _, err := mail.ParseAddress(s.Email); err != nil {
			problems = append(problems, fmt.Errorf("supplier %d (%s): invalid email %q", i, s.Name, s.Email))
		}
	}
	return errors.Join(problems...)
}

// subjectLimit is the number of characters of the description used as a subject.
const subjectLimit = 60

// Subject returns the title, or a truncated description when no title was given.
func (r ProcurementRequest) Subject() string {
	if r.Title != "" {
		return r.Title
	}
	d := []rune(r.Description)
	if len(d) > subjectLimit {
		return strings.TrimSpace(string(d[:subjectLimit])) + "..."
	}
	return string(d)
}

// Package testutil provides shared test utilities and mocks for engine tests.
//
// All mocks in this package are safe for concurrent use and need no external
// services.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/procurement/coreengine/agents"
	"github.com/jeeves-cluster-organization/procurement/coreengine/config"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
)

// ErrUpstream is a generic capability failure for tests.
var ErrUpstream = errors.New("upstream unavailable")

// =============================================================================
// FIXTURES
// =============================================================================

// SampleRequest returns a valid Software request with a 500,000 USD budget.
func SampleRequest() domain.ProcurementRequest {
	return domain.ProcurementRequest{
		ID:          "req-1",
		Title:       "CRM platform",
		Requester:   "alice@example.com",
		Department:  "Sales",
		Description: "Cloud CRM for 200 sales staff with SSO and reporting",
		Budget:      500_000,
		Currency:    "USD",
		Timeline:    "Go-live within 6 months",
		Suppliers: []domain.Supplier{
			{Name: "Acme CRM", Email: "bids@acme.example"},
		},
	}
}

// ClassificationResponse returns a classification answer as JSON.
func ClassificationResponse(category string, confidence float64) string {
	return MustJSON(map[string]any{
		"category":   category,
		"confidence": confidence,
		"rationale":  "Matches " + category,
	})
}

// DocumentFields returns the fields of a complete generated document.
// Callers may edit the map before encoding it with MustJSON.
func DocumentFields(budget float64) map[string]any {
	return map[string]any{
		"title":                   "RFP for CRM platform",
		"project_overview":        "Replace the legacy CRM with a cloud platform",
		"requirements":            []any{"Single sign-on", "200 named users", "Sales reporting"},
		"timeline":                "Contract in Q2, go-live in Q4",
		"budget":                  budget,
		"evaluation_criteria":     "Cost 40%, functionality 40%, support 20%",
		"submission_instructions": "Email proposals to procurement@example.com",
	}
}

// DocumentResponse returns a complete generated document as JSON.
func DocumentResponse(budget float64) string {
	return MustJSON(DocumentFields(budget))
}

// CritiqueResponse returns a critique verdict as JSON.
func CritiqueResponse(approved bool, issues ...string) string {
	if issues == nil {
		issues = []string{}
	}
	return MustJSON(map[string]any{
		"approved": approved,
		"feedback": "Reviewed",
		"issues":   issues,
	})
}

// MustJSON encodes v or panics.
func MustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// FastEngineConfig returns the default engine config with millisecond timing
// so retry tests finish quickly.
func FastEngineConfig() *config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.StageTimeout = 200 * time.Millisecond
	cfg.Backoff = config.RetryBackoff{
		Initial:    time.Millisecond,
		Max:        5 * time.Millisecond,
		Multiplier: 2,
	}
	return cfg
}

// =============================================================================
// MOCK GENERATOR
// =============================================================================

// MockGenerator implements agents.Generator for testing.
// Responses are chosen by Prompt.Task.
type MockGenerator struct {
	// Responses maps a task (stage name) to its response.
	Responses map[string]string

	// DefaultResponse is returned when no task matches.
	DefaultResponse string

	// Delay simulates latency. It honours context cancellation.
	Delay time.Duration

	// Error causes Generate to return this error.
	Error error

	// GenerateFunc replaces the canned behaviour when set.
	GenerateFunc func(context.Context, agents.Prompt) (string, error)

	// Calls records every prompt received.
	Calls []agents.Prompt

	mu sync.Mutex
}

// NewMockGenerator returns a generator whose answers drive a run to Approved:
// Software classification, a complete 500,000 document and an approving critique.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		Responses: map[string]string{
			agents.StageClassification: ClassificationResponse("Software", 0.92),
			agents.StageGeneration:     DocumentResponse(500_000),
			agents.StageApproval:       CritiqueResponse(true),
		},
		DefaultResponse: "{}",
	}
}

// Generate implements agents.Generator.
func (m *MockGenerator) Generate(ctx context.Context, prompt agents.Prompt) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	fn := m.GenerateFunc
	delay := m.Delay
	mockErr := m.Error
	resp, ok := m.Responses[prompt.Task]
	if !ok {
		resp = m.DefaultResponse
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if mockErr != nil {
		return "", mockErr
	}
	return resp, nil
}

// WithResponse sets the response for a task.
func (m *MockGenerator) WithResponse(task, response string) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[task] = response
	return m
}

// WithError configures every call to fail with err.
func (m *MockGenerator) WithError(err error) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockGenerator) WithDelay(d time.Duration) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Delay = d
	return m
}

// GetCallCount returns the number of calls.
func (m *MockGenerator) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CallsFor returns how many calls were made for task.
func (m *MockGenerator) CallsFor(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.Calls {
		if p.Task == task {
			n++
		}
	}
	return n
}

// LastPrompt returns the most recent prompt for task.
func (m *MockGenerator) LastPrompt(task string) (agents.Prompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Task == task {
			return m.Calls[i], true
		}
	}
	return agents.Prompt{}, false
}

// Reset clears call history.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// =============================================================================
// SCRIPTED GENERATOR
// =============================================================================

// Reply is one scripted answer.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
	// IgnoreContext makes the reply sleep through Delay even after the
	// context is done, like a capability that does not honour deadlines.
	IgnoreContext bool
	// Panic, when non-nil, is raised instead of answering.
	Panic any
}

// ScriptedGenerator replays a fixed sequence of replies per task. When a
// task's script runs out, its last reply repeats. Tasks without a script
// are answered by Fallback.
type ScriptedGenerator struct {
	Fallback agents.Generator

	mu      sync.Mutex
	scripts map[string][]Reply
	calls   map[string]int
}

// NewScriptedGenerator creates a ScriptedGenerator that falls back to
// NewMockGenerator for unscripted tasks.
func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{
		Fallback: NewMockGenerator(),
		scripts:  make(map[string][]Reply),
		calls:    make(map[string]int),
	}
}

// Script appends replies for task.
func (s *ScriptedGenerator) Script(task string, replies ...Reply) *ScriptedGenerator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[task] = append(s.scripts[task], replies...)
	return s
}

// Generate implements agents.Generator.
func (s *ScriptedGenerator) Generate(ctx context.Context, prompt agents.Prompt) (string, error) {
	s.mu.Lock()
	script := s.scripts[prompt.Task]
	n := s.calls[prompt.Task]
	s.calls[prompt.Task] = n + 1
	s.mu.Unlock()

	if len(script) == 0 {
		return s.Fallback.Generate(ctx, prompt)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	reply := script[n]

	if reply.Panic != nil {
		panic(reply.Panic)
	}
	if reply.Delay > 0 {
		if reply.IgnoreContext {
			time.Sleep(reply.Delay)
		} else {
			select {
			case <-time.After(reply.Delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Text, nil
}

// CallsFor returns how many calls were made for task.
func (s *ScriptedGenerator) CallsFor(task string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[task]
}

// =============================================================================
// MOCK CRITIC
// =============================================================================

// MockCritic implements agents.Critic for testing.
type MockCritic struct {
	Result agents.Critique
	Error  error

	mu    sync.Mutex
	calls int
}

// NewMockCritic returns a critic that approves everything.
func NewMockCritic() *MockCritic {
	return &MockCritic{Result: agents.Critique{Approved: true, Feedback: "Looks good"}}
}

// Critique implements agents.Critic.
func (m *MockCritic) Critique(ctx context.Context, doc domain.RFPDocument) (agents.Critique, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Error != nil {
		return agents.Critique{}, m.Error
	}
	res := m.Result
	res.Issues = append([]string(nil), m.Result.Issues...)
	return res, nil
}

// WithIssues makes the critic reject with issues.
func (m *MockCritic) WithIssues(issues ...string) *MockCritic {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Result = agents.Critique{Approved: false, Feedback: "Needs work", Issues: issues}
	return m
}

// GetCallCount returns the number of calls.
func (m *MockCritic) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// =============================================================================
// RECORDING DELIVERER
// =============================================================================

// RecordingDeliverer records every delivered document.
type RecordingDeliverer struct {
	Error error

	mu   sync.Mutex
	docs []domain.RFPDocument
}

// NewRecordingDeliverer creates a RecordingDeliverer.
func NewRecordingDeliverer() *RecordingDeliverer {
	return &RecordingDeliverer{}
}

// Name identifies the deliverer.
func (r *RecordingDeliverer) Name() string { return "recording" }

// Deliver records doc, then returns Error.
func (r *RecordingDeliverer) Deliver(ctx context.Context, doc domain.RFPDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc.Clone())
	return r.Error
}

// Delivered returns copies of the delivered documents.
func (r *RecordingDeliverer) Delivered() []domain.RFPDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RFPDocument(nil), r.docs...)
}

// Package agents provides the workflow stages and the capability contracts
// they call.
//
// A stage receives a read-only envelope.View and returns exactly one typed
// output for the engine to merge:
//
//	ClassificationStage -> domain.ClassificationResult
//	GenerationStage     -> domain.RFPDocument
//	ApprovalStage       -> domain.ApprovalResult
//
// Stages never touch the RunState. Every failure is a *errs.StageError.
package agents

import (
	"context"
	"time"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

// Logger is the structured logger stages write to.
type Logger = observability.Logger

// Stage names, used in logs, metrics and the transition log.
const (
	StageClassification = "classification"
	StageGeneration     = "generation"
	StageApproval       = "approval"
)

// =============================================================================
// CAPABILITIES
// =============================================================================

// Prompt is one request to the generation capability.
type Prompt struct {
	// Task names the calling stage, for provider metrics and tracing.
	Task        string
	System      string
	User        string
	Temperature float64
	// JSONResponse asks the provider to constrain output to a JSON object.
	JSONResponse bool
}

// Generator is the text generation capability. Output may be malformed;
// stages validate it.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt Prompt) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// Critique is the critique capability's verdict on a document.
type Critique struct {
	Approved bool
	Feedback string
	Issues   []string
}

// Critic reviews a generated document.
type Critic interface {
	Critique(ctx context.Context, doc domain.RFPDocument) (Critique, error)
}

// CriticFunc adapts a function to Critic.
type CriticFunc func(ctx context.Context, doc domain.RFPDocument) (Critique, error)

// Critique calls f.
func (f CriticFunc) Critique(ctx context.Context, doc domain.RFPDocument) (Critique, error) {
	return f(ctx, doc)
}

// =============================================================================
// STAGE
// =============================================================================

// Stage is one step of the workflow.
type Stage interface {
	// Name identifies the stage in logs and the transition log.
	Name() string
	// Status is the run state while the stage executes.
	Status() kernel.Status
	// Execute produces the stage output from view. It must not retain view.
	Execute(ctx context.Context, view envelope.View) (any, error)
}

// Option configures a stage.
type Option func(*stageOptions)

type stageOptions struct {
	logger Logger
	now    func() time.Time
}

func buildOptions(opts []Option) stageOptions {
	o := stageOptions{logger: observability.NopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the stage logger.
func WithLogger(l Logger) Option {
	return func(o *stageOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock used for generation timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *stageOptions) {
		if now != nil {
			o.now = now
		}
	}
}

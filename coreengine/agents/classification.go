package agents

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
)

var tracer = otel.Tracer("procurement/agents")

// ClassificationStage assigns the request to a category.
type ClassificationStage struct {
	gen  Generator
	opts stageOptions
}

type classificationResponse struct {
	Category   string      `mapstructure:"category"`
	Confidence flexFloat   `mapstructure:"confidence"`
	Rationale  sectionText `mapstructure:"rationale"`
	Reasoning  sectionText `mapstructure:"reasoning"`
}

// NewClassificationStage creates the classification stage.
func NewClassificationStage(gen Generator, opts ...Option) *ClassificationStage {
	o := buildOptions(opts)
	o.logger = o.logger.Bind("stage", StageClassification)
	return &ClassificationStage{gen: gen, opts: o}
}

// Name implements Stage.
func (s *ClassificationStage) Name() string { return StageClassification }

// Status implements Stage.
func (s *ClassificationStage) Status() kernel.Status { return kernel.StatusClassifying }

// Execute asks the generator for a category and validates the answer against
// the closed category set.
func (s *ClassificationStage) Execute(ctx context.Context, view envelope.View) (any, error) {
	ctx, span := tracer.Start(ctx, "stage.classification",
		trace.WithAttributes(attribute.String("procurement.run.id", view.RunID)))
	defer span.End()

	result, err := s.classify(ctx, view.Request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("procurement.category", string(result.Category)),
		attribute.Float64("procurement.confidence", result.Confidence),
	)
	span.SetStatus(codes.Ok, "classified")
	return result, nil
}

func (s *ClassificationStage) classify(ctx context.Context, req domain.ProcurementRequest) (domain.ClassificationResult, error) {
	start := time.Now()
	raw, err := s.gen.Generate(ctx, classificationPrompt(req))
	if err != nil {
		return domain.ClassificationResult{}, upstreamError(err)
	}
	s.opts.logger.Debug("classification_response",
		"response", truncate(raw, 200),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	obj, err := extractAndParseJSON(raw)
	if err != nil {
		return domain.ClassificationResult{}, errs.Wrap(errs.KindClassificationUnparseable, err, "classification output")
	}
	if !hasKey(obj, "category") {
		return domain.ClassificationResult{}, errs.New(errs.KindClassificationUnparseable, "classification output has no category")
	}
	if !hasKey(obj, "confidence") {
		return domain.ClassificationResult{}, errs.New(errs.KindClassificationUnparseable, "classification output has no confidence")
	}

	var resp classificationResponse
	if err := decodeResponse(obj, &resp); err != nil {
		return domain.ClassificationResult{}, errs.Wrap(errs.KindClassificationUnparseable, err, "decode classification")
	}

	category, err := domain.ParseCategory(resp.Category)
	if err != nil {
		return domain.ClassificationResult{}, errs.Wrap(errs.KindClassificationUnparseable, err, "classification output")
	}

	result := domain.ClassificationResult{
		Category:   category,
		Confidence: float64(resp.Confidence),
		Rationale:  firstNonEmpty(resp.Rationale, resp.Reasoning),
	}
	if err := result.Validate(); err != nil {
		return domain.ClassificationResult{}, errs.Wrap(errs.KindClassificationUnparseable, err, "classification output")
	}

	s.opts.logger.Info("classification_completed",
		"category", result.Category,
		"confidence", result.Confidence,
	)
	return result, nil
}

// upstreamError maps a capability failure onto a stage error. A capability
// that already returns a *errs.StageError keeps its kind.
func upstreamError(err error) error {
	if se, ok := errs.As(err); ok {
		return se
	}
	return errs.UpstreamUnavailable(err)
}

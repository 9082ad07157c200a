package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/procurement/coreengine/config"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
)

// GenerationStage drafts the RFP document for a classified request.
type GenerationStage struct {
	gen             Generator
	required        []domain.Section
	policy          config.IncompleteDocumentPolicy
	defaultCurrency string
	opts            stageOptions
}

type documentResponse struct {
	Title                  sectionText `mapstructure:"title"`
	ProjectOverview        sectionText `mapstructure:"project_overview"`
	Overview               sectionText `mapstructure:"overview"`
	Requirements           itemList    `mapstructure:"requirements"`
	Timeline               sectionText `mapstructure:"timeline"`
	Budget                 amount      `mapstructure:"budget"`
	EvaluationCriteria     sectionText `mapstructure:"evaluation_criteria"`
	SubmissionInstructions sectionText `mapstructure:"submission_instructions"`
	Quantity               sectionText `mapstructure:"quantity"`
	Warranty               sectionText `mapstructure:"warranty"`
	SLA                    sectionText `mapstructure:"sla"`
	ServiceLevels          sectionText `mapstructure:"service_levels"`
	Quality                sectionText `mapstructure:"quality"`
	QualityStandards       sectionText `mapstructure:"quality_standards"`
}

// NewGenerationStage creates the generation stage. cfg supplies the required
// sections, the incomplete-document policy and the default currency.
func NewGenerationStage(gen Generator, cfg *config.EngineConfig, opts ...Option) *GenerationStage {
	o := buildOptions(opts)
	o.logger = o.logger.Bind("stage", StageGeneration)
	return &GenerationStage{
		gen:             gen,
		required:        append([]domain.Section(nil), cfg.RequiredSections...),
		policy:          cfg.IncompleteDocuments,
		defaultCurrency: cfg.DefaultCurrency,
		opts:            o,
	}
}

// Name implements Stage.
func (s *GenerationStage) Name() string { return StageGeneration }

// Status implements Stage.
func (s *GenerationStage) Status() kernel.Status { return kernel.StatusGenerating }

// Execute drafts the document from the request and its classification.
func (s *GenerationStage) Execute(ctx context.Context, view envelope.View) (any, error) {
	ctx, span := tracer.Start(ctx, "stage.generation",
		trace.WithAttributes(attribute.String("procurement.run.id", view.RunID)))
	defer span.End()

	if view.Classification == nil {
		err := errs.New(errs.KindInternal, "generation requires a classification")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	doc, err := s.generate(ctx, view.Request, *view.Classification)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("procurement.budget", doc.Budget),
		attribute.Int("procurement.requirements", len(doc.Requirements)),
	)
	span.SetStatus(codes.Ok, "generated")
	return doc, nil
}

func (s *GenerationStage) generate(ctx context.Context, req domain.ProcurementRequest, cls domain.ClassificationResult) (domain.RFPDocument, error) {
	start := time.Now()
	raw, err := s.gen.Generate(ctx, generationPrompt(req, cls))
	if err != nil {
		return domain.RFPDocument{}, upstreamError(err)
	}
	s.opts.logger.Debug("generation_response",
		"response", truncate(raw, 200),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	obj, err := extractAndParseJSON(raw)
	if err != nil {
		return domain.RFPDocument{}, errs.Wrap(errs.KindIncompleteDocument, err, "generation output")
	}
	var resp documentResponse
	if err := decodeResponse(obj, &resp); err != nil {
		return domain.RFPDocument{}, errs.Wrap(errs.KindIncompleteDocument, err, "decode document")
	}

	doc := s.assemble(req, cls, resp)

	if req.Budget > 0 && doc.Budget > req.Budget && !req.AllowBudgetOverride {
		return domain.RFPDocument{}, errs.New(errs.KindIncompleteDocument,
			"document budget %.2f exceeds declared budget %.2f", doc.Budget, req.Budget)
	}

	if missing := doc.MissingSections(s.required); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		if s.policy == config.IncompleteFail {
			return domain.RFPDocument{}, errs.New(errs.KindIncompleteDocument,
				"missing required sections: %s", strings.Join(names, ", "))
		}
		s.opts.logger.Warn("document_incomplete", "missing", strings.Join(names, ","))
	}

	s.opts.logger.Info("generation_completed",
		"category", doc.Category,
		"budget", doc.Budget,
		"requirements", len(doc.Requirements),
	)
	return doc, nil
}

func (s *GenerationStage) assemble(req domain.ProcurementRequest, cls domain.ClassificationResult, resp documentResponse) domain.RFPDocument {
	title := firstNonEmpty(resp.Title)
	if title == "" {
		title = fmt.Sprintf("RFP for %s", req.Subject())
	}
	currency := req.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	budget := float64(resp.Budget)
	if budget <= 0 {
		budget = req.Budget
	}

	doc := domain.RFPDocument{
		RequestID:              req.ID,
		Title:                  title,
		Category:               cls.Category,
		Overview:               firstNonEmpty(resp.ProjectOverview, resp.Overview),
		Requirements:           []string(resp.Requirements),
		Timeline:               firstNonEmpty(resp.Timeline),
		Budget:                 budget,
		Currency:               currency,
		GeneratedAt:            s.opts.now(),
		EvaluationCriteria:     firstNonEmpty(resp.EvaluationCriteria),
		SubmissionInstructions: firstNonEmpty(resp.SubmissionInstructions),
		Quantity:               firstNonEmpty(resp.Quantity),
		Warranty:               firstNonEmpty(resp.Warranty),
		ServiceLevels:          firstNonEmpty(resp.SLA, resp.ServiceLevels),
		QualityStandards:       firstNonEmpty(resp.Quality, resp.QualityStandards),
	}
	if len(req.Suppliers) > 0 {
		doc.Suppliers = append([]domain.Supplier(nil), req.Suppliers...)
	}
	return doc
}

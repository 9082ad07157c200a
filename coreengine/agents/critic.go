package agents

import (
	"context"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/typeutil"
)

// GeneratorCritic implements Critic on top of a Generator, asking it for a
// JSON verdict of the form {"approved": bool, "feedback": str, "issues": [str]}.
type GeneratorCritic struct {
	gen    Generator
	logger Logger
}

type critiqueResponse struct {
	Approved any         `mapstructure:"approved"`
	Feedback sectionText `mapstructure:"feedback"`
	Issues   itemList    `mapstructure:"issues"`
}

// NewGeneratorCritic wraps gen as a Critic.
func NewGeneratorCritic(gen Generator, opts ...Option) *GeneratorCritic {
	o := buildOptions(opts)
	return &GeneratorCritic{gen: gen, logger: o.logger.Bind("component", "critic")}
}

// Critique implements Critic. A verdict that cannot be parsed counts as an
// unavailable upstream, so the approval stage retries it.
func (c *GeneratorCritic) Critique(ctx context.Context, doc domain.RFPDocument) (Critique, error) {
	raw, err := c.gen.Generate(ctx, critiquePrompt(doc))
	if err != nil {
		return Critique{}, upstreamError(err)
	}

	obj, err := extractAndParseJSON(raw)
	if err != nil {
		c.logger.Warn("critique_unparseable", "response", truncate(raw, 200))
		return Critique{}, errs.UpstreamUnavailable(err)
	}
	var resp critiqueResponse
	if err := decodeResponse(obj, &resp); err != nil {
		return Critique{}, errs.UpstreamUnavailable(err)
	}

	approved, ok := typeutil.SafeBool(resp.Approved)
	if !ok {
		c.logger.Warn("critique_missing_verdict", "response", truncate(raw, 200))
		return Critique{}, errs.New(errs.KindUpstreamUnavailable, "critique verdict missing or not a boolean")
	}

	return Critique{
		Approved: approved,
		Feedback: string(resp.Feedback),
		Issues:   []string(resp.Issues),
	}, nil
}

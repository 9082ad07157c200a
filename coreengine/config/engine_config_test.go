package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.Equal(t, 1_000_000.0, cfg.AutoApprovalCeiling)
	assert.Equal(t, []domain.Section{
		domain.SectionOverview, domain.SectionRequirements, domain.SectionTimeline, domain.SectionBudget,
	}, cfg.RequiredSections)
	assert.Equal(t, 60*time.Second, cfg.StageTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, IncompleteReject, cfg.IncompleteDocuments)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *EngineConfig)
		wantErr string
	}{
		{"negative ceiling", func(c *EngineConfig) { c.AutoApprovalCeiling = -1 }, "auto_approval_ceiling"},
		{"nan ceiling", func(c *EngineConfig) { c.AutoApprovalCeiling = math.NaN() }, "auto_approval_ceiling"},
		{"no sections", func(c *EngineConfig) { c.RequiredSections = nil }, "must not be empty"},
		{"unknown section", func(c *EngineConfig) { c.RequiredSections = []domain.Section{"Appendix"} }, "unknown section"},
		{"duplicate section", func(c *EngineConfig) {
			c.RequiredSections = []domain.Section{domain.SectionBudget, domain.SectionBudget}
		}, "listed twice"},
		{"zero timeout", func(c *EngineConfig) { c.StageTimeout = 0 }, "stage_timeout"},
		{"negative retries", func(c *EngineConfig) { c.MaxRetries = -1 }, "max_retries"},
		{"initial over max", func(c *EngineConfig) { c.Backoff.Initial = time.Minute }, "exceeds backoff.max"},
		{"multiplier below one", func(c *EngineConfig) { c.Backoff.Multiplier = 0.5 }, "multiplier"},
		{"jitter out of range", func(c *EngineConfig) { c.Backoff.Jitter = 1 }, "jitter"},
		{"bad policy", func(c *EngineConfig) { c.IncompleteDocuments = "ignore" }, "incomplete_documents"},
		{"bad currency", func(c *EngineConfig) { c.DefaultCurrency = "dollars" }, "default_currency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want *ValidationError, got %v", err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.StageTimeout = 0
	cfg.MaxRetries = -3

	var verr *ValidationError
	require.ErrorAs(t, cfg.Validate(), &verr)
	assert.Len(t, verr.Problems, 2)
}

func TestZeroRetriesIsValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxRetries = 0
	assert.NoError(t, cfg.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultEngineConfig()
	cp := cfg.Clone()
	cp.RequiredSections[0] = domain.SectionWarranty
	cp.MaxRetries = 9

	assert.Equal(t, domain.SectionOverview, cfg.RequiredSections[0])
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
auto_approval_ceiling: 250000
required_sections: [Overview, Budget]
stage_timeout: 5s
max_retries: 4
backoff:
  initial: 10ms
  max: 1s
  multiplier: 3
incomplete_documents: fail
`))
	require.NoError(t, err)

	assert.Equal(t, 250000.0, cfg.AutoApprovalCeiling)
	assert.Equal(t, []domain.Section{domain.SectionOverview, domain.SectionBudget}, cfg.RequiredSections)
	assert.Equal(t, 5*time.Second, cfg.StageTimeout)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.Backoff.Initial)
	assert.Equal(t, 3.0, cfg.Backoff.Multiplier)
	assert.Equal(t, IncompleteFail, cfg.IncompleteDocuments)
	assert.Equal(t, "USD", cfg.DefaultCurrency, "unset keys keep defaults")
}

func TestParseEmptyYieldsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("max_retry: 3\n"))
	assert.Error(t, err)
}

func TestParseValidates(t *testing.T) {
	_, err := Parse([]byte("max_retries: -1\n"))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoadAndMarshal(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.AutoApprovalCeiling = 42
	cfg.Backoff.Initial = 100 * time.Millisecond

	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestToMap(t *testing.T) {
	m := DefaultEngineConfig().ToMap()
	assert.Equal(t, "1m0s", m["stage_timeout"])
	assert.Equal(t, []string{"Overview", "Requirements", "Timeline", "Budget"}, m["required_sections"])
}

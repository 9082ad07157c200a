package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// JSON EXTRACTION TESTS
// =============================================================================

func TestExtractAndParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]any
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"category": "Software", "confidence": 0.9}`,
			want:  map[string]any{"category": "Software", "confidence": 0.9},
		},
		{
			name:  "fenced block",
			input: "Here you go:\n```json\n{\"category\": \"Hardware\"}\n```",
			want:  map[string]any{"category": "Hardware"},
		},
		{
			name:  "braces inside strings",
			input: `Result: {"rationale": "uses {curly} braces", "category": "Services"} done`,
			want:  map[string]any{"rationale": "uses {curly} braces", "category": "Services"},
		},
		{
			name:  "escaped quote in string",
			input: `{"rationale": "the \"best\" fit }", "category": "Software"}`,
			want:  map[string]any{"rationale": `the "best" fit }`, "category": "Software"},
		},
		{
			name:  "skips invalid first candidate",
			input: `{not json} then {"category": "Software"}`,
			want:  map[string]any{"category": "Software"},
		},
		{
			name:  "nested object",
			input: `prefix {"a": {"b": 1}} suffix`,
			want:  map[string]any{"a": map[string]any{"b": 1.0}},
		},
		{name: "empty", input: "   ", wantErr: true},
		{name: "no object", input: "I cannot help with that.", wantErr: true},
		{name: "array only", input: `["Software"]`, wantErr: true},
		{name: "unterminated", input: `{"category": "Software"`, wantErr: true},
		{name: "null", input: `null`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractAndParseJSON(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, errNoJSONObject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}

// =============================================================================
// RESPONSE DECODING TESTS
// =============================================================================

func TestDecodeDocumentResponse(t *testing.T) {
	raw := map[string]any{
		"Project_Overview": "Replace laptops",
		"requirements":     "- 16GB RAM\n- 14 inch screen",
		"timeline":         []any{"Order in May", "Deliver in June"},
		"budget":           "$120,000",
		"sla":              map[string]any{"response": "4h"},
		"unknown":          "ignored",
	}

	var resp documentResponse
	require.NoError(t, decodeResponse(raw, &resp))

	assert.Equal(t, sectionText("Replace laptops"), resp.ProjectOverview)
	assert.Equal(t, itemList{"16GB RAM", "14 inch screen"}, resp.Requirements)
	assert.Equal(t, sectionText("Order in May\nDeliver in June"), resp.Timeline)
	assert.Equal(t, amount(120000), resp.Budget)
	assert.Equal(t, sectionText("response: 4h"), resp.SLA)
}

func TestDecodeUnparseableBudgetIsZero(t *testing.T) {
	var resp documentResponse
	require.NoError(t, decodeResponse(map[string]any{"budget": "to be confirmed"}, &resp))
	assert.Zero(t, resp.Budget)
}

func TestDecodeClassificationConfidence(t *testing.T) {
	var resp classificationResponse
	require.NoError(t, decodeResponse(map[string]any{"category": "Software", "confidence": "0.75"}, &resp))
	assert.Equal(t, flexFloat(0.75), resp.Confidence)

	var bad classificationResponse
	assert.Error(t, decodeResponse(map[string]any{"category": "Software", "confidence": "high"}, &bad))
}

func TestHasKey(t *testing.T) {
	raw := map[string]any{"Category": "Software", "confidence": nil}
	assert.True(t, hasKey(raw, "category"))
	assert.False(t, hasKey(raw, "confidence"), "null counts as missing")
	assert.False(t, hasKey(raw, "rationale"))
}

func TestCritiqueIssues(t *testing.T) {
	tests := []struct {
		name     string
		critique Critique
		want     []string
	}{
		{"approved without issues", Critique{Approved: true}, []string{}},
		{"approved with issues keeps them", Critique{Approved: true, Issues: []string{"Minor typo"}}, []string{"Minor typo"}},
		{"rejected with issues", Critique{Issues: []string{" Vague scope ", ""}}, []string{"Vague scope"}},
		{"rejected with feedback only", Critique{Feedback: "Too vague"}, []string{"Too vague"}},
		{"rejected with nothing", Critique{}, []string{fallbackCritiqueIssue}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, critiqueIssues(tt.critique))
		})
	}
}

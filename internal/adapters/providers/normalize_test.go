package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

func TestNormalize_AliasesAndKinds(t *testing.T) {
	n := NewNormalizer(KindOpenAI)
	fields, conf, err := n.Normalize(`{
		"Market Position": "challenger",
		"pros": ["fast", "cheap"],
		"cons": "- slow support\n- few integrations",
		"founded_year": 2009,
		"HQ": "Berlin",
		"confidence": 8
	}`)
	require.NoError(t, err)

	assert.Equal(t, core.ScalarValue("challenger"), fields[core.FieldMarketPosition])
	assert.Equal(t, []string{"fast", "cheap"}, fields[core.FieldStrengths].Items)
	assert.Equal(t, []string{"slow support", "few integrations"}, fields[core.FieldWeaknesses].Items)
	assert.Equal(t, "2009", fields[core.FieldFounded].Text)
	assert.Equal(t, "Berlin", fields[core.FieldHeadquarters].Text)
	assert.InDelta(t, 0.8, conf, 1e-9)
}

func TestNormalize_UnwrapsNestedObjects(t *testing.T) {
	n := NewNormalizer(KindAnthropic)
	fields, conf, err := n.Normalize("Here is the analysis:\n```json\n" + `{
		"company": {"overview": "Makes widgets", "sector": "Manufacturing"},
		"swot": {"key_strengths": ["scale"], "threats": ["tariffs"]}
	}` + "\n```")
	require.NoError(t, err)

	assert.Equal(t, "Makes widgets", fields[core.FieldSummary].Text)
	assert.Equal(t, "Manufacturing", fields[core.FieldIndustry].Text)
	assert.Equal(t, []string{"scale"}, fields[core.FieldStrengths].Items)
	assert.Equal(t, []string{"tariffs"}, fields[core.FieldThreats].Items)
	assert.Equal(t, DefaultConfidence, conf)
}

func TestNormalize_ProviderSpecificAliases(t *testing.T) {
	payload := `{"key_strengths": ["brand"]}`

	fields, _, err := NewNormalizer(KindAnthropic).Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"brand"}, fields[core.FieldStrengths].Items)

	_, _, err = NewNormalizer(KindOpenAI).Normalize(payload)
	assert.Error(t, err)
}

func TestNormalize_DropsEmptyValues(t *testing.T) {
	fields, _, err := NewNormalizer(KindOpenAI).Normalize(`{"summary": "  ", "industry": "SaaS", "strengths": []}`)
	require.NoError(t, err)
	assert.Len(t, fields, 1)
	assert.Contains(t, fields, core.FieldIndustry)
}

func TestNormalize_Failures(t *testing.T) {
	n := NewNormalizer(KindOpenAI)

	_, _, err := n.Normalize("I could not find that company.")
	assert.Error(t, err)

	_, _, err = n.Normalize(`{"irrelevant": true}`)
	assert.Error(t, err)
}

func TestScaleConfidence(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{0.7, 0.7, true},
		{7.0, 0.7, true},
		{70.0, 0.7, true},
		{-0.5, 0, true},
		{250.0, 0, false},
		{"85%", 0.85, true},
		{"0.4", 0.4, true},
		{"high", 0.9, true},
		{"Low", 0.3, true},
		{"unsure", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ScaleConfidence(tt.in)
		assert.Equal(t, tt.ok, ok, "input %v", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "input %v", tt.in)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"prose around", `result: {"a":{"b":2}} done`, `{"a":{"b":2}}`},
		{"braces in strings", `{"a":"}{"}`, `{"a":"}{"}`},
		{"escaped quote", `{"a":"say \"hi\" }"}`, `{"a":"say \"hi\" }"}`},
		{"array", `list: [1,2]`, `[1,2]`},
		{"unterminated", `{"a":1`, ``},
		{"none", `nothing here`, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ExtractJSON(tt.input))
		})
	}
}

func TestFoldKey(t *testing.T) {
	assert.Equal(t, "marketposition", foldKey("market_position"))
	assert.Equal(t, "marketposition", foldKey("marketPosition"))
	assert.Equal(t, "marketposition", foldKey("Market Position"))
}

package service

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

func success(provider string, conf float64, fields core.Fields) *core.ProviderResult {
	return &core.ProviderResult{Provider: provider, Target: "Acme Corp", Fields: fields, Confidence: conf, Attempt: 1}
}

func TestAggregate_MergesStrengthsByPriority(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	a := success("providerA", 0.9, core.Fields{core.FieldStrengths: core.ListValue("fast", "cheap")})
	b := success("providerB", 0.6, core.Fields{core.FieldStrengths: core.ListValue("fast", "scalable")})

	got := agg.Aggregate("Acme Corp", []string{"providerA", "providerB"}, []*core.ProviderResult{b, a})

	assert.Equal(t, []string{"fast", "cheap", "scalable"}, got.Fields[core.FieldStrengths].Items)
	assert.Equal(t, []string{"providerA", "providerB"}, got.ProvidersUsed)
	assert.Empty(t, got.ProvidersFailed)
	assert.Equal(t, []string{"providerA", "providerB"}, got.FieldProvenance[core.FieldStrengths])
}

func TestAggregate_TimedOutProvider(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	a := success("providerA", 0.9, core.Fields{core.FieldStrengths: core.ListValue("fast", "cheap")})
	b := core.FailedResult("providerB", "Acme Corp", core.KindTimeout, "deadline exceeded", 3)

	got := agg.Aggregate("Acme Corp", []string{"providerA", "providerB"}, []*core.ProviderResult{a, b})

	assert.Equal(t, []string{"fast", "cheap"}, got.Fields[core.FieldStrengths].Items)
	assert.Equal(t, []string{"providerB"}, got.ProvidersFailed)
	assert.Equal(t, core.KindTimeout, got.ProviderErrors["providerB"])
	assert.True(t, got.HasSuccess())
}

func TestAggregate_MissingSelectedProviderIsTimeout(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())
	a := success("openai", 0.8, core.Fields{core.FieldSummary: core.ScalarValue("A company")})

	got := agg.Aggregate("Acme Corp", []string{"openai", "perplexity"}, []*core.ProviderResult{a})

	assert.Equal(t, []string{"perplexity"}, got.ProvidersFailed)
	assert.Equal(t, core.KindTimeout, got.ProviderErrors["perplexity"])
}

func TestAggregate_ScalarHighestConfidenceWins(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	results := []*core.ProviderResult{
		success("perplexity", 0.5, core.Fields{core.FieldHeadquarters: core.ScalarValue("Austin")}),
		success("openai", 0.7, core.Fields{core.FieldHeadquarters: core.ScalarValue("Dallas")}),
	}
	got := agg.Aggregate("Acme Corp", []string{"openai", "perplexity"}, results)

	assert.Equal(t, "Dallas", got.Fields[core.FieldHeadquarters].Text)
	// Factual priority puts perplexity first in provenance even though it lost.
	assert.Equal(t, []string{"perplexity", "openai"}, got.FieldProvenance[core.FieldHeadquarters])
}

func TestAggregate_ScalarTieUsesClassPriority(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	results := []*core.ProviderResult{
		success("openai", 0.8, core.Fields{
			core.FieldHeadquarters:   core.ScalarValue("Dallas"),
			core.FieldMarketPosition: core.ScalarValue("challenger"),
		}),
		success("perplexity", 0.8, core.Fields{
			core.FieldHeadquarters:   core.ScalarValue("Austin"),
			core.FieldMarketPosition: core.ScalarValue("leader"),
		}),
	}
	got := agg.Aggregate("Acme Corp", []string{"openai", "perplexity"}, results)

	assert.Equal(t, "Austin", got.Fields[core.FieldHeadquarters].Text)
	assert.Equal(t, "challenger", got.Fields[core.FieldMarketPosition].Text)
}

func TestAggregate_ScalarTieUnlistedUsesProviderID(t *testing.T) {
	agg := NewAggregator(AggregationPolicy{})

	results := []*core.ProviderResult{
		success("zeta", 0.5, core.Fields{core.FieldIndustry: core.ScalarValue("Retail")}),
		success("alpha", 0.5, core.Fields{core.FieldIndustry: core.ScalarValue("Commerce")}),
	}
	got := agg.Aggregate("Acme Corp", nil, results)

	assert.Equal(t, "Commerce", got.Fields[core.FieldIndustry].Text)
}

func TestAggregate_ListDedupeAndCap(t *testing.T) {
	agg := NewAggregator(AggregationPolicy{MaxListItems: 3})

	results := []*core.ProviderResult{
		success("a", 0.9, core.Fields{core.FieldWeaknesses: core.ListValue("Slow support", "PRICEY", "")}),
		success("b", 0.5, core.Fields{core.FieldWeaknesses: core.ListValue(" slow  Support ", "pricey", "Legacy UI", "Small team")}),
	}
	got := agg.Aggregate("Acme Corp", []string{"a", "b"}, results)

	assert.Equal(t, []string{"Slow support", "PRICEY", "Legacy UI"}, got.Fields[core.FieldWeaknesses].Items)
}

func TestAggregate_ListDedupeKeepsPunctuation(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	results := []*core.ProviderResult{
		success("a", 0.9, core.Fields{core.FieldStrengths: core.ListValue("C++ SDK", "C# SDK", "Node.js support")}),
		success("b", 0.5, core.Fields{core.FieldStrengths: core.ListValue("c++ sdk", "Node JS support")}),
	}
	got := agg.Aggregate("Acme Corp", []string{"a", "b"}, results)

	assert.Equal(t, []string{"C++ SDK", "C# SDK", "Node.js support", "Node JS support"},
		got.Fields[core.FieldStrengths].Items)
}

func TestAggregate_OmitsEmptyFields(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	results := []*core.ProviderResult{
		success("a", 0.9, core.Fields{core.FieldPricing: core.ScalarValue(""), core.FieldThreats: core.ListValue()}),
	}
	got := agg.Aggregate("Acme Corp", []string{"a"}, results)

	assert.NotContains(t, got.Fields, core.FieldPricing)
	assert.NotContains(t, got.Fields, core.FieldThreats)
	assert.NotContains(t, got.FieldProvenance, core.FieldPricing)
}

func TestAggregate_PermutationInvariant(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	base := []*core.ProviderResult{
		success("openai", 0.8, core.Fields{
			core.FieldIndustry:  core.ScalarValue("Software"),
			core.FieldStrengths: core.ListValue("brand", "API"),
			core.FieldSummary:   core.ScalarValue("Maker of widgets"),
		}),
		success("perplexity", 0.8, core.Fields{
			core.FieldIndustry:  core.ScalarValue("SaaS"),
			core.FieldStrengths: core.ListValue("api", "pricing"),
			core.FieldProducts:  core.ListValue("Widget Pro"),
		}),
		success("anthropic", 0.6, core.Fields{
			core.FieldSummary:  core.ScalarValue("Widget company"),
			core.FieldProducts: core.ListValue("widget pro", "Widget Lite"),
		}),
		core.FailedResult("other", "Acme Corp", core.KindUnauthorized, "bad key", 1),
	}
	selected := []string{"openai", "perplexity", "anthropic", "other"}
	want := agg.Aggregate("Acme Corp", selected, base)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]*core.ProviderResult(nil), base...)
		rng.Shuffle(len(shuffled), func(x, y int) { shuffled[x], shuffled[y] = shuffled[y], shuffled[x] })

		got := agg.Aggregate("Acme Corp", selected, shuffled)
		require.Equal(t, want.Fields, got.Fields, "permutation %d", i)
		require.Equal(t, want.FieldProvenance, got.FieldProvenance, "permutation %d", i)
		require.Equal(t, want.DataQualityScore, got.DataQualityScore, "permutation %d", i)
	}
}

func TestAggregate_ScoreBounds(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	none := agg.Aggregate("Acme Corp", []string{"a", "b"}, []*core.ProviderResult{
		core.FailedResult("a", "Acme Corp", core.KindTimeout, "", 3),
	})
	assert.Equal(t, 0.0, none.DataQualityScore)

	for _, conf := range []float64{-2, 0, 0.3, 1, 7} {
		got := agg.Aggregate("Acme Corp", []string{"a"}, []*core.ProviderResult{
			success("a", conf, core.Fields{core.FieldIndustry: core.ScalarValue("x")}),
		})
		assert.GreaterOrEqual(t, got.DataQualityScore, 0.0, "conf %v", conf)
		assert.LessOrEqual(t, got.DataQualityScore, 1.0, "conf %v", conf)
	}
}

func TestAggregate_ScoreMonotonic(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())
	selected := []string{"a", "b", "c"}
	ind := func(v string) core.Fields { return core.Fields{core.FieldIndustry: core.ScalarValue(v)} }

	oneOfThree := agg.Aggregate("T", selected, []*core.ProviderResult{success("a", 0.7, ind("Fintech"))})
	assert.Greater(t, oneOfThree.DataQualityScore, 0.0)

	twoDisagree := agg.Aggregate("T", selected, []*core.ProviderResult{
		success("a", 0.7, ind("Fintech")), success("b", 0.7, ind("Healthcare")),
	})
	twoAgree := agg.Aggregate("T", selected, []*core.ProviderResult{
		success("a", 0.7, ind("Fintech")), success("b", 0.7, ind("fintech")),
	})
	higherConf := agg.Aggregate("T", selected, []*core.ProviderResult{
		success("a", 0.9, ind("Fintech")), success("b", 0.9, ind("fintech")),
	})

	assert.Greater(t, twoDisagree.DataQualityScore, oneOfThree.DataQualityScore, "more providers")
	assert.Greater(t, twoAgree.DataQualityScore, twoDisagree.DataQualityScore, "more agreement")
	assert.Greater(t, higherConf.DataQualityScore, twoAgree.DataQualityScore, "higher confidence")
}

func TestAggregate_OneOfThreeSucceeds(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())
	selected := []string{"openai", "perplexity", "anthropic"}

	got := agg.Aggregate("Acme Corp", selected, []*core.ProviderResult{
		success("openai", 0.8, core.Fields{core.FieldSummary: core.ScalarValue("ok")}),
		core.FailedResult("perplexity", "Acme Corp", core.KindRateLimited, "429", 3),
		core.FailedResult("anthropic", "Acme Corp", core.KindInvalidResponse, "bad json", 1),
	})

	all := agg.Aggregate("Acme Corp", selected, []*core.ProviderResult{
		success("openai", 0.8, core.Fields{core.FieldSummary: core.ScalarValue("ok")}),
		success("perplexity", 0.8, core.Fields{core.FieldSummary: core.ScalarValue("ok")}),
		success("anthropic", 0.8, core.Fields{core.FieldSummary: core.ScalarValue("ok")}),
	})

	assert.Equal(t, []string{"anthropic", "perplexity"}, got.ProvidersFailed)
	assert.Greater(t, got.DataQualityScore, 0.0)
	assert.Less(t, got.DataQualityScore, all.DataQualityScore)
}

func TestAggregate_DuplicateResultsPreferSuccess(t *testing.T) {
	agg := NewAggregator(DefaultAggregationPolicy())

	failed := core.FailedResult("a", "T", core.KindTimeout, "", 1)
	ok := success("a", 0.4, core.Fields{core.FieldSummary: core.ScalarValue("fine")})

	for _, order := range [][]*core.ProviderResult{{failed, ok}, {ok, failed}} {
		got := agg.Aggregate("T", []string{"a"}, order)
		assert.Equal(t, []string{"a"}, got.ProvidersUsed, fmt.Sprint(order[0].Succeeded()))
		assert.Empty(t, got.ProvidersFailed)
	}
}

func TestNewAggregator_Defaults(t *testing.T) {
	p := NewAggregator(AggregationPolicy{}).Policy()

	assert.Equal(t, 10, p.MaxListItems)
	assert.Equal(t, DefaultQualityWeights(), p.Weights)
	assert.Equal(t, []core.Field{core.FieldIndustry, core.FieldHeadquarters, core.FieldFounded}, p.CrossCheckFields)
}

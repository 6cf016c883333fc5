package service

import (
	"sort"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// QualityWeights controls how the data quality score combines its components.
type QualityWeights struct {
	Coverage   float64 `mapstructure:"coverage" yaml:"coverage"`
	Confidence float64 `mapstructure:"confidence" yaml:"confidence"`
	Agreement  float64 `mapstructure:"agreement" yaml:"agreement"`
}

// DefaultQualityWeights returns the default score weights.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		Coverage:   0.40,
		Confidence: 0.40,
		Agreement:  0.20,
	}
}

func (w QualityWeights) sum() float64 {
	return w.Coverage + w.Confidence + w.Agreement
}

// AggregationPolicy holds the tunable merge rules.
type AggregationPolicy struct {
	// QualitativePriority ranks providers for opinion fields (strengths, positioning).
	QualitativePriority []string
	// FactualPriority ranks providers for lookup fields (headquarters, founded).
	FactualPriority []string
	// MaxListItems caps merged list fields.
	MaxListItems int
	Weights      QualityWeights
	// CrossCheckFields are the scalar fields used to measure agreement.
	CrossCheckFields []core.Field
	// AgreementThreshold is the word-overlap needed for two values to agree.
	AgreementThreshold float64
}

// DefaultAggregationPolicy returns the default policy.
func DefaultAggregationPolicy() AggregationPolicy {
	return AggregationPolicy{
		QualitativePriority: []string{"openai", "anthropic", "perplexity"},
		FactualPriority:     []string{"perplexity", "openai", "anthropic"},
		MaxListItems:        10,
		Weights:             DefaultQualityWeights(),
		CrossCheckFields:    []core.Field{core.FieldIndustry, core.FieldHeadquarters, core.FieldFounded},
		AgreementThreshold:  0.5,
	}
}

// Aggregator merges per-provider results for one target.
// Aggregate is pure: for a given set of results the output does not depend
// on their order.
type Aggregator struct {
	policy      AggregationPolicy
	qualitative map[string]int
	factual     map[string]int
	now         func() time.Time
}

// NewAggregator creates an aggregator, filling unset policy values with defaults.
func NewAggregator(policy AggregationPolicy) *Aggregator {
	def := DefaultAggregationPolicy()
	if policy.MaxListItems <= 0 {
		policy.MaxListItems = def.MaxListItems
	}
	if policy.Weights.sum() <= 0 {
		policy.Weights = def.Weights
	}
	if policy.CrossCheckFields == nil {
		policy.CrossCheckFields = def.CrossCheckFields
	}
	if policy.AgreementThreshold <= 0 {
		policy.AgreementThreshold = def.AgreementThreshold
	}
	return &Aggregator{
		policy:      policy,
		qualitative: rankIndex(policy.QualitativePriority),
		factual:     rankIndex(policy.FactualPriority),
		now:         time.Now,
	}
}

// Policy returns the effective policy.
func (a *Aggregator) Policy() AggregationPolicy {
	return a.policy
}

func rankIndex(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, p := range order {
		if _, dup := idx[p]; !dup {
			idx[p] = i
		}
	}
	return idx
}

// rank returns the priority position of provider for class; unlisted
// providers rank after every listed one.
func (a *Aggregator) rank(class core.FieldClass, provider string) int {
	idx := a.qualitative
	if class == core.ClassFactual {
		idx = a.factual
	}
	if r, ok := idx[provider]; ok {
		return r
	}
	return len(idx)
}

// Aggregate merges results for target. selected is the provider set the
// target was dispatched to; selected providers with no result are recorded as
// timed out.
func (a *Aggregator) Aggregate(target string, selected []string, results []*core.ProviderResult) *core.AggregatedResult {
	byProvider := pickResults(results)

	out := &core.AggregatedResult{
		Target:          target,
		Fields:          core.Fields{},
		FieldProvenance: map[core.Field][]string{},
		ProvidersUsed:   []string{},
		ProvidersFailed: []string{},
		ProviderErrors:  map[string]core.ErrorKind{},
		AggregatedAt:    a.now(),
	}

	var successes []*core.ProviderResult
	for name, r := range byProvider {
		if r.Succeeded() {
			successes = append(successes, r)
			out.ProvidersUsed = append(out.ProvidersUsed, name)
			continue
		}
		out.ProvidersFailed = append(out.ProvidersFailed, name)
		out.ProviderErrors[name] = r.Error.Kind
	}
	for _, name := range selected {
		if _, ok := byProvider[name]; !ok {
			out.ProvidersFailed = append(out.ProvidersFailed, name)
			out.ProviderErrors[name] = core.KindTimeout
		}
	}
	out.ProvidersUsed = uniqueSorted(out.ProvidersUsed)
	out.ProvidersFailed = uniqueSorted(out.ProvidersFailed)

	for _, field := range fieldUniverse(successes) {
		spec, ok := core.LookupField(field)
		if !ok {
			spec = core.FieldSpec{Name: field, Kind: core.KindScalar, Class: core.ClassQualitative}
		}

		contributors := make([]*core.ProviderResult, 0, len(successes))
		for _, r := range successes {
			if !r.Fields[field].IsEmpty() {
				contributors = append(contributors, r)
			}
		}
		if len(contributors) == 0 {
			continue
		}

		var value core.FieldValue
		if spec.Kind == core.KindList {
			value = a.mergeList(spec, contributors)
		} else {
			value = a.mergeScalar(spec, contributors)
		}
		if value.IsEmpty() {
			continue
		}

		a.sortByPriority(spec.Class, contributors)
		provenance := make([]string, len(contributors))
		for i, r := range contributors {
			provenance[i] = r.Provider
		}
		out.Fields[field] = value
		out.FieldProvenance[field] = provenance
	}

	coverageBase := len(selected)
	if coverageBase == 0 {
		coverageBase = len(byProvider)
	}
	out.DataQualityScore = a.score(successes, coverageBase)
	return out
}

// mergeScalar picks the highest-confidence value; ties go to class priority,
// then provider id.
func (a *Aggregator) mergeScalar(spec core.FieldSpec, contributors []*core.ProviderResult) core.FieldValue {
	best := contributors[0]
	for _, r := range contributors[1:] {
		if a.scalarBetter(spec.Class, r, best) {
			best = r
		}
	}
	v := best.Fields[spec.Name]
	text := strings.TrimSpace(v.Text)
	if text == "" {
		text = strings.TrimSpace(strings.Join(v.Items, ", "))
	}
	return core.ScalarValue(text)
}

func (a *Aggregator) scalarBetter(class core.FieldClass, x, y *core.ProviderResult) bool {
	cx, cy := core.ClampUnit(x.Confidence), core.ClampUnit(y.Confidence)
	if cx != cy {
		return cx > cy
	}
	rx, ry := a.rank(class, x.Provider), a.rank(class, y.Provider)
	if rx != ry {
		return rx < ry
	}
	return x.Provider < y.Provider
}

// mergeList unions items in provider priority order, dropping case-insensitive
// duplicates, up to MaxListItems.
func (a *Aggregator) mergeList(spec core.FieldSpec, contributors []*core.ProviderResult) core.FieldValue {
	ordered := append([]*core.ProviderResult(nil), contributors...)
	a.sortByPriority(spec.Class, ordered)

	seen := make(map[string]bool)
	items := make([]string, 0, a.policy.MaxListItems)
	for _, r := range ordered {
		v := r.Fields[spec.Name]
		candidates := v.Items
		if len(candidates) == 0 && v.Text != "" {
			candidates = []string{v.Text}
		}
		for _, item := range candidates {
			key := listItemKey(item)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			items = append(items, strings.TrimSpace(item))
			if len(items) == a.policy.MaxListItems {
				return core.ListValue(items...)
			}
		}
	}
	return core.ListValue(items...)
}

// sortByPriority orders results by class rank, then confidence, then provider id.
func (a *Aggregator) sortByPriority(class core.FieldClass, rs []*core.ProviderResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		ri, rj := a.rank(class, rs[i].Provider), a.rank(class, rs[j].Provider)
		if ri != rj {
			return ri < rj
		}
		ci, cj := core.ClampUnit(rs[i].Confidence), core.ClampUnit(rs[j].Confidence)
		if ci != cj {
			return ci > cj
		}
		return rs[i].Provider < rs[j].Provider
	})
}

// score combines coverage, mean confidence and cross-check agreement into [0,1].
func (a *Aggregator) score(successes []*core.ProviderResult, selected int) float64 {
	if len(successes) == 0 || selected == 0 {
		return 0
	}

	coverage := core.ClampUnit(float64(len(successes)) / float64(selected))

	var conf float64
	for _, r := range successes {
		conf += core.ClampUnit(r.Confidence)
	}
	conf /= float64(len(successes))

	agreement := a.agreement(successes)

	w := a.policy.Weights
	s := (w.Coverage*coverage + w.Confidence*conf + w.Agreement*agreement) / w.sum()
	return core.ClampUnit(s)
}

// agreement is 1 when two providers agree on any cross-check field, 0.5 when
// cross-check values exist but none are corroborated, 0 otherwise.
func (a *Aggregator) agreement(successes []*core.ProviderResult) float64 {
	seenAny := false
	for _, field := range a.policy.CrossCheckFields {
		var values []string
		for _, r := range successes {
			if v := r.Fields[field]; strings.TrimSpace(v.Text) != "" {
				values = append(values, v.Text)
			}
		}
		if len(values) > 0 {
			seenAny = true
		}
		for i := 0; i < len(values); i++ {
			for j := i + 1; j < len(values); j++ {
				if ValuesAgree(values[i], values[j], a.policy.AgreementThreshold) {
					return 1
				}
			}
		}
	}
	if seenAny {
		return 0.5
	}
	return 0
}

// pickResults keeps one result per provider. Duplicates should not happen; if
// they do, successes beat failures, then higher confidence, then fewer attempts.
func pickResults(results []*core.ProviderResult) map[string]*core.ProviderResult {
	out := make(map[string]*core.ProviderResult, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		cur, ok := out[r.Provider]
		if !ok || preferResult(r, cur) {
			out[r.Provider] = r
		}
	}
	return out
}

func preferResult(x, y *core.ProviderResult) bool {
	if x.Succeeded() != y.Succeeded() {
		return x.Succeeded()
	}
	if x.Confidence != y.Confidence {
		return x.Confidence > y.Confidence
	}
	return x.Attempt < y.Attempt
}

// fieldUniverse returns every field present on any success, sorted.
func fieldUniverse(rs []*core.ProviderResult) []core.Field {
	set := make(map[core.Field]bool)
	for _, r := range rs {
		for f := range r.Fields {
			set[f] = true
		}
	}
	out := make([]core.Field, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func uniqueSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}

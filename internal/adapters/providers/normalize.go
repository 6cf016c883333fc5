package providers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// DefaultConfidence is used when a payload carries no usable confidence.
const DefaultConfidence = 0.5

// maxNestingDepth bounds how far wrapper objects are unpacked.
const maxNestingDepth = 3

// commonAliases maps folded payload keys to canonical fields. Keys are
// folded with foldKey, so snake_case, camelCase and spaced variants share
// one entry.
var commonAliases = map[string]core.Field{
	"summary":        core.FieldSummary,
	"overview":       core.FieldSummary,
	"description":    core.FieldSummary,
	"companysummary": core.FieldSummary,
	"about":          core.FieldSummary,

	"industry": core.FieldIndustry,
	"sector":   core.FieldIndustry,
	"vertical": core.FieldIndustry,

	"headquarters": core.FieldHeadquarters,
	"headquarter":  core.FieldHeadquarters,
	"hq":           core.FieldHeadquarters,
	"headoffice":   core.FieldHeadquarters,
	"location":     core.FieldHeadquarters,

	"founded":      core.FieldFounded,
	"foundedyear":  core.FieldFounded,
	"yearfounded":  core.FieldFounded,
	"foundingyear": core.FieldFounded,
	"established":  core.FieldFounded,

	"employeecount": core.FieldEmployeeCount,
	"employees":     core.FieldEmployeeCount,
	"headcount":     core.FieldEmployeeCount,
	"companysize":   core.FieldEmployeeCount,

	"website":  core.FieldWebsite,
	"url":      core.FieldWebsite,
	"homepage": core.FieldWebsite,
	"domain":   core.FieldWebsite,

	"pricing":      core.FieldPricing,
	"pricingmodel": core.FieldPricing,
	"price":        core.FieldPricing,
	"prices":       core.FieldPricing,

	"marketposition": core.FieldMarketPosition,
	"positioning":    core.FieldMarketPosition,
	"marketshare":    core.FieldMarketPosition,

	"targetaudience":   core.FieldTargetAudience,
	"audience":         core.FieldTargetAudience,
	"targetmarket":     core.FieldTargetAudience,
	"customersegments": core.FieldTargetAudience,
	"customers":        core.FieldTargetAudience,

	"strengths":  core.FieldStrengths,
	"pros":       core.FieldStrengths,
	"advantages": core.FieldStrengths,

	"weaknesses":    core.FieldWeaknesses,
	"cons":          core.FieldWeaknesses,
	"disadvantages": core.FieldWeaknesses,
	"limitations":   core.FieldWeaknesses,

	"products":     core.FieldProducts,
	"productlines": core.FieldProducts,
	"offerings":    core.FieldProducts,
	"keyproducts":  core.FieldProducts,
	"services":     core.FieldProducts,

	"differentiators":       core.FieldDifferentiators,
	"uniquesellingpoints":   core.FieldDifferentiators,
	"usp":                   core.FieldDifferentiators,
	"usps":                  core.FieldDifferentiators,
	"competitiveadvantages": core.FieldDifferentiators,

	"opportunities": core.FieldOpportunities,

	"threats": core.FieldThreats,
	"risks":   core.FieldThreats,
}

// providerAliases extend commonAliases for payload shapes a single provider
// is known to produce.
var providerAliases = map[string]map[string]core.Field{
	KindPerplexity: {
		"companyoverview": core.FieldSummary,
		"keyfacts":        core.FieldSummary,
		"marketsegment":   core.FieldMarketPosition,
	},
	KindAnthropic: {
		"keystrengths":  core.FieldStrengths,
		"keyweaknesses": core.FieldWeaknesses,
		"idealcustomer": core.FieldTargetAudience,
	},
	KindOpenAI: {
		"businessmodel": core.FieldPricing,
	},
}

var confidenceKeys = map[string]bool{
	"confidence":      true,
	"confidencescore": true,
	"certainty":       true,
}

var (
	bulletPrefix = regexp.MustCompile(`^\s*(?:[-*\x{2022}]|\d+[.)])\s+`)
	listSplitter = regexp.MustCompile(`[\n;]+`)
)

// Normalizer maps raw provider payloads into canonical fields.
type Normalizer struct {
	aliases map[string]core.Field
}

// NewNormalizer builds a normalizer for an adapter kind.
func NewNormalizer(kind string) *Normalizer {
	aliases := make(map[string]core.Field, len(commonAliases))
	for k, v := range commonAliases {
		aliases[k] = v
	}
	for k, v := range providerAliases[kind] {
		aliases[k] = v
	}
	return &Normalizer{aliases: aliases}
}

// Normalize extracts the JSON object in text and maps it to canonical
// fields and a 0..1 confidence. It fails when no JSON object is present or
// no canonical field could be filled.
func (n *Normalizer) Normalize(text string) (core.Fields, float64, error) {
	var raw map[string]any
	if err := ParseJSON(text, &raw); err != nil {
		return nil, 0, err
	}
	return n.NormalizeMap(raw)
}

// NormalizeMap maps an already decoded payload.
func (n *Normalizer) NormalizeMap(raw map[string]any) (core.Fields, float64, error) {
	fields := core.Fields{}
	confidence := -1.0
	n.collect(raw, fields, &confidence, 0)

	if len(fields) == 0 {
		return nil, 0, fmt.Errorf("payload has no recognizable fields")
	}
	if confidence < 0 {
		confidence = DefaultConfidence
	}
	return fields, confidence, nil
}

func (n *Normalizer) collect(obj map[string]any, fields core.Fields, confidence *float64, depth int) {
	for key, value := range obj {
		folded := foldKey(key)

		if confidenceKeys[folded] {
			if c, ok := ScaleConfidence(value); ok && *confidence < 0 {
				*confidence = c
			}
			continue
		}

		field, known := n.aliases[folded]
		if !known {
			if nested, ok := value.(map[string]any); ok && depth < maxNestingDepth {
				n.collect(nested, fields, confidence, depth+1)
			}
			continue
		}
		// The first value seen for a field wins; aliases never overwrite it.
		if _, taken := fields[field]; taken {
			continue
		}

		spec, _ := core.LookupField(field)
		var fv core.FieldValue
		if spec.Kind == core.KindList {
			fv = core.ListValue(toList(value)...)
		} else {
			fv = core.ScalarValue(toScalar(value))
		}
		if !fv.IsEmpty() {
			fields[field] = fv
		}
	}
}

// ScaleConfidence converts a confidence on a 0-1, 0-10 or 0-100 scale, or a
// low/medium/high label, to 0..1.
func ScaleConfidence(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		switch s {
		case "high", "very high":
			return 0.9, true
		case "medium", "moderate":
			return 0.6, true
		case "low":
			return 0.3, true
		}
		s = strings.TrimSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		if strings.HasSuffix(strings.TrimSpace(t), "%") {
			return core.ClampUnit(parsed / 100), true
		}
		f = parsed
	default:
		return 0, false
	}

	switch {
	case f <= 1:
		return core.ClampUnit(f), true
	case f <= 10:
		return f / 10, true
	case f <= 100:
		return f / 100, true
	default:
		return 0, false
	}
}

func toScalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		return strings.Join(toList(t), ", ")
	case map[string]any:
		for _, key := range []string{"value", "text", "name", "summary"} {
			if s, ok := t[key].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func toList(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, part := range listSplitter.Split(t, -1) {
			if item := cleanItem(part); item != "" {
				out = append(out, item)
			}
		}
	case []any:
		for _, elem := range t {
			if item := cleanItem(toScalar(elem)); item != "" {
				out = append(out, item)
			}
		}
	case float64, bool, map[string]any:
		if item := cleanItem(toScalar(t)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func cleanItem(s string) string {
	return strings.TrimSpace(bulletPrefix.ReplaceAllString(s, ""))
}

// foldKey lowercases a key and drops everything but letters and digits.
func foldKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// ParseJSON decodes output directly, or the first balanced JSON object or
// array found inside surrounding prose or code fences.
func ParseJSON(output string, v interface{}) error {
	if err := json.Unmarshal([]byte(output), v); err == nil {
		return nil
	}

	extracted := ExtractJSON(output)
	if extracted != "" {
		if err := json.Unmarshal([]byte(extracted), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no valid JSON found in output")
}

// ExtractJSON finds and extracts JSON from mixed text output.
func ExtractJSON(output string) string {
	start := strings.Index(output, "{")
	if start == -1 {
		start = strings.Index(output, "[")
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	openChar := output[start]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	for i := start; i < len(output); i++ {
		c := output[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return output[start : i+1]
			}
		}
	}

	return ""
}

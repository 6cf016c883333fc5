package core

// Field is a canonical analysis field name. Adapters normalize raw provider
// payloads into these names; nothing downstream sees provider-specific keys.
type Field string

const (
	FieldSummary         Field = "summary"
	FieldIndustry        Field = "industry"
	FieldHeadquarters    Field = "headquarters"
	FieldFounded         Field = "founded"
	FieldEmployeeCount   Field = "employeeCount"
	FieldWebsite         Field = "website"
	FieldPricing         Field = "pricing"
	FieldMarketPosition  Field = "marketPosition"
	FieldTargetAudience  Field = "targetAudience"
	FieldStrengths       Field = "strengths"
	FieldWeaknesses      Field = "weaknesses"
	FieldProducts        Field = "products"
	FieldDifferentiators Field = "differentiators"
	FieldOpportunities   Field = "opportunities"
	FieldThreats         Field = "threats"
)

// FieldKind tells the aggregator how to merge a field.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindList
)

// FieldClass selects which provider priority list breaks ties for a field.
type FieldClass int

const (
	ClassQualitative FieldClass = iota
	ClassFactual
)

// FieldSpec describes a canonical field.
type FieldSpec struct {
	Name  Field
	Kind  FieldKind
	Class FieldClass
}

var canonicalFields = []FieldSpec{
	{FieldSummary, KindScalar, ClassQualitative},
	{FieldIndustry, KindScalar, ClassFactual},
	{FieldHeadquarters, KindScalar, ClassFactual},
	{FieldFounded, KindScalar, ClassFactual},
	{FieldEmployeeCount, KindScalar, ClassFactual},
	{FieldWebsite, KindScalar, ClassFactual},
	{FieldPricing, KindScalar, ClassFactual},
	{FieldMarketPosition, KindScalar, ClassQualitative},
	{FieldTargetAudience, KindScalar, ClassQualitative},
	{FieldStrengths, KindList, ClassQualitative},
	{FieldWeaknesses, KindList, ClassQualitative},
	{FieldProducts, KindList, ClassFactual},
	{FieldDifferentiators, KindList, ClassQualitative},
	{FieldOpportunities, KindList, ClassQualitative},
	{FieldThreats, KindList, ClassQualitative},
}

var fieldIndex = func() map[Field]FieldSpec {
	m := make(map[Field]FieldSpec, len(canonicalFields))
	for _, f := range canonicalFields {
		m[f.Name] = f
	}
	return m
}()

// CanonicalFields returns the canonical field specs in declaration order.
func CanonicalFields() []FieldSpec {
	return append([]FieldSpec(nil), canonicalFields...)
}

// LookupField returns the spec for a canonical field name.
func LookupField(name Field) (FieldSpec, bool) {
	spec, ok := fieldIndex[name]
	return spec, ok
}

// FieldValue holds either a scalar string or a list of strings.
type FieldValue struct {
	Text  string   `json:"text,omitempty"`
	Items []string `json:"items,omitempty"`
}

// ScalarValue builds a scalar field value.
func ScalarValue(s string) FieldValue { return FieldValue{Text: s} }

// ListValue builds a list field value.
func ListValue(items ...string) FieldValue { return FieldValue{Items: items} }

// IsEmpty reports whether the value carries no information.
func (v FieldValue) IsEmpty() bool {
	if v.Text != "" {
		return false
	}
	for _, it := range v.Items {
		if it != "" {
			return false
		}
	}
	return true
}

// Clone returns a copy with an independent item slice.
func (v FieldValue) Clone() FieldValue {
	return FieldValue{Text: v.Text, Items: append([]string(nil), v.Items...)}
}

// Fields maps canonical fields to values.
type Fields map[Field]FieldValue

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v.Clone()
	}
	return out
}

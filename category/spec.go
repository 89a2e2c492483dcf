package category

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lexify/requestforms/rules"
)

// OtherSentinel is the option label that stands for "use my own wording".
// Selecting it reveals the option's free-text companion field.
const OtherSentinel = "Other:"

// AgreeVariable is the CEL variable carrying the final confirmation checkbox.
const AgreeVariable = "agree"

// Default pricing wording, used when a category does not override it.
const (
	DefaultHourlyPrefix = "Occasional legal support"
	DefaultLumpSum      = "Lump sum fixed price"
)

// FieldKind describes how a draft field is entered and stored.
type FieldKind string

const (
	KindText   FieldKind = "text"   // free text
	KindChoice FieldKind = "choice" // radio or select, one value
	KindMulti  FieldKind = "multi"  // checkbox set
	KindFlag   FieldKind = "flag"   // single checkbox
	KindNumber FieldKind = "number" // digits-only input
	KindDate   FieldKind = "date"   // YYYY-MM-DD
)

// Stage groups requirements; the validator reports failures stage by stage
// in StageOrder.
type Stage string

const (
	StageContact      Stage = "contact"
	StageSelections   Stage = "selections"
	StageEligibility  Stage = "eligibility"
	StagePricing      Stage = "pricing"
	StageLanguage     Stage = "language"
	StageDeadline     Stage = "deadline"
	StageTitle        Stage = "title"
	StageConfirmation Stage = "confirmation"
)

// StageOrder is the fixed order in which validation failures are reported.
var StageOrder = []Stage{
	StageContact,
	StageSelections,
	StageEligibility,
	StagePricing,
	StageLanguage,
	StageDeadline,
	StageTitle,
	StageConfirmation,
}

// Field declares one input of a request form.
type Field struct {
	Key      string    `yaml:"key" json:"key" validate:"required,max=100"`
	Label    string    `yaml:"label" json:"label" validate:"required"`
	Kind     FieldKind `yaml:"kind" json:"kind" validate:"required"`
	Stage    Stage     `yaml:"stage,omitempty" json:"stage"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Message  string    `yaml:"message,omitempty" json:"message,omitempty"`
	Options  []string  `yaml:"options,omitempty" json:"options,omitempty"`
	// Dynamic options are supplied at runtime, e.g. the company's contact persons.
	Dynamic bool `yaml:"dynamic,omitempty" json:"dynamic,omitempty"`
	// Other names the free-text companion used when OtherSentinel is selected.
	Other        string `yaml:"other,omitempty" json:"other,omitempty"`
	OtherMessage string `yaml:"otherMessage,omitempty" json:"-"`
	// Alternative names a text field whose value also satisfies Required.
	// When it is the Other companion it stays visible at all times.
	Alternative string `yaml:"alternative,omitempty" json:"alternative,omitempty"`
}

// RuleSpec is a conditional field rule as written in a spec file.
type RuleSpec struct {
	ID         string   `yaml:"id" json:"id" validate:"required"`
	Name       string   `yaml:"name" json:"name" validate:"required"`
	Expression string   `yaml:"expression" json:"expression" validate:"required"`
	Reveal     []string `yaml:"reveal,omitempty" json:"reveal,omitempty"`
	Require    []string `yaml:"require,omitempty" json:"require,omitempty"`
}

// Clause appends a selection to the scope of work: Prefix, the comma-joined
// selection, then Suffix.
type Clause struct {
	Field  string `yaml:"field" json:"field" validate:"required"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Suffix string `yaml:"suffix,omitempty" json:"suffix,omitempty"`
}

// ScopeSpec describes how the scope-of-work narrative is assembled.
type ScopeSpec struct {
	Need    string   `yaml:"need" json:"need" validate:"required"`
	Clauses []Clause `yaml:"clauses,omitempty" json:"clauses,omitempty" validate:"dive"`
}

// PricingSpec holds the payment-rate template sentences of a category.
type PricingSpec struct {
	HourlyPrefix string `yaml:"hourlyPrefix,omitempty" json:"hourlyPrefix"`
	HourlyRate   string `yaml:"hourlyRate" json:"hourlyRate" validate:"required"`
	LumpSum      string `yaml:"lumpSum,omitempty" json:"lumpSum"`
}

// Spec is the declarative description of one request category: its fields,
// conditional rules and template sentences.
type Spec struct {
	Key         string      `yaml:"key" json:"key" validate:"required"`
	Category    string      `yaml:"category" json:"category" validate:"required"`
	Subcategory string      `yaml:"subcategory" json:"subcategory" validate:"required"`
	Title       string      `yaml:"title" json:"title" validate:"required"`
	Fields      []Field     `yaml:"fields" json:"fields" validate:"required,min=1,dive"`
	Rules       []RuleSpec  `yaml:"rules,omitempty" json:"rules,omitempty" validate:"dive"`
	Scope       ScopeSpec   `yaml:"scope" json:"scope"`
	Pricing     PricingSpec `yaml:"pricing" json:"pricing"`

	all   []Field
	index map[string]int
}

// Normalize merges the common fields into the spec, declares implicit
// "other" companions and fills defaults. It is idempotent.
func (s *Spec) Normalize() {
	if s.Pricing.HourlyPrefix == "" {
		s.Pricing.HourlyPrefix = DefaultHourlyPrefix
	}
	if s.Pricing.LumpSum == "" {
		s.Pricing.LumpSum = DefaultLumpSum
	}

	all := append(CommonFields(), s.Fields...)
	declared := make(map[string]bool, len(all))
	for i := range all {
		if all[i].Stage == "" {
			all[i].Stage = StageSelections
		}
		if all[i].Message == "" {
			all[i].Message = defaultMessage(all[i])
		}
		declared[all[i].Key] = true
	}

	for _, f := range all {
		if f.Other == "" || declared[f.Other] {
			continue
		}
		msg := f.OtherMessage
		if msg == "" {
			msg = fmt.Sprintf("Please describe the \"Other\" option for %s.", f.Label)
		}
		all = append(all, Field{
			Key:     f.Other,
			Label:   f.Label + " (other)",
			Kind:    KindText,
			Stage:   f.Stage,
			Message: msg,
		})
		declared[f.Other] = true
	}

	s.all = all
	s.index = make(map[string]int, len(all))
	for i, f := range all {
		if _, dup := s.index[f.Key]; !dup {
			s.index[f.Key] = i
		}
	}
}

func defaultMessage(f Field) string {
	switch f.Kind {
	case KindChoice, KindMulti:
		return fmt.Sprintf("Please select %s.", f.Label)
	default:
		return fmt.Sprintf("Please fill in %s.", f.Label)
	}
}

// AllFields returns common and category fields in validation order.
func (s *Spec) AllFields() []Field {
	if s.index == nil {
		s.Normalize()
	}
	return s.all
}

// Field looks up a declared field.
func (s *Spec) Field(key string) (Field, bool) {
	if s.index == nil {
		s.Normalize()
	}
	i, ok := s.index[key]
	if !ok {
		return Field{}, false
	}
	return s.all[i], true
}

// FieldKeys returns every declared field key.
func (s *Spec) FieldKeys() []string {
	fields := s.AllFields()
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	return keys
}

// IsHourly reports whether the selected need option means hourly billing.
func (s *Spec) IsHourly(need string) bool {
	prefix := s.Pricing.HourlyPrefix
	if prefix == "" {
		prefix = DefaultHourlyPrefix
	}
	return strings.HasPrefix(need, prefix)
}

// SeedRules returns the spec's rules plus one generated rule per field with
// an "other" companion. All returned rules are active. A companion that is
// also the field's Alternative is only required by its rule, never hidden.
func (s *Spec) SeedRules() []*rules.Rule {
	out := make([]*rules.Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		out = append(out, &rules.Rule{
			ID:         r.ID,
			Category:   s.Key,
			Name:       r.Name,
			Expression: r.Expression,
			Reveal:     append([]string(nil), r.Reveal...),
			Require:    append([]string(nil), r.Require...),
			Active:     true,
		})
	}

	for _, f := range s.AllFields() {
		if f.Other == "" {
			continue
		}
		var expr string
		switch f.Kind {
		case KindMulti:
			expr = fmt.Sprintf("%q in %s", OtherSentinel, f.Key)
		default:
			expr = fmt.Sprintf("%s == %q", f.Key, OtherSentinel)
		}
		var reveal []string
		if f.Alternative != f.Other {
			reveal = []string{f.Other}
		}
		out = append(out, &rules.Rule{
			ID:         f.Key + "-other",
			Category:   s.Key,
			Name:       f.Label + ": other",
			Expression: expr,
			Reveal:     reveal,
			Require:    []string{f.Other},
			Active:     true,
		})
	}
	return out
}

// FieldSet is a set of field keys.
type FieldSet map[string]bool

// Has reports membership.
func (fs FieldSet) Has(key string) bool {
	return fs[key]
}

// Keys returns the members in sorted order.
func (fs FieldSet) Keys() []string {
	keys := make([]string, 0, len(fs))
	for k, ok := range fs {
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the set as a sorted list of keys.
func (fs FieldSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(fs.Keys())
}

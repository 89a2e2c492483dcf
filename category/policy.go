package category

import "github.com/lexify/requestforms/rules"

// Visibility is the policy outcome for one draft.
type Visibility struct {
	Visible  FieldSet `json:"visible"`
	Required FieldSet `json:"required"`
}

// Policy maps a draft to the fields that must be shown and filled in.
// A field is hidden only when some active rule can reveal it and no rule
// currently does; every other declared field is always visible.
type Policy struct {
	spec   *Spec
	engine *rules.Engine
}

// NewPolicy creates the policy of a spec over its compiled rules.
func NewPolicy(spec *Spec, engine *rules.Engine) *Policy {
	return &Policy{spec: spec, engine: engine}
}

// Resolve evaluates the rules against facts. It has no side effects: the
// same facts always yield the same visibility.
func (p *Policy) Resolve(facts map[string]any) (*Visibility, error) {
	res, err := p.engine.Resolve(facts)
	if err != nil {
		return nil, err
	}

	vis := &Visibility{Visible: FieldSet{}, Required: FieldSet{}}
	for _, f := range p.spec.AllFields() {
		if res.Conditional[f.Key] && !res.Revealed[f.Key] {
			continue
		}
		vis.Visible[f.Key] = true
		if f.Required || res.Required[f.Key] {
			vis.Required[f.Key] = true
		}
	}
	return vis, nil
}

// VisibleFields returns the fields shown for facts.
func (p *Policy) VisibleFields(facts map[string]any) (FieldSet, error) {
	vis, err := p.Resolve(facts)
	if err != nil {
		return nil, err
	}
	return vis.Visible, nil
}

// RequiredFields returns the visible fields that must be filled in for facts.
func (p *Policy) RequiredFields(facts map[string]any) (FieldSet, error) {
	vis, err := p.Resolve(facts)
	if err != nil {
		return nil, err
	}
	return vis.Required, nil
}

package rules

import "time"

// Rule is one conditional field rule of a request category. When Expression
// matches a draft, every field in Reveal becomes visible and every field in
// Require becomes mandatory.
type Rule struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Name       string    `json:"name"`
	Expression string    `json:"expression"`
	Reveal     []string  `json:"reveal,omitempty"`
	Require    []string  `json:"require,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EvaluationResult contains the outcome of evaluating a rule against a draft.
type EvaluationResult struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Matched  bool   `json:"matched"`
	Error    error  `json:"-"`
	Trace    any    `json:"-"`
}

// Resolution is the combined effect of all active rules on one draft.
type Resolution struct {
	// Conditional holds every field some active rule can reveal.
	Conditional map[string]bool
	Revealed    map[string]bool
	Required    map[string]bool
	Results     []*EvaluationResult
}

func (r *Rule) clone() *Rule {
	c := *r
	c.Reveal = append([]string(nil), r.Reveal...)
	c.Require = append([]string(nil), r.Require...)
	return &c
}

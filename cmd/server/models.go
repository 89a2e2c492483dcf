package main

import (
	"github.com/lexify/requestforms/category"
	"github.com/lexify/requestforms/form"
	"github.com/lexify/requestforms/rules"
)

// API request and response models.

// CategorySummary lists one request category.
type CategorySummary struct {
	Key         string `json:"key"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Title       string `json:"title"`
}

// CategoryResponse describes the form of one category.
type CategoryResponse struct {
	CategorySummary
	Fields  []category.Field     `json:"fields"`
	Stages  []category.Stage     `json:"stages"`
	Scope   category.ScopeSpec   `json:"scope"`
	Pricing category.PricingSpec `json:"pricing"`
}

// ValidateResponse is the outcome of validating a draft. Error is the one
// message to show; Errors lists every unmet requirement in the same order.
type ValidateResponse struct {
	Valid  bool                    `json:"valid"`
	Error  *form.ValidationError   `json:"error,omitempty"`
	Errors []*form.ValidationError `json:"errors"`
}

// PreviewRequest carries a draft to preview.
type PreviewRequest struct {
	Draft form.Snapshot `json:"draft"`
}

// EvaluateRequest carries a draft and, optionally, the rules to evaluate.
type EvaluateRequest struct {
	Draft   form.Snapshot `json:"draft"`
	RuleIDs []string      `json:"rules,omitempty"`
}

// EvaluationResultResponse is one rule outcome.
type EvaluationResultResponse struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Matched  bool   `json:"matched"`
	Error    string `json:"error,omitempty"`
}

// EvaluateResponse is the outcome of evaluating rules.
type EvaluateResponse struct {
	Results        []EvaluationResultResponse `json:"results"`
	EvaluationTime string                     `json:"evaluationTime"`
}

func evaluationResponse(results []*rules.EvaluationResult) []EvaluationResultResponse {
	out := make([]EvaluationResultResponse, 0, len(results))
	for _, r := range results {
		item := EvaluationResultResponse{RuleID: r.RuleID, RuleName: r.RuleName, Matched: r.Matched}
		if r.Error != nil {
			item.Error = r.Error.Error()
		}
		out = append(out, item)
	}
	return out
}

// RuleRequest is the body of rule create and update calls.
type RuleRequest struct {
	ID         string   `json:"id,omitempty" validate:"omitempty,max=100"`
	Name       string   `json:"name" validate:"required,max=200"`
	Expression string   `json:"expression" validate:"required"`
	Reveal     []string `json:"reveal,omitempty"`
	Require    []string `json:"require,omitempty"`
	Active     *bool    `json:"active,omitempty"`
}

// RulesListResponse lists the rules of a category.
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// CreatedResponse answers a stored request.
type CreatedResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

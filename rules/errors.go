package rules

import "errors"

// Sentinel errors for rule storage and compilation.
var (
	ErrRuleNotFound    = errors.New("rule not found")
	ErrRuleExists      = errors.New("rule already exists")
	ErrNotCompiled     = errors.New("rule is not compiled")
	ErrNotBoolean      = errors.New("rule expression must evaluate to bool")
	ErrUnknownField    = errors.New("rule references an undeclared field")
	ErrEmptyExpression = errors.New("rule expression is empty")
)

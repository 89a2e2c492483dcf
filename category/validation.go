package category

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	maxFields = 200
	maxRules  = 200
)

var (
	specKeyPattern    = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	structValidator   = validator.New(validator.WithRequiredStructEnabled())
)

// ValidateSpec checks a normalized spec. It returns the first problem found.
func ValidateSpec(spec *Spec) error {
	if err := structValidator.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidSpec, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	if !specKeyPattern.MatchString(spec.Key) {
		return fmt.Errorf("%w: key %q must be lower-case words joined by dashes", ErrInvalidSpec, spec.Key)
	}

	fields := spec.AllFields()
	if len(fields) > maxFields {
		return fmt.Errorf("%w: spec declares %d fields, maximum allowed is %d", ErrInvalidSpec, len(fields), maxFields)
	}
	if len(spec.Rules) > maxRules {
		return fmt.Errorf("%w: spec declares %d rules, maximum allowed is %d", ErrInvalidSpec, len(spec.Rules), maxRules)
	}

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if err := validateIdentifier(f.Key); err != nil {
			return fmt.Errorf("%w: invalid field key %q: %v", ErrInvalidSpec, f.Key, err)
		}
		if seen[f.Key] {
			return fmt.Errorf("%w: field %q is declared more than once", ErrInvalidSpec, f.Key)
		}
		seen[f.Key] = true

		if err := validateField(f); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidSpec, f.Key, err)
		}
	}

	for _, f := range fields {
		if f.Other == "" {
			continue
		}
		companion, ok := spec.Field(f.Other)
		if !ok || companion.Kind != KindText {
			return fmt.Errorf("%w: field %q: other companion %q must be a text field", ErrInvalidSpec, f.Key, f.Other)
		}
	}

	for _, f := range fields {
		if f.Alternative == "" {
			continue
		}
		alt, ok := spec.Field(f.Alternative)
		if !ok || alt.Kind != KindText || alt.Key == f.Key {
			return fmt.Errorf("%w: field %q: alternative %q must be another text field", ErrInvalidSpec, f.Key, f.Alternative)
		}
	}

	need, ok := spec.Field(spec.Scope.Need)
	if !ok || need.Kind != KindChoice {
		return fmt.Errorf("%w: scope need %q must be a declared choice field", ErrInvalidSpec, spec.Scope.Need)
	}
	for _, c := range spec.Scope.Clauses {
		f, ok := spec.Field(c.Field)
		if !ok || (f.Kind != KindMulti && f.Kind != KindChoice) {
			return fmt.Errorf("%w: scope clause %q must reference a choice or multi field", ErrInvalidSpec, c.Field)
		}
	}

	ruleIDs := make(map[string]bool, len(spec.Rules))
	for _, r := range spec.Rules {
		if ruleIDs[r.ID] {
			return fmt.Errorf("%w: rule %q is declared more than once", ErrInvalidSpec, r.ID)
		}
		ruleIDs[r.ID] = true

		if len(r.Reveal) == 0 && len(r.Require) == 0 {
			return fmt.Errorf("%w: rule %q neither reveals nor requires a field", ErrInvalidSpec, r.ID)
		}
		for _, key := range append(append([]string(nil), r.Reveal...), r.Require...) {
			if !seen[key] {
				return fmt.Errorf("%w: rule %q references undeclared field %q", ErrInvalidSpec, r.ID, key)
			}
		}
	}

	return nil
}

func validateField(f Field) error {
	if !isValidKind(f.Kind) {
		return fmt.Errorf("invalid kind %q (must be one of: text, choice, multi, flag, number, date)", f.Kind)
	}
	if !isValidStage(f.Stage) || f.Stage == StageConfirmation {
		return fmt.Errorf("invalid stage %q", f.Stage)
	}
	if (f.Kind == KindChoice || f.Kind == KindMulti) && !f.Dynamic && len(f.Options) == 0 {
		return fmt.Errorf("%s field must list its options", f.Kind)
	}
	if f.Kind != KindChoice && f.Kind != KindMulti && (len(f.Options) > 0 || f.Other != "") {
		return fmt.Errorf("%s field cannot declare options", f.Kind)
	}
	if f.Other != "" && !containsString(f.Options, OtherSentinel) {
		return fmt.Errorf("field with an other companion must offer %q", OtherSentinel)
	}
	for _, opt := range f.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("options cannot be blank")
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// validateIdentifier checks a field key can be used as a CEL variable:
// 1-100 characters, identifier syntax, not a reserved word.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

func isValidKind(kind FieldKind) bool {
	switch kind {
	case KindText, KindChoice, KindMulti, KindFlag, KindNumber, KindDate:
		return true
	}
	return false
}

func isValidStage(stage Stage) bool {
	for _, s := range StageOrder {
		if s == stage {
			return true
		}
	}
	return false
}

// isReservedKeyword reports CEL reserved words plus the confirmation
// variable, which every environment declares.
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		"true":  true,
		"false": true,
		"null":  true,

		"if":       true,
		"else":     true,
		"for":      true,
		"while":    true,
		"break":    true,
		"continue": true,
		"return":   true,

		"var":      true,
		"let":      true,
		"const":    true,
		"function": true,

		"in":        true,
		"as":        true,
		"import":    true,
		"package":   true,
		"namespace": true,
		"loop":      true,
		"void":      true,

		AgreeVariable: true,
	}

	return reservedKeywords[name]
}

package form

import (
	"fmt"
	"strings"
	"time"

	"github.com/lexify/requestforms/category"
)

const dateLayout = "2006-01-02"

// ConfirmationMessage is reported when the final checkbox is not ticked.
const ConfirmationMessage = "Please confirm that the request information is correct by checking the box."

// Validator checks a draft against the fields of a category and the
// requirements its policy currently imposes.
type Validator struct {
	spec   *category.Spec
	policy *category.Policy
	now    func() time.Time
}

// NewValidator creates a validator. now supplies the current date for the
// offers deadline check; nil means time.Now.
func NewValidator(spec *category.Spec, policy *category.Policy, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{spec: spec, policy: policy, now: now}
}

// Validate returns the first unmet requirement as a *ValidationError, or
// nil when the draft can be submitted. Any other error comes from rule
// evaluation.
func (v *Validator) Validate(s Snapshot) error {
	vis, err := v.policy.Resolve(s.Facts(v.spec))
	if err != nil {
		return err
	}
	if errs := v.check(s, vis, true); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateAll returns every unmet requirement in reporting order.
func (v *Validator) ValidateAll(s Snapshot) ([]*ValidationError, error) {
	vis, err := v.policy.Resolve(s.Facts(v.spec))
	if err != nil {
		return nil, err
	}
	return v.check(s, vis, false), nil
}

// check walks the stages in order; within a stage, fields are checked in
// declaration order. Hidden fields are skipped.
func (v *Validator) check(s Snapshot, vis *category.Visibility, firstOnly bool) []*ValidationError {
	var errs []*ValidationError
	fields := v.spec.AllFields()

	for _, stage := range category.StageOrder {
		if stage == category.StageConfirmation {
			if !s.Agree {
				errs = append(errs, &ValidationError{
					Field:   category.AgreeVariable,
					Stage:   stage,
					Message: ConfirmationMessage,
				})
			}
			continue
		}

		for _, f := range fields {
			if f.Stage != stage || !vis.Visible.Has(f.Key) {
				continue
			}
			if msg := v.checkField(s, f, vis); msg != "" {
				errs = append(errs, &ValidationError{Field: f.Key, Stage: stage, Message: msg})
				if firstOnly {
					return errs
				}
			}
		}
		if firstOnly && len(errs) > 0 {
			return errs
		}
	}
	return errs
}

func (v *Validator) checkField(s Snapshot, f category.Field, vis *category.Visibility) string {
	if !filled(s, f) {
		if vis.Required.Has(f.Key) && !alternativeFilled(s, f, vis) {
			return f.Message
		}
		return ""
	}

	switch f.Kind {
	case category.KindNumber:
		if !isDigits(s.Value(f.Key)) {
			return fmt.Sprintf("%s must be a whole number.", f.Label)
		}
	case category.KindDate:
		d, err := time.Parse(dateLayout, s.Value(f.Key))
		if err != nil {
			return fmt.Sprintf("%s must be a date in the format YYYY-MM-DD.", f.Label)
		}
		y, m, day := v.now().Date()
		if d.Before(time.Date(y, m, day, 0, 0, 0, 0, time.UTC)) {
			return fmt.Sprintf("%s cannot be in the past.", f.Label)
		}
	}
	return ""
}

// filled reports whether the user entered anything for f. Selecting the
// "other" option counts; its companion text is a separate requirement.
func filled(s Snapshot, f category.Field) bool {
	switch f.Kind {
	case category.KindMulti:
		return len(s.List(f.Key)) > 0
	case category.KindFlag:
		return s.Flag(f.Key)
	default:
		return s.Value(f.Key) != ""
	}
}

// alternativeFilled reports whether f's visible alternative field carries
// a value, e.g. a typed language when no language box is checked.
func alternativeFilled(s Snapshot, f category.Field, vis *category.Visibility) bool {
	return f.Alternative != "" && vis.Visible.Has(f.Alternative) && s.Value(f.Alternative) != ""
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	return strings.Trim(v, "0123456789") == ""
}

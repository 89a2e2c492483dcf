package form

import (
	"errors"
	"fmt"

	"github.com/lexify/requestforms/category"
)

// Composer turns a valid draft into a Record.
type Composer struct {
	spec      *category.Spec
	policy    *category.Policy
	validator *Validator
}

// NewComposer creates a composer that re-validates with validator before
// composing.
func NewComposer(spec *category.Spec, policy *category.Policy, validator *Validator) *Composer {
	return &Composer{spec: spec, policy: policy, validator: validator}
}

// Compose builds the record of s. Hidden fields are dropped first, whatever
// they still hold. An invalid draft yields an error wrapping
// ErrInvalidDraft and the first *ValidationError. Compose performs no I/O.
func (c *Composer) Compose(s Snapshot) (*Record, error) {
	vis, err := c.policy.Resolve(s.Facts(c.spec))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve field policy: %w", err)
	}
	if errs := c.validator.check(s, vis, true); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDraft, errs[0])
	}

	visible := s.only(vis.Visible)
	d := derive(c.spec, visible)

	rec := &Record{
		RequestCategory:          c.spec.Category,
		RequestSubcategory:       c.spec.Subcategory,
		AssignmentType:           c.spec.Key,
		Title:                    visible.Value(category.FieldTitle),
		PrimaryContactPerson:     visible.Value(category.FieldContactPerson),
		ScopeOfWork:              d.scopeOfWork,
		Currency:                 visible.Value(category.FieldCurrency),
		PaymentRate:              d.paymentRate,
		RateType:                 d.rateType,
		AdvanceRetainerFee:       visible.Value(category.FieldAdvanceRetainerFee),
		InvoiceType:              visible.Value(category.FieldInvoiceType),
		ProviderSize:             visible.Value(category.FieldProviderSize),
		ProviderCompanyAge:       visible.Value(category.FieldProviderCompanyAge),
		ProviderMinimumRating:    visible.Value(category.FieldProviderMinimumRating),
		ProviderCountry:          visible.Value(category.FieldProviderCountry),
		Language:                 d.language,
		OffersDeadline:           visible.Value(category.FieldOffersDeadline),
		AdditionalBackgroundInfo: visible.Value(category.FieldBackground),
		Details:                  c.details(visible, d),
	}
	return rec, nil
}

func (c *Composer) details(s Snapshot, d derived) map[string]any {
	details := map[string]any{
		"confidential": d.confidential,
	}
	if d.counterparty != "" {
		details["counterparty"] = d.counterparty
	}
	if d.maximumPrice != nil {
		details["maximumPrice"] = *d.maximumPrice
	}

	consumed := make(map[string]bool, len(d.consumed))
	for k := range d.consumed {
		consumed[k] = true
	}
	// Companion texts travel inside their parent's value.
	for _, f := range c.spec.AllFields() {
		if f.Other != "" {
			consumed[f.Other] = true
		}
	}
	for _, f := range c.spec.AllFields() {
		if consumed[f.Key] {
			continue
		}
		if v := extraValue(c.spec, s, f); v != nil {
			details[f.Key] = v
		}
	}
	return details
}

// IsInvalidDraft reports whether err came from composing an invalid draft
// and returns its validation error.
func IsInvalidDraft(err error) (*ValidationError, bool) {
	if !errors.Is(err, ErrInvalidDraft) {
		return nil, false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, true
}

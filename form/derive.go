package form

import (
	"strconv"
	"strings"

	"github.com/lexify/requestforms/category"
)

// Rate types of a composed request.
const (
	RateHourly  = "hourly"
	RateLumpSum = "lumpSum"
)

// derived holds every text the composer and the preview compute from the
// same draft. Both call derive so the preview always matches the record.
type derived struct {
	need         string
	scopeOfWork  string
	hourly       bool
	paymentRate  string
	rateType     string
	maximumPrice *int64
	language     string
	counterparty string
	confidential bool
	// consumed lists the field keys already represented by a derived text.
	consumed map[string]bool
}

// counterpartyDisplay is the counterparty as the providers get to see it.
func (d derived) counterpartyDisplay() string {
	if d.confidential {
		return category.ConfidentialLabel
	}
	return d.counterparty
}

// derive computes the derived texts of s, which must already be stripped
// of hidden fields.
func derive(spec *category.Spec, s Snapshot) derived {
	d := derived{consumed: map[string]bool{
		category.FieldContactPerson:         true,
		category.FieldBackground:            true,
		category.FieldCounterparty:          true,
		category.FieldConfidential:          true,
		category.FieldProviderSize:          true,
		category.FieldProviderCompanyAge:    true,
		category.FieldProviderMinimumRating: true,
		category.FieldProviderCountry:       true,
		category.FieldCurrency:              true,
		category.FieldMaxPrice:              true,
		category.FieldAdvanceRetainerFee:    true,
		category.FieldInvoiceType:           true,
		category.FieldLanguages:             true,
		category.FieldOtherLanguage:         true,
		category.FieldOffersDeadline:        true,
		category.FieldTitle:                 true,
	}}

	needKey := spec.Scope.Need
	rawNeed := s.Value(needKey)
	d.need = choiceText(spec, s, needKey)
	consume(spec, d.consumed, needKey)

	parts := make([]string, 0, len(spec.Scope.Clauses)+1)
	if d.need != "" {
		parts = append(parts, sentence(d.need))
	}
	for _, c := range spec.Scope.Clauses {
		consume(spec, d.consumed, c.Field)
		text := selectionText(spec, s, c.Field)
		if text == "" {
			continue
		}
		parts = append(parts, c.Prefix+text+c.Suffix)
	}
	d.scopeOfWork = strings.Join(parts, " ")

	d.hourly = rawNeed != "" && spec.IsHourly(rawNeed)
	if d.hourly {
		d.paymentRate = spec.Pricing.HourlyRate
		d.rateType = RateHourly
	} else {
		d.paymentRate = spec.Pricing.LumpSum
		d.rateType = RateLumpSum
		if n, err := strconv.ParseInt(s.Value(category.FieldMaxPrice), 10, 64); err == nil && n >= 0 {
			d.maximumPrice = &n
		}
	}

	d.language = languageText(s)
	d.counterparty = s.Value(category.FieldCounterparty)
	d.confidential = s.Flag(category.FieldConfidential)
	return d
}

// consume marks key and its "other" companion as represented.
func consume(spec *category.Spec, consumed map[string]bool, key string) {
	consumed[key] = true
	if f, ok := spec.Field(key); ok && f.Other != "" {
		consumed[f.Other] = true
	}
}

// choiceText returns a single selection with the "other" sentinel replaced
// by its free text.
func choiceText(spec *category.Spec, s Snapshot, key string) string {
	v := s.Value(key)
	if v != category.OtherSentinel {
		return v
	}
	if f, ok := spec.Field(key); ok && f.Other != "" {
		return s.Value(f.Other)
	}
	return ""
}

// listItems returns the selections of a checkbox field in order, with the
// "other" sentinel replaced in place by its free text or dropped when that
// text is empty.
func listItems(spec *category.Spec, s Snapshot, key string) []string {
	f, _ := spec.Field(key)
	list := s.List(key)
	items := make([]string, 0, len(list))
	for _, v := range list {
		if v == category.OtherSentinel {
			if other := s.Value(f.Other); f.Other != "" && other != "" {
				items = append(items, other)
			}
			continue
		}
		items = append(items, v)
	}
	return items
}

// selectionText renders any field as one comma-joined text.
func selectionText(spec *category.Spec, s Snapshot, key string) string {
	f, ok := spec.Field(key)
	if !ok {
		return ""
	}
	switch f.Kind {
	case category.KindMulti:
		return strings.Join(listItems(spec, s, key), ", ")
	case category.KindChoice:
		return choiceText(spec, s, key)
	default:
		return s.Value(key)
	}
}

// languageText lists the checked languages without the sentinel, then the
// free-text language when one was typed.
func languageText(s Snapshot) string {
	langs := make([]string, 0, len(s.List(category.FieldLanguages))+1)
	for _, l := range s.List(category.FieldLanguages) {
		if l != category.OtherSentinel {
			langs = append(langs, l)
		}
	}
	if other := s.Value(category.FieldOtherLanguage); other != "" {
		langs = append(langs, other)
	}
	return strings.Join(langs, ", ")
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?") {
		return s
	}
	return s + "."
}

// extraValue returns the value of a field not covered by a derived text,
// or nil when it is empty.
func extraValue(spec *category.Spec, s Snapshot, f category.Field) any {
	switch f.Kind {
	case category.KindMulti:
		if items := listItems(spec, s, f.Key); len(items) > 0 {
			return items
		}
	case category.KindFlag:
		if s.Flag(f.Key) {
			return true
		}
	case category.KindChoice:
		if v := choiceText(spec, s, f.Key); v != "" {
			return v
		}
	default:
		if v := s.Value(f.Key); v != "" {
			return v
		}
	}
	return nil
}

package form

import (
	"testing"
	"time"

	"github.com/lexify/requestforms/category"
)

const (
	hourlyNeed   = "Occasional legal support with contracts, invoiced by the hour"
	fixedNeed    = "Review of a contract for a lump sum fixed price"
	hourlyRate   = "Hourly rate. The provider invoices the hours actually worked."
	testDeadline = "2030-05-20"
)

const testSpecYAML = `
key: contract-review
category: Help with Contracts
subcategory: Contract Review
title: Contract review
fields:
  - key: need
    label: the type of legal support you need
    kind: choice
    required: true
    message: Please select the type of legal support you need.
    options:
      - Occasional legal support with contracts, invoiced by the hour
      - Review of a contract for a lump sum fixed price
      - "Other:"
    other: needOther
    otherMessage: Please describe the legal support you need.
  - key: contractTypes
    label: the contract types
    kind: multi
    required: true
    message: Please select at least one contract type.
    options: [Sales agreement, Service agreement, "Other:"]
    other: contractTypesOther
    otherMessage: Please describe the other contract type.
  - key: urgency
    label: Urgency
    kind: choice
    options: [Normal, Urgent]
rules:
  - id: fixed-price
    name: Fixed price work reveals maximum price
    expression: need.endsWith("fixed price")
    reveal: [maxPrice]
    require: [maxPrice]
scope:
  need: need
  clauses:
    - field: contractTypes
      prefix: "Contract types: "
      suffix: .
pricing:
  hourlyRate: Hourly rate. The provider invoices the hours actually worked.
`

// testNow is a fixed clock; testDeadline lies ten days after it.
func testNow() time.Time {
	return time.Date(2030, 5, 10, 15, 30, 0, 0, time.UTC)
}

func newTestCategory(t *testing.T) *category.Category {
	t.Helper()
	spec, err := category.ParseSpec([]byte(testSpecYAML))
	if err != nil {
		t.Fatalf("ParseSpec() failed: %v", err)
	}
	reg := category.NewRegistry(category.InMemoryStores())
	if err := reg.Load(spec); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	cat, err := reg.Get(spec.Key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	return cat
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(newTestCategory(t), WithClock(testNow))
}

// fillValid fills d with a complete hourly request.
func fillValid(d *Draft) {
	d.Set(category.FieldContactPerson, "Maija Virtanen")
	d.Set("need", hourlyNeed)
	d.Toggle("contractTypes", "Sales agreement", true)
	d.Toggle("contractTypes", "Service agreement", true)
	d.Set(category.FieldProviderSize, "Any size")
	d.Set(category.FieldProviderCompanyAge, "At least 5 years")
	d.Set(category.FieldProviderMinimumRating, "4.0")
	d.Set(category.FieldProviderCountry, "Finland")
	d.Set(category.FieldCurrency, "EUR")
	d.Set(category.FieldAdvanceRetainerFee, "No advance retainer fee")
	d.Set(category.FieldInvoiceType, "Monthly invoicing")
	d.Toggle(category.FieldLanguages, "English", true)
	d.Set(category.FieldOffersDeadline, testDeadline)
	d.Set(category.FieldTitle, "Review of our sales terms")
	d.SetAgree(true)
}

func validSnapshot() Snapshot {
	d := NewDraft()
	fillValid(d)
	return d.Get()
}

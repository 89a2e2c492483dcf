package form

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Record is the normalized request sent to the persistence boundary. It is
// created once from a valid draft and not modified afterwards.
type Record struct {
	RequestCategory          string         `json:"requestCategory" validate:"required"`
	RequestSubcategory       string         `json:"requestSubcategory" validate:"required"`
	AssignmentType           string         `json:"assignmentType" validate:"required"`
	Title                    string         `json:"title" validate:"required,max=300"`
	PrimaryContactPerson     string         `json:"primaryContactPerson" validate:"required"`
	ScopeOfWork              string         `json:"scopeOfWork" validate:"required"`
	Currency                 string         `json:"currency" validate:"required"`
	PaymentRate              string         `json:"paymentRate" validate:"required"`
	RateType                 string         `json:"rateType" validate:"required,oneof=hourly lumpSum"`
	AdvanceRetainerFee       string         `json:"advanceRetainerFee" validate:"required"`
	InvoiceType              string         `json:"invoiceType" validate:"required"`
	ProviderSize             string         `json:"providerSize" validate:"required"`
	ProviderCompanyAge       string         `json:"providerCompanyAge" validate:"required"`
	ProviderMinimumRating    string         `json:"providerMinimumRating" validate:"required"`
	ProviderCountry          string         `json:"providerCountry" validate:"required"`
	Language                 string         `json:"language" validate:"required"`
	OffersDeadline           string         `json:"offersDeadline" validate:"required,datetime=2006-01-02"`
	AdditionalBackgroundInfo string         `json:"additionalBackgroundInfo,omitempty"`
	Details                  map[string]any `json:"details"`
}

var (
	recordValidate     *validator.Validate
	recordValidateOnce sync.Once
)

func recordValidator() *validator.Validate {
	recordValidateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		recordValidate = v
	})
	return recordValidate
}

// Check verifies the structural constraints of a record received over the
// wire. Composed records always pass.
func (r *Record) Check() error {
	return recordValidator().Struct(r)
}

// Deadline parses the offers deadline as a UTC date.
func (r *Record) Deadline() (time.Time, error) {
	return time.Parse(dateLayout, r.OffersDeadline)
}

// ContactPerson is one person of the purchaser's company.
type ContactPerson struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// FullName joins first and last name.
func (c ContactPerson) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// UserContext describes the signed-in purchaser. It feeds the contact
// person options and the preview header.
type UserContext struct {
	CompanyName    string          `json:"companyName"`
	BusinessID     string          `json:"businessId"`
	Country        string          `json:"country"`
	ContactPersons []ContactPerson `json:"contactPersons"`
}

// ContactOptions returns the selectable primary contact names.
func (u *UserContext) ContactOptions() []string {
	if u == nil {
		return nil
	}
	out := make([]string, 0, len(u.ContactPersons))
	for _, p := range u.ContactPersons {
		if name := p.FullName(); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Receipt is the boundary's answer to a successful submission.
type Receipt struct {
	ID    string `json:"id"`
	State string `json:"state,omitempty"`
}

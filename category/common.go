package category

// Keys of the fields every request category shares.
const (
	FieldContactPerson         = "contactPerson"
	FieldBackground            = "background"
	FieldCounterparty          = "counterparty"
	FieldConfidential          = "confidential"
	FieldProviderSize          = "providerSize"
	FieldProviderCompanyAge    = "providerCompanyAge"
	FieldProviderMinimumRating = "providerMinimumRating"
	FieldProviderCountry       = "providerCountry"
	FieldCurrency              = "currency"
	FieldMaxPrice              = "maxPrice"
	FieldAdvanceRetainerFee    = "advanceRetainerFee"
	FieldInvoiceType           = "invoiceType"
	FieldLanguages             = "languages"
	FieldOtherLanguage         = "otherLanguage"
	FieldOffersDeadline        = "offersDeadline"
	FieldTitle                 = "title"
)

// ConfidentialLabel replaces the counterparty name wherever the purchaser
// chose to disclose it only to the winning bidder.
const ConfidentialLabel = "Disclosed to Winning Bidder Only"

// CommonFields returns a fresh copy of the fields shared by all categories,
// in validation order.
func CommonFields() []Field {
	return []Field{
		{
			Key:      FieldContactPerson,
			Label:    "Primary contact person",
			Kind:     KindChoice,
			Stage:    StageContact,
			Required: true,
			Dynamic:  true,
			Message:  "Please select the primary contact person.",
		},
		{
			Key:   FieldBackground,
			Label: "Additional background information",
			Kind:  KindText,
		},
		{
			Key:   FieldCounterparty,
			Label: "Counterparty",
			Kind:  KindText,
		},
		{
			Key:   FieldConfidential,
			Label: ConfidentialLabel,
			Kind:  KindFlag,
		},
		{
			Key:      FieldProviderSize,
			Label:    "Minimum size of the legal service provider",
			Kind:     KindChoice,
			Stage:    StageEligibility,
			Required: true,
			Options:  []string{"Any size", "At least 5 lawyers", "At least 10 lawyers", "At least 50 lawyers"},
			Message:  "Please select the minimum size of the legal service provider.",
		},
		{
			Key:      FieldProviderCompanyAge,
			Label:    "Minimum age of the legal service provider",
			Kind:     KindChoice,
			Stage:    StageEligibility,
			Required: true,
			Options:  []string{"Any age", "At least 2 years", "At least 5 years", "At least 10 years"},
			Message:  "Please select the minimum age of the legal service provider.",
		},
		{
			Key:      FieldProviderMinimumRating,
			Label:    "Minimum rating of the legal service provider",
			Kind:     KindChoice,
			Stage:    StageEligibility,
			Required: true,
			Options:  []string{"Any rating", "3.0", "3.5", "4.0", "4.5"},
			Message:  "Please select the minimum rating of the legal service provider.",
		},
		{
			Key:      FieldProviderCountry,
			Label:    "Country of the legal service provider",
			Kind:     KindChoice,
			Stage:    StageEligibility,
			Required: true,
			Options:  []string{"Any country", "Finland", "Sweden", "Norway", "Denmark", "Estonia", "Germany"},
			Message:  "Please select the country of the legal service provider.",
		},
		{
			Key:      FieldCurrency,
			Label:    "Currency",
			Kind:     KindChoice,
			Stage:    StagePricing,
			Required: true,
			Options:  []string{"EUR", "USD", "GBP", "SEK", "NOK", "DKK"},
			Message:  "Please select the currency.",
		},
		{
			Key:     FieldMaxPrice,
			Label:   "Maximum price",
			Kind:    KindNumber,
			Stage:   StagePricing,
			Message: "Please enter the maximum price.",
		},
		{
			Key:      FieldAdvanceRetainerFee,
			Label:    "Advance retainer fee",
			Kind:     KindChoice,
			Stage:    StagePricing,
			Required: true,
			Options: []string{
				"No advance retainer fee",
				"Advance retainer fee of up to 25% of the offered price",
				"Advance retainer fee of up to 50% of the offered price",
			},
			Message: "Please select the advance retainer fee option.",
		},
		{
			Key:      FieldInvoiceType,
			Label:    "Invoicing",
			Kind:     KindChoice,
			Stage:    StagePricing,
			Required: true,
			Options: []string{
				"Monthly invoicing",
				"Invoicing after the assignment has been completed",
			},
			Message: "Please select the invoicing type.",
		},
		{
			Key:          FieldLanguages,
			Label:        "Languages",
			Kind:         KindMulti,
			Stage:        StageLanguage,
			Required:     true,
			Options:      []string{"English", "Finnish", "Swedish", "Norwegian", "Danish", "German", OtherSentinel},
			Other:        FieldOtherLanguage,
			Alternative:  FieldOtherLanguage,
			Message:      "Please select at least one language.",
			OtherMessage: "Please specify the other language.",
		},
		{
			Key:     FieldOtherLanguage,
			Label:   "Other language",
			Kind:    KindText,
			Stage:   StageLanguage,
			Message: "Please specify the other language.",
		},
		{
			Key:      FieldOffersDeadline,
			Label:    "Offers deadline",
			Kind:     KindDate,
			Stage:    StageDeadline,
			Required: true,
			Message:  "Please select the deadline for offers.",
		},
		{
			Key:      FieldTitle,
			Label:    "Request title",
			Kind:     KindText,
			Stage:    StageTitle,
			Required: true,
			Message:  "Please enter a title for the request.",
		},
	}
}

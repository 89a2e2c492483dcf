package form

import (
	"fmt"
	"io"
	"strings"

	"github.com/lexify/requestforms/category"
)

// Preview section headings.
const (
	SectionClient       = "Client"
	SectionScope        = "Scope of Work"
	SectionPricing      = "Pricing"
	SectionCounterparty = "Counterparty"
	SectionBackground   = "Background Information"
	SectionRetainer     = "Advance Retainer Fee"
	SectionInvoicing    = "Invoicing"
	SectionLanguages    = "Languages"
	SectionProcurement  = "Procurement Appendices"
	SectionProvider     = "Legal Service Provider"
	SectionOffers       = "Offers"
)

// PreviewEntry is one labeled value.
type PreviewEntry struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PreviewSection groups entries and attached file names under a heading.
type PreviewSection struct {
	Heading string         `json:"heading"`
	Entries []PreviewEntry `json:"entries,omitempty"`
	Files   []string       `json:"files,omitempty"`
}

func (s *PreviewSection) add(label, value string) {
	if value == "" {
		return
	}
	s.Entries = append(s.Entries, PreviewEntry{Label: label, Value: value})
}

func (s *PreviewSection) empty() bool {
	return len(s.Entries) == 0 && len(s.Files) == 0
}

// PreviewDocument is the read-only projection of a draft shown before
// submission.
type PreviewDocument struct {
	Title       string           `json:"title"`
	Category    string           `json:"category"`
	Subcategory string           `json:"subcategory"`
	Sections    []PreviewSection `json:"sections"`
}

// Section returns the section with heading, if present.
func (p *PreviewDocument) Section(heading string) (PreviewSection, bool) {
	for _, s := range p.Sections {
		if s.Heading == heading {
			return s, true
		}
	}
	return PreviewSection{}, false
}

// WriteText prints the document as plain text.
func (p *PreviewDocument) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s / %s\n", p.Title, p.Category, p.Subcategory)
	for _, s := range p.Sections {
		fmt.Fprintf(&b, "\n== %s ==\n", s.Heading)
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "%s: %s\n", e.Label, e.Value)
		}
		for _, f := range s.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Renderer projects drafts into preview documents. It never validates: an
// incomplete draft renders with the parts filled so far.
type Renderer struct {
	spec   *category.Spec
	policy *category.Policy
}

// NewRenderer creates a renderer for spec.
func NewRenderer(spec *category.Spec, policy *category.Policy) *Renderer {
	return &Renderer{spec: spec, policy: policy}
}

// Render builds the preview of s. user may be nil.
func (r *Renderer) Render(s Snapshot, user *UserContext) (*PreviewDocument, error) {
	vis, err := r.policy.Resolve(s.Facts(r.spec))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve field policy: %w", err)
	}
	visible := s.only(vis.Visible)
	d := derive(r.spec, visible)

	title := visible.Value(category.FieldTitle)
	if title == "" {
		title = r.spec.Title
	}
	doc := &PreviewDocument{
		Title:       title,
		Category:    r.spec.Category,
		Subcategory: r.spec.Subcategory,
	}

	client := PreviewSection{Heading: SectionClient}
	if user != nil {
		client.add("Company", user.CompanyName)
		client.add("Business ID", user.BusinessID)
		client.add("Country", user.Country)
	}
	client.add("Primary contact person", visible.Value(category.FieldContactPerson))

	scope := PreviewSection{Heading: SectionScope}
	scope.add("Scope of work", d.scopeOfWork)
	for _, f := range r.spec.AllFields() {
		if d.consumed[f.Key] || isCompanion(r.spec, f.Key) {
			continue
		}
		scope.add(f.Label, previewValue(extraValue(r.spec, visible, f)))
	}

	pricing := PreviewSection{Heading: SectionPricing}
	pricing.add("Currency", visible.Value(category.FieldCurrency))
	if visible.Value(r.spec.Scope.Need) != "" {
		pricing.add("Payment rate", d.paymentRate)
	}
	if d.maximumPrice != nil {
		pricing.add("Maximum price", strings.TrimSpace(fmt.Sprintf("%d %s", *d.maximumPrice, visible.Value(category.FieldCurrency))))
	}

	counterparty := PreviewSection{Heading: SectionCounterparty}
	counterparty.add("Counterparty", d.counterpartyDisplay())

	background := PreviewSection{Heading: SectionBackground}
	background.add("Additional background information", visible.Value(category.FieldBackground))
	background.Files = s.Files.Filenames(SlotBackground)

	retainer := PreviewSection{Heading: SectionRetainer}
	retainer.add("Advance retainer fee", visible.Value(category.FieldAdvanceRetainerFee))

	invoicing := PreviewSection{Heading: SectionInvoicing}
	invoicing.add("Invoicing", visible.Value(category.FieldInvoiceType))

	languages := PreviewSection{Heading: SectionLanguages}
	languages.add("Languages", d.language)

	procurement := PreviewSection{Heading: SectionProcurement}
	procurement.Files = s.Files.Filenames(SlotSupplier)

	provider := PreviewSection{Heading: SectionProvider}
	for _, key := range []string{
		category.FieldProviderSize,
		category.FieldProviderCompanyAge,
		category.FieldProviderMinimumRating,
		category.FieldProviderCountry,
	} {
		if f, ok := r.spec.Field(key); ok {
			provider.add(f.Label, visible.Value(key))
		}
	}

	offers := PreviewSection{Heading: SectionOffers}
	offers.add("Offers deadline", visible.Value(category.FieldOffersDeadline))

	for _, sec := range []PreviewSection{
		client, scope, pricing, counterparty, background, retainer,
		invoicing, languages, procurement, provider, offers,
	} {
		if sec.Heading == SectionClient || !sec.empty() {
			doc.Sections = append(doc.Sections, sec)
		}
	}
	return doc, nil
}

func isCompanion(spec *category.Spec, key string) bool {
	for _, f := range spec.AllFields() {
		if f.Other == key {
			return true
		}
	}
	return false
}

func previewValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case bool:
		if v {
			return "Yes"
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

package accounts

// ProviderDescription is the static metadata an account starts from,
// before the authentication document has been resolved.
type ProviderDescription struct {
	ID              string `json:"id" validate:"required"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	AuthDocumentURI string `json:"authDocumentUri"`
	CatalogURI      string `json:"catalogUri"`
	LoansURI        string `json:"loansUri"`
	SelectedURI     string `json:"selectedUri"`
	LogoURI         string `json:"logoUri"`
	SupportEmail    string `json:"supportEmail"`
	Production      bool   `json:"production"`
}

// Provider is the resolved, immutable view of an account's library.
// Replaced wholesale on each successful resolution.
type Provider struct {
	ID                   string
	Title                string
	Description          string
	CatalogURI           string
	LoansURI             string
	SelectedURI          string
	PatronProfileURI     string
	LogoURI              string
	ColorScheme          string
	SupportEmail         string
	EULAURI              string
	PrivacyPolicyURI     string
	LicenseURI           string
	Production           bool
	SupportsReservations bool
	Authentication       Description
	Alternatives         []Description
	Announcements        []Announcement
}

// Accepts reports whether the requested description kind is the
// provider's primary authentication or one of its alternatives.
func (p *Provider) Accepts(d Description) bool {
	if p.Authentication != nil && p.Authentication.Kind() == d.Kind() {
		return true
	}
	for _, alt := range p.Alternatives {
		if alt.Kind() == d.Kind() {
			return true
		}
	}
	return false
}

// EkirjastoDescription returns the provider's Ekirjasto description if
// it is the primary or an alternative.
func (p *Provider) EkirjastoDescription() (Ekirjasto, bool) {
	if e, ok := p.Authentication.(Ekirjasto); ok {
		return e, true
	}
	for _, alt := range p.Alternatives {
		if e, ok := alt.(Ekirjasto); ok {
			return e, true
		}
	}
	return Ekirjasto{}, false
}

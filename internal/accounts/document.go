package accounts

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// AuthDocumentMediaType is accepted even alongside HTTP error statuses,
// since some servers return the document with a non-2xx status.
const AuthDocumentMediaType = "application/vnd.opds.authentication.v1.0+json"

// Link relations inside authentication documents.
const (
	relStart                          = "start"
	relPatronProfile                  = "http://librarysimplified.org/terms/rel/user-profile"
	relAuthenticate                   = "authenticate"
	relLogo                           = "logo"
	relSupport                        = "help"
	relEULA                           = "terms-of-service"
	relPrivacyPolicy                  = "privacy-policy"
	relLicense                        = "license"
	relRestrictionMet                 = "http://librarysimplified.org/terms/rel/authentication/restriction-met"
	relRestrictionNotMet              = "http://librarysimplified.org/terms/rel/authentication/restriction-not-met"
	relEkirjastoAPI                   = "api"
	relEkirjastoTokenExchange         = "ekirjasto_token"
	relEkirjastoSSOStart              = "sso_start"
	relEkirjastoSSOFinish             = "sso_finish"
	relEkirjastoPasskeyLoginStart     = "passkey_login_start"
	relEkirjastoPasskeyLoginFinish    = "passkey_login_finish"
	relEkirjastoPasskeyRegisterStart  = "passkey_register_start"
	relEkirjastoPasskeyRegisterFinish = "passkey_register_finish"
	relEkirjastoRelations             = "relations"
	relEkirjastoInvite                = "invite"
	relEkirjastoPatronInfo            = "patron_info"
)

// Feature flag URI that marks reservation support.
const featureReservations = "https://librarysimplified.org/rel/policy/reservations"

type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type"`
}

type AuthObject struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Labels      map[string]string `json:"labels"`
	Links       []Link            `json:"links"`
}

func (o AuthObject) link(rel string) string {
	for _, l := range o.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

type Announcement struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type Features struct {
	Enabled  []string `json:"enabled"`
	Disabled []string `json:"disabled"`
}

// AuthDocument is the parsed form of a library's authentication document.
type AuthDocument struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	ColorScheme    string         `json:"color_scheme"`
	SupportEmail   string         `json:"support_email"`
	Authentication []AuthObject   `json:"authentication"`
	Features       Features       `json:"features"`
	Links          []Link         `json:"links"`
	Announcements  []Announcement `json:"announcements"`
}

func (d *AuthDocument) Link(rel string) string {
	for _, l := range d.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

func (d *AuthDocument) StartURI() string { return d.Link(relStart) }

func (d *AuthDocument) SupportsReservations() bool {
	for _, f := range d.Features.Enabled {
		if f == featureReservations {
			return true
		}
	}
	return false
}

// DocumentParser is the auth-document parser collaborator.
type DocumentParser interface {
	Parse(uri string, r io.Reader) (*AuthDocument, []string, error)
}

type jsonDocumentParser struct{}

func NewDocumentParser() DocumentParser { return jsonDocumentParser{} }

func (jsonDocumentParser) Parse(uri string, r io.Reader) (*AuthDocument, []string, error) {
	var doc AuthDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, errors.Wrapf(err, "parse auth document %s", uri)
	}
	var warnings []string
	if doc.ID == "" {
		warnings = append(warnings, "auth document has no id")
	}
	return &doc, warnings, nil
}

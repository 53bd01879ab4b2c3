// Package accounts implements account providers, authentication
// descriptions, credentials and the per-account login state machine.
package accounts

// Authentication type URIs as they appear in authentication documents.
const (
	TypeBasic             = "http://opds-spec.org/auth/basic"
	TypeBasicToken        = "http://thepalaceproject.org/authtype/basic-token"
	TypeOAuthIntermediary = "http://librarysimplified.org/authtype/OAuth-with-intermediary"
	TypeSAML20            = "http://librarysimplified.org/authtype/SAML-2.0"
	TypeCOPPAAgeGate      = "http://librarysimplified.org/terms/authentication/gate/coppa"
	TypeAnonymous         = "http://librarysimplified.org/rel/auth/anonymous"
	TypeEkirjasto         = "http://e-kirjasto.fi/authtype/ekirjasto"
)

type Kind string

const (
	KindAnonymous         Kind = "anonymous"
	KindBasic             Kind = "basic"
	KindBasicToken        Kind = "basicToken"
	KindOAuthIntermediary Kind = "oauthIntermediary"
	KindSAML20            Kind = "saml2.0"
	KindCOPPAAgeGate      Kind = "coppaAgeGate"
	KindEkirjasto         Kind = "ekirjasto"
)

// Description is the closed set of authentication descriptions. The
// concrete types below are the only implementations.
type Description interface {
	Kind() Kind
	// CanBeAlternative reports whether this description may be offered
	// as an alternative login method next to another primary.
	CanBeAlternative() bool
}

type Anonymous struct{}

func (Anonymous) Kind() Kind             { return KindAnonymous }
func (Anonymous) CanBeAlternative() bool { return false }

type Basic struct {
	Description     string
	AuthenticateURI string
	LabelLogin      string
	LabelPassword   string
}

func (Basic) Kind() Kind             { return KindBasic }
func (Basic) CanBeAlternative() bool { return true }

type BasicToken struct {
	Description     string
	AuthenticateURI string
	LabelLogin      string
	LabelPassword   string
}

func (BasicToken) Kind() Kind             { return KindBasicToken }
func (BasicToken) CanBeAlternative() bool { return false }

type OAuthIntermediary struct {
	Description     string
	AuthenticateURI string
}

func (OAuthIntermediary) Kind() Kind             { return KindOAuthIntermediary }
func (OAuthIntermediary) CanBeAlternative() bool { return true }

type SAML20 struct {
	Description     string
	AuthenticateURI string
}

func (SAML20) Kind() Kind             { return KindSAML20 }
func (SAML20) CanBeAlternative() bool { return true }

type COPPAAgeGate struct {
	Description          string
	RestrictionMetURI    string
	RestrictionNotMetURI string
}

func (COPPAAgeGate) Kind() Kind             { return KindCOPPAAgeGate }
func (COPPAAgeGate) CanBeAlternative() bool { return false }

// EkirjastoRelations are the twelve relation URIs an Ekirjasto
// authentication object must declare. All are required.
type EkirjastoRelations struct {
	Authenticate          string
	API                   string
	TokenExchange         string
	SSOStart              string
	SSOFinish             string
	PasskeyLoginStart     string
	PasskeyLoginFinish    string
	PasskeyRegisterStart  string
	PasskeyRegisterFinish string
	Relations             string
	Invite                string
	PatronInfo            string
}

// Complete reports whether every relation URI is present.
func (r EkirjastoRelations) Complete() bool {
	for _, uri := range []string{
		r.Authenticate, r.API, r.TokenExchange,
		r.SSOStart, r.SSOFinish,
		r.PasskeyLoginStart, r.PasskeyLoginFinish,
		r.PasskeyRegisterStart, r.PasskeyRegisterFinish,
		r.Relations, r.Invite, r.PatronInfo,
	} {
		if uri == "" {
			return false
		}
	}
	return true
}

type Ekirjasto struct {
	Description string
	Relations   EkirjastoRelations
}

func (Ekirjasto) Kind() Kind             { return KindEkirjasto }
func (Ekirjasto) CanBeAlternative() bool { return true }

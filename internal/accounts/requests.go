package accounts

import "net/http"

// LoginRequest is the closed set of login request variants. Begin-style
// requests carry the description they target and are gated against the
// provider's declared authentication; completion and cancel requests are
// honored only while waiting for external authentication.
type LoginRequest interface {
	loginRequest()
}

type BasicSubmit struct {
	Description Basic
	Username    string
	Password    string
}

type BasicTokenSubmit struct {
	Description BasicToken
	Username    string
	Password    string
}

type OAuthInitiate struct {
	Description OAuthIntermediary
}

type OAuthComplete struct {
	AccessToken string
}

type OAuthCancel struct{}

type SAMLInitiate struct {
	Description SAML20
}

type SAMLComplete struct {
	AccessToken string
	PatronInfo  string
	Cookies     []*http.Cookie
}

type SAMLCancel struct{}

type EkirjastoInitiateSSO struct {
	Description Ekirjasto
}

type EkirjastoInitiatePasskey struct {
	Description Ekirjasto
}

// EkirjastoComplete carries the one-time token produced by the SSO or
// passkey flow; the machine exchanges it for an access token.
type EkirjastoComplete struct {
	ExchangeToken string
}

type EkirjastoCancel struct{}

// EkirjastoAccessTokenRefresh reuses the possibly-stale access token as
// the bearer credential for a refresh POST.
type EkirjastoAccessTokenRefresh struct {
	Description Ekirjasto
	Credentials EkirjastoCredentials
}

func (BasicSubmit) loginRequest()                 {}
func (BasicTokenSubmit) loginRequest()            {}
func (OAuthInitiate) loginRequest()               {}
func (OAuthComplete) loginRequest()               {}
func (OAuthCancel) loginRequest()                 {}
func (SAMLInitiate) loginRequest()                {}
func (SAMLComplete) loginRequest()                {}
func (SAMLCancel) loginRequest()                  {}
func (EkirjastoInitiateSSO) loginRequest()        {}
func (EkirjastoInitiatePasskey) loginRequest()    {}
func (EkirjastoComplete) loginRequest()           {}
func (EkirjastoCancel) loginRequest()             {}
func (EkirjastoAccessTokenRefresh) loginRequest() {}

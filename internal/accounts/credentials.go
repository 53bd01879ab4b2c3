package accounts

import (
	"net/http"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/nordlib/patron-engine/internal/httpx"
)

// DRMInfo carries pre/post activation DRM credentials.
type DRMInfo struct {
	VendorID        string
	ClientToken     string
	DeviceManagerURI string
	Activated       bool
}

// Common holds the fields shared by every credentials variant. Filled in
// by the patron-profile refresh after login.
type Common struct {
	AnnotationsURI        string
	DeviceRegistrationURI string
	DRM                   *DRMInfo
}

// Credentials is a closed set: one variant per authentication family.
// Values are immutable; With* methods return replacements.
type Credentials interface {
	Kind() Kind
	Common() Common
	WithCommon(c Common) Credentials
}

type BasicCredentials struct {
	User     string
	Password string
	Shared   Common
}

func (b BasicCredentials) Kind() Kind     { return KindBasic }
func (b BasicCredentials) Common() Common { return b.Shared }
func (b BasicCredentials) WithCommon(c Common) Credentials {
	b.Shared = c
	return b
}

type BasicTokenCredentials struct {
	User            string
	Password        string
	AccessToken     string
	AuthenticateURI string
	Shared          Common
}

func (b BasicTokenCredentials) Kind() Kind     { return KindBasicToken }
func (b BasicTokenCredentials) Common() Common { return b.Shared }
func (b BasicTokenCredentials) WithCommon(c Common) Credentials {
	b.Shared = c
	return b
}

type OAuthCredentials struct {
	AccessToken string
	Shared      Common
}

func (o OAuthCredentials) Kind() Kind     { return KindOAuthIntermediary }
func (o OAuthCredentials) Common() Common { return o.Shared }
func (o OAuthCredentials) WithCommon(c Common) Credentials {
	o.Shared = c
	return o
}

type SAMLCredentials struct {
	AccessToken string
	PatronInfo  string
	Cookies     []*http.Cookie
	Shared      Common
}

func (s SAMLCredentials) Kind() Kind     { return KindSAML20 }
func (s SAMLCredentials) Common() Common { return s.Shared }
func (s SAMLCredentials) WithCommon(c Common) Credentials {
	s.Shared = c
	return s
}

type EkirjastoCredentials struct {
	AccessToken       string
	PatronPermanentID string
	// ExchangeToken is the one-time token obtained from SSO or passkey
	// login; cleared once exchanged for an access token.
	ExchangeToken string
	Shared        Common
}

func (e EkirjastoCredentials) Kind() Kind     { return KindEkirjasto }
func (e EkirjastoCredentials) Common() Common { return e.Shared }
func (e EkirjastoCredentials) WithCommon(c Common) Credentials {
	e.Shared = c
	return e
}

// ExpiresSoon peeks at the access token's exp claim. Tokens are opaque
// by contract, so any parse failure simply reports false.
func (e EkirjastoCredentials) ExpiresSoon(within time.Duration) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(e.AccessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < within
}

// AuthFor derives the HTTP authorization for a credentials value.
func AuthFor(cr Credentials) httpx.Auth {
	switch c := cr.(type) {
	case BasicCredentials:
		return httpx.BasicAuth{User: c.User, Password: c.Password}
	case BasicTokenCredentials:
		return httpx.BearerAuth{Token: c.AccessToken}
	case OAuthCredentials:
		return httpx.BearerAuth{Token: c.AccessToken}
	case SAMLCredentials:
		return httpx.BearerAuth{Token: c.AccessToken}
	case EkirjastoCredentials:
		return httpx.BearerAuth{Token: c.AccessToken}
	}
	return httpx.NoAuth{}
}

package accounts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nordlib/patron-engine/internal/accounts"
	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMachine() *accounts.Machine {
	client := httpx.NewClient(zap.NewExample(), httpx.Config{Timeout: time.Second * 5, RPS: 100})
	return accounts.NewMachine(client, accounts.NewProfileClient(client, zap.NewExample()), nil, nil, zap.NewExample())
}

func accountWith(p *accounts.Provider) *accounts.Account {
	a := accounts.NewAccount(accounts.ProviderDescription{ID: "acct"})
	a.SetProvider(p)
	return a
}

func TestMachine_RejectsUndeclaredScheme(t *testing.T) {
	t.Parallel()
	acct := accountWith(&accounts.Provider{
		ID:             "acct",
		Authentication: accounts.SAML20{AuthenticateURI: "https://saml.example.com"},
	})

	res := newMachine().Run(context.Background(), acct, accounts.BasicSubmit{
		Description: accounts.Basic{},
		Username:    "user",
		Password:    "pass",
	})
	require.True(t, res.Failed())
	require.Equal(t, taskres.CodeLoginAuthNotRequired, res.Code)
	require.IsType(t, accounts.LoginFailed{}, acct.State())
}

func TestMachine_StaleSAMLCompleteIsNoOp(t *testing.T) {
	t.Parallel()
	acct := accountWith(&accounts.Provider{
		ID:             "acct",
		Authentication: accounts.SAML20{AuthenticateURI: "https://saml.example.com"},
	})

	res := newMachine().Run(context.Background(), acct, accounts.SAMLComplete{AccessToken: "stale"})
	require.False(t, res.Failed())
	require.IsType(t, accounts.NotLoggedIn{}, acct.State())

	var msgs []string
	for _, s := range res.Steps {
		msgs = append(msgs, s.Resolution)
	}
	require.Contains(t, strings.Join(msgs, " "), "ignored")
}

func TestMachine_BasicTokenLoginSucceeds(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "card", user)
		require.Equal(t, "pin", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok-123"})
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"annotationsUri":        "https://example.com/annotations",
			"deviceRegistrationUri": "https://example.com/devices",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	desc := accounts.BasicToken{AuthenticateURI: srv.URL + "/token"}
	acct := accountWith(&accounts.Provider{
		ID:               "acct",
		Authentication:   desc,
		PatronProfileURI: srv.URL + "/profile",
	})

	res := newMachine().Run(context.Background(), acct, accounts.BasicTokenSubmit{
		Description: desc,
		Username:    "card",
		Password:    "pin",
	})
	require.False(t, res.Failed())

	st, ok := acct.State().(accounts.LoggedIn)
	require.True(t, ok)
	creds, ok := st.Credentials.(accounts.BasicTokenCredentials)
	require.True(t, ok)
	require.Equal(t, "tok-123", creds.AccessToken)
	require.Equal(t, "https://example.com/annotations", creds.Shared.AnnotationsURI)
	require.Equal(t, "https://example.com/devices", creds.Shared.DeviceRegistrationURI)
}

func TestMachine_Unauthorized401IsInvalidCredentials(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	desc := accounts.BasicToken{AuthenticateURI: srv.URL}
	acct := accountWith(&accounts.Provider{ID: "acct", Authentication: desc})

	res := newMachine().Run(context.Background(), acct, accounts.BasicTokenSubmit{
		Description: desc, Username: "card", Password: "wrong",
	})
	require.True(t, res.Failed())
	require.Equal(t, taskres.CodeInvalidCredentials, res.Code)
	require.IsType(t, accounts.LoginFailed{}, acct.State())
}

func TestMachine_ExternalFlowInitiateCompleteAndCancel(t *testing.T) {
	t.Parallel()
	desc := accounts.SAML20{AuthenticateURI: "https://saml.example.com"}
	acct := accountWith(&accounts.Provider{ID: "acct", Authentication: desc})
	m := newMachine()

	res := m.Run(context.Background(), acct, accounts.SAMLInitiate{Description: desc})
	require.False(t, res.Failed())
	require.IsType(t, accounts.LoggingInWaitingForExternal{}, acct.State())

	res = m.Run(context.Background(), acct, accounts.SAMLCancel{})
	require.False(t, res.Failed())
	require.IsType(t, accounts.NotLoggedIn{}, acct.State())

	// cancel again: no-op
	res = m.Run(context.Background(), acct, accounts.SAMLCancel{})
	require.False(t, res.Failed())
	require.IsType(t, accounts.NotLoggedIn{}, acct.State())
}

func ekirjastoRelations(base string) accounts.EkirjastoRelations {
	return accounts.EkirjastoRelations{
		Authenticate:          base + "/auth",
		API:                   base + "/api",
		TokenExchange:         base + "/exchange",
		SSOStart:              base + "/sso/start",
		SSOFinish:             base + "/sso/finish",
		PasskeyLoginStart:     base + "/passkey/login/start",
		PasskeyLoginFinish:    base + "/passkey/login/finish",
		PasskeyRegisterStart:  base + "/passkey/register/start",
		PasskeyRegisterFinish: base + "/passkey/register/finish",
		Relations:             base + "/relations",
		Invite:                base + "/invite",
		PatronInfo:            base + "/patron",
	}
}

func TestMachine_EkirjastoCompleteExchangesToken(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer one-time", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessToken":       "ek-token",
			"patronPermanentId": "patron-1",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	desc := accounts.Ekirjasto{Relations: ekirjastoRelations(srv.URL)}
	acct := accountWith(&accounts.Provider{ID: "acct", Authentication: desc})
	m := newMachine()

	res := m.Run(context.Background(), acct, accounts.EkirjastoInitiateSSO{Description: desc})
	require.False(t, res.Failed())

	res = m.Run(context.Background(), acct, accounts.EkirjastoComplete{ExchangeToken: "one-time"})
	require.False(t, res.Failed())

	st, ok := acct.State().(accounts.LoggedIn)
	require.True(t, ok)
	creds := st.Credentials.(accounts.EkirjastoCredentials)
	require.Equal(t, "ek-token", creds.AccessToken)
	require.Equal(t, "patron-1", creds.PatronPermanentID)
}

func TestMachine_RefreshReplacesTokenAndClearsExchangeToken(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessToken":       "fresh",
			"patronPermanentId": "patron-1",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	desc := accounts.Ekirjasto{Relations: ekirjastoRelations(srv.URL)}
	acct := accountWith(&accounts.Provider{ID: "acct", Authentication: desc})

	res := newMachine().Run(context.Background(), acct, accounts.EkirjastoAccessTokenRefresh{
		Description: desc,
		Credentials: accounts.EkirjastoCredentials{
			AccessToken:   "stale",
			ExchangeToken: "one-time",
		},
	})
	require.False(t, res.Failed())

	st, ok := acct.State().(accounts.LoggedIn)
	require.True(t, ok)
	creds := st.Credentials.(accounts.EkirjastoCredentials)
	require.Equal(t, "fresh", creds.AccessToken)
	require.Empty(t, creds.ExchangeToken)
}

func TestMachine_RefreshRejectedMeansLogInAgain(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	desc := accounts.Ekirjasto{Relations: ekirjastoRelations(srv.URL)}
	// Relations.Authenticate must point at the 401 server.
	desc.Relations.Authenticate = srv.URL

	acct := accountWith(&accounts.Provider{ID: "acct", Authentication: desc})
	res := newMachine().Run(context.Background(), acct, accounts.EkirjastoAccessTokenRefresh{
		Description: desc,
		Credentials: accounts.EkirjastoCredentials{AccessToken: "stale"},
	})
	require.True(t, res.Failed())
	require.Equal(t, taskres.CodeInvalidCredentials, res.Code)
	require.IsType(t, accounts.LoginFailed{}, acct.State())
}

func TestMachine_LogoutDestroysCredentials(t *testing.T) {
	t.Parallel()
	acct := accountWith(&accounts.Provider{ID: "acct", Authentication: accounts.Basic{}})
	acct.SetState(accounts.LoggedIn{Credentials: accounts.BasicCredentials{User: "u", Password: "p"}})

	res := newMachine().Logout(context.Background(), acct)
	require.False(t, res.Failed())
	require.IsType(t, accounts.NotLoggedIn{}, acct.State())

	_, ok := acct.Credentials()
	require.False(t, ok)
}

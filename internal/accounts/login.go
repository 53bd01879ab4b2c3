package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Machine executes login, logout and token-refresh requests against one
// account, owning all login-state transitions while a request runs.
type Machine struct {
	client   httpx.Client
	profiles PatronProfiles
	drm      DRMExecutor   // optional
	push     PushRegistrar // optional
	log      *zap.Logger
}

func NewMachine(
	client httpx.Client,
	profiles PatronProfiles,
	drm DRMExecutor,
	push PushRegistrar,
	log *zap.Logger,
) *Machine {
	return &Machine{
		client:   client,
		profiles: profiles,
		drm:      drm,
		push:     push,
		log:      log.Named("login"),
	}
}

type tokenResponse struct {
	AccessToken       string `json:"accessToken"`
	PatronPermanentID string `json:"patronPermanentId"`
	ExpiresIn         int    `json:"expiresIn"`
}

// Run executes one login request. Any panic during the run transitions
// the account to LoginFailed with code unexpectedException.
func (m *Machine) Run(ctx context.Context, acct *Account, req LoginRequest) (res taskres.Result[Credentials]) {
	rec := taskres.NewRecorder[Credentials]()
	rec.Attribute("account", acct.ID())

	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("unexpected: %v", r)
			m.log.Error("login task panic", zap.String("account", acct.ID()), zap.Any("panic", r))
			res = rec.Failure(taskres.CodeUnexpectedException, err)
			acct.SetState(LoginFailed{Result: res})
		}
	}()

	switch q := req.(type) {
	case BasicSubmit:
		if failed, r := m.gate(acct, rec, q.Description); failed {
			return r
		}
		acct.SetState(LoggingIn{Status: "logging in", Description: q.Description})
		creds := BasicCredentials{User: q.Username, Password: q.Password}
		return m.finish(ctx, acct, rec, creds)

	case BasicTokenSubmit:
		if failed, r := m.gate(acct, rec, q.Description); failed {
			return r
		}
		acct.SetState(LoggingIn{Status: "logging in", Description: q.Description})
		rec.Begin("exchange credentials for token")
		rec.Attribute("authenticateURI", q.Description.AuthenticateURI)
		token, fail := m.tokenRequest(ctx, acct, rec, q.Description.AuthenticateURI,
			httpx.BasicAuth{User: q.Username, Password: q.Password})
		if fail != nil {
			return *fail
		}
		rec.Succeed("token obtained")
		return m.finish(ctx, acct, rec, BasicTokenCredentials{
			User:            q.Username,
			Password:        q.Password,
			AccessToken:     token.AccessToken,
			AuthenticateURI: q.Description.AuthenticateURI,
		})

	case OAuthInitiate:
		if failed, r := m.gate(acct, rec, q.Description); failed {
			return r
		}
		return m.waitExternal(acct, rec, q.Description)

	case SAMLInitiate:
		if failed, r := m.gate(acct, rec, q.Description); failed {
			return r
		}
		return m.waitExternal(acct, rec, q.Description)

	case EkirjastoInitiateSSO:
		if failed, r := m.gate(acct, rec, q.Description); failed {
			return r
		}
		return m.waitExternal(acct, rec, q.Description)

	case EkirjastoInitiatePasskey:
		if failed, r := m.gate(acct, rec, q.Description); failed {
			return r
		}
		return m.waitExternal(acct, rec, q.Description)

	case OAuthComplete:
		st, waiting := acct.State().(LoggingInWaitingForExternal)
		if !waiting {
			return m.ignoreStale(rec, "oauth token ignored: not waiting for external authentication")
		}
		acct.SetState(LoggingIn{Status: "completing login", Description: st.Description})
		return m.finish(ctx, acct, rec, OAuthCredentials{AccessToken: q.AccessToken})

	case SAMLComplete:
		st, waiting := acct.State().(LoggingInWaitingForExternal)
		if !waiting {
			return m.ignoreStale(rec, "saml token ignored: not waiting for external authentication")
		}
		acct.SetState(LoggingIn{Status: "completing login", Description: st.Description})
		return m.finish(ctx, acct, rec, SAMLCredentials{
			AccessToken: q.AccessToken,
			PatronInfo:  q.PatronInfo,
			Cookies:     q.Cookies,
		})

	case EkirjastoComplete:
		st, waiting := acct.State().(LoggingInWaitingForExternal)
		if !waiting {
			return m.ignoreStale(rec, "ekirjasto token ignored: not waiting for external authentication")
		}
		desc, ok := st.Description.(Ekirjasto)
		if !ok {
			return m.ignoreStale(rec, "ekirjasto token ignored: waiting for a different scheme")
		}
		acct.SetState(LoggingIn{Status: "completing login", Description: desc})
		rec.Begin("exchange one-time token")
		token, fail := m.tokenRequest(ctx, acct, rec, desc.Relations.TokenExchange,
			httpx.BearerAuth{Token: q.ExchangeToken})
		if fail != nil {
			return *fail
		}
		rec.Succeed("token exchanged")
		return m.finish(ctx, acct, rec, EkirjastoCredentials{
			AccessToken:       token.AccessToken,
			PatronPermanentID: token.PatronPermanentID,
			ExchangeToken:     q.ExchangeToken,
		})

	case OAuthCancel:
		return m.cancel(acct, rec)
	case SAMLCancel:
		return m.cancel(acct, rec)
	case EkirjastoCancel:
		return m.cancel(acct, rec)

	case EkirjastoAccessTokenRefresh:
		return m.refresh(ctx, acct, rec, q)
	}

	err := errors.Errorf("unhandled login request %T", req)
	res = rec.Failure(taskres.CodeUnexpectedException, err)
	acct.SetState(LoginFailed{Result: res})
	return res
}

// gate rejects begin requests whose description is neither the
// provider's primary authentication nor a declared alternative.
func (m *Machine) gate(acct *Account, rec *taskres.Recorder[Credentials], d Description) (bool, taskres.Result[Credentials]) {
	rec.Begin("check authentication is required")
	provider := acct.Provider()
	if provider == nil || !provider.Accepts(d) {
		err := errors.Errorf("provider does not declare %s authentication", d.Kind())
		rec.Fail(taskres.CodeLoginAuthNotRequired, err.Error(), err)
		res := rec.Failure(taskres.CodeLoginAuthNotRequired, err)
		acct.SetState(LoginFailed{Result: res})
		return true, res
	}
	rec.Succeed(string(d.Kind()))
	return false, taskres.Result[Credentials]{}
}

func (m *Machine) waitExternal(acct *Account, rec *taskres.Recorder[Credentials], d Description) taskres.Result[Credentials] {
	acct.SetState(LoggingInWaitingForExternal{
		Status:      "waiting for external authentication",
		Description: d,
	})
	rec.Begin("await external authentication")
	rec.Succeed("waiting")
	return rec.Success(nil)
}

// ignoreStale records a success without changing state, so stale
// external callbacks cannot corrupt the current state.
func (m *Machine) ignoreStale(rec *taskres.Recorder[Credentials], msg string) taskres.Result[Credentials] {
	rec.Begin("handle external authentication result")
	rec.Succeed(msg)
	return rec.Success(nil)
}

func (m *Machine) cancel(acct *Account, rec *taskres.Recorder[Credentials]) taskres.Result[Credentials] {
	rec.Begin("cancel external authentication")
	if _, waiting := acct.State().(LoggingInWaitingForExternal); waiting {
		acct.SetState(NotLoggedIn{})
		rec.Succeed("cancelled")
	} else {
		rec.Succeed("cancel ignored: not waiting for external authentication")
	}
	return rec.Success(nil)
}

func (m *Machine) refresh(
	ctx context.Context,
	acct *Account,
	rec *taskres.Recorder[Credentials],
	q EkirjastoAccessTokenRefresh,
) taskres.Result[Credentials] {
	rec.Begin("refresh access token")
	resp := m.client.Execute(ctx, httpx.Request{
		Method: http.MethodPost,
		URI:    q.Description.Relations.Authenticate,
		Auth:   httpx.BearerAuth{Token: q.Credentials.AccessToken},
	})
	switch t := resp.(type) {
	case httpx.OK:
		var token tokenResponse
		if err := json.Unmarshal(t.Body, &token); err != nil {
			rec.Fail(taskres.CodeAuthDocumentUnusable, "unparsable token response", err)
			res := rec.Failure(taskres.CodeAuthDocumentUnusable, err)
			acct.SetState(LoginFailed{Result: res})
			return res
		}
		rec.Succeed("token refreshed")
		creds := q.Credentials
		creds.AccessToken = token.AccessToken
		if token.PatronPermanentID != "" {
			creds.PatronPermanentID = token.PatronPermanentID
		}
		creds.ExchangeToken = ""
		return m.finish(ctx, acct, rec, creds)
	case httpx.Error:
		if t.Unauthorized() {
			// The session is gone: the caller must log in again. No
			// further error reporting beyond the terminal step.
			err := errors.New("refresh rejected: must log in again")
			rec.Fail(taskres.CodeInvalidCredentials, err.Error(), err)
			res := rec.Failure(taskres.CodeInvalidCredentials, err)
			acct.SetState(LoginFailed{Result: res})
			return res
		}
		return m.failHTTP(acct, rec, t)
	case httpx.Failed:
		rec.Fail(taskres.CodeHTTPError, t.Err.Error(), t.Err)
		res := rec.Failure(taskres.CodeHTTPError, t.Err)
		acct.SetState(LoginFailed{Result: res})
		return res
	}
	err := errors.New("unhandled response type")
	res := rec.Failure(taskres.CodeUnexpectedException, err)
	acct.SetState(LoginFailed{Result: res})
	return res
}

// tokenRequest POSTs to an authentication URI and parses the token
// response. A nil result means failure; the returned failure is final.
func (m *Machine) tokenRequest(
	ctx context.Context,
	acct *Account,
	rec *taskres.Recorder[Credentials],
	uri string,
	auth httpx.Auth,
) (*tokenResponse, *taskres.Result[Credentials]) {
	resp := m.client.Execute(ctx, httpx.Request{
		Method: http.MethodPost,
		URI:    uri,
		Auth:   auth,
	})
	switch t := resp.(type) {
	case httpx.OK:
		var token tokenResponse
		if err := json.Unmarshal(t.Body, &token); err != nil {
			rec.Fail(taskres.CodeAuthDocumentUnusable, "unparsable token response", err)
			res := rec.Failure(taskres.CodeAuthDocumentUnusable, err)
			acct.SetState(LoginFailed{Result: res})
			return nil, &res
		}
		return &token, nil
	case httpx.Error:
		if t.Unauthorized() {
			err := errors.New("invalid credentials")
			rec.Fail(taskres.CodeInvalidCredentials, err.Error(), err)
			res := rec.Failure(taskres.CodeInvalidCredentials, err)
			acct.SetState(LoginFailed{Result: res})
			return nil, &res
		}
		res := m.failHTTP(acct, rec, t)
		return nil, &res
	case httpx.Failed:
		rec.Fail(taskres.CodeHTTPError, t.Err.Error(), t.Err)
		res := rec.Failure(taskres.CodeHTTPError, t.Err)
		acct.SetState(LoginFailed{Result: res})
		return nil, &res
	}
	err := errors.New("unhandled response type")
	res := rec.Failure(taskres.CodeUnexpectedException, err)
	acct.SetState(LoginFailed{Result: res})
	return nil, &res
}

func (m *Machine) failHTTP(acct *Account, rec *taskres.Recorder[Credentials], t httpx.Error) taskres.Result[Credentials] {
	code := fmt.Sprintf("%s %d %s", taskres.CodeHTTPError, t.Status, t.URI)
	if t.Problem != nil {
		rec.Attribute("problemType", t.Problem.Type)
		rec.Attribute("problemDetail", t.Problem.Detail)
		rec.Attribute("problemStatus", fmt.Sprintf("%d", t.Problem.Status))
	}
	err := errors.Errorf("server rejected request: %s", t.Message)
	rec.Fail(code, t.Message, err)
	res := rec.Failure(code, err)
	acct.SetState(LoginFailed{Result: res})
	return res
}

// finish runs the common tail of every successful authentication
// exchange: patron profile, optional DRM activation, best-effort push
// registration, then LoggedIn.
func (m *Machine) finish(
	ctx context.Context,
	acct *Account,
	rec *taskres.Recorder[Credentials],
	creds Credentials,
) taskres.Result[Credentials] {
	rec.Begin("fetch patron profile")
	profile, err := m.profiles.Profile(ctx, acct.Provider(), creds)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			rec.Fail(taskres.CodeInvalidCredentials, "invalid credentials", err)
			res := rec.Failure(taskres.CodeInvalidCredentials, err)
			acct.SetState(LoginFailed{Result: res})
			return res
		}
		rec.Fail(taskres.CodeHTTPError, err.Error(), err)
		res := rec.Failure(taskres.CodeHTTPError, err)
		acct.SetState(LoginFailed{Result: res})
		return res
	}
	common := creds.Common()
	common.AnnotationsURI = profile.AnnotationsURI
	common.DeviceRegistrationURI = profile.DeviceRegistrationURI
	if profile.DRM != nil {
		common.DRM = profile.DRM
	}
	creds = creds.WithCommon(common)
	rec.Succeed("profile fetched")

	if m.drm != nil && common.DRM != nil {
		rec.Begin("activate DRM device")
		if err := m.drm.ActivateDevice(ctx, common.DRM.VendorID, common.DRM.ClientToken); err != nil {
			// Best-effort: activation failure does not fail the login.
			rec.Succeed("device activation failed: " + err.Error())
			m.log.Warn("drm activation failed", zap.String("account", acct.ID()), zap.Error(err))
		} else {
			drm := *common.DRM
			drm.Activated = true
			common.DRM = &drm
			creds = creds.WithCommon(common)
			rec.Succeed("device activated")
		}
	}

	if m.push != nil {
		rec.Begin("register push token")
		if err := m.push.Register(ctx, acct.ID(), creds); err != nil {
			rec.Succeed("push registration failed: " + err.Error())
			m.log.Warn("push registration failed", zap.String("account", acct.ID()), zap.Error(err))
		} else {
			rec.Succeed("registered")
		}
	}

	acct.SetState(LoggedIn{Credentials: creds})
	return rec.Success(creds)
}

// Logout destroys the account's credentials, deactivating the DRM
// device best-effort first.
func (m *Machine) Logout(ctx context.Context, acct *Account) taskres.Result[taskres.Unit] {
	rec := taskres.NewRecorder[taskres.Unit]()
	rec.Attribute("account", acct.ID())

	creds, ok := acct.Credentials()
	if !ok {
		rec.Begin("log out")
		rec.Succeed("already logged out")
		return rec.Success(taskres.Unit{})
	}
	acct.SetState(LoggingOut{Credentials: creds, Status: "logging out"})

	if m.drm != nil && creds.Common().DRM != nil && creds.Common().DRM.Activated {
		rec.Begin("deactivate DRM device")
		drm := creds.Common().DRM
		if err := m.drm.DeactivateDevice(ctx, drm.VendorID, drm.ClientToken); err != nil {
			// An activated device must be released before the
			// credentials are destroyed.
			rec.Fail(taskres.CodeUnexpectedException, "device deactivation failed", err)
			res := rec.Failure(taskres.CodeUnexpectedException, err)
			acct.SetState(LogoutFailed{Result: res})
			return res
		}
		rec.Succeed("device deactivated")
	}

	rec.Begin("destroy credentials")
	acct.SetState(NotLoggedIn{})
	rec.Succeed("logged out")
	return rec.Success(taskres.Unit{})
}

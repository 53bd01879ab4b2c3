package accounts

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Profile is the slice of the patron profile the engine consumes.
type Profile struct {
	AnnotationsURI        string   `json:"annotationsUri"`
	DeviceRegistrationURI string   `json:"deviceRegistrationUri"`
	DRM                   *DRMInfo `json:"drm,omitempty"`
}

// PatronProfiles is the patron-profile service collaborator.
type PatronProfiles interface {
	Profile(ctx context.Context, provider *Provider, cr Credentials) (Profile, error)
}

// DRMExecutor performs device activation. Optional: absence is not an error.
type DRMExecutor interface {
	ActivateDevice(ctx context.Context, vendorID, clientToken string) error
	DeactivateDevice(ctx context.Context, vendorID, clientToken string) error
}

// PushRegistrar registers a push token for an account. Optional, best-effort.
type PushRegistrar interface {
	Register(ctx context.Context, accountID string, cr Credentials) error
}

type profileClient struct {
	client httpx.Client
	log    *zap.Logger
}

func NewProfileClient(client httpx.Client, log *zap.Logger) PatronProfiles {
	return &profileClient{client: client, log: log.Named("profile")}
}

func (p *profileClient) Profile(ctx context.Context, provider *Provider, cr Credentials) (Profile, error) {
	if provider == nil || provider.PatronProfileURI == "" {
		// No profile endpoint declared: nothing to refresh.
		return Profile{AnnotationsURI: cr.Common().AnnotationsURI,
			DeviceRegistrationURI: cr.Common().DeviceRegistrationURI}, nil
	}
	resp := p.client.Execute(ctx, httpx.Request{
		Method: http.MethodGet,
		URI:    provider.PatronProfileURI,
		Auth:   AuthFor(cr),
	})
	switch t := resp.(type) {
	case httpx.OK:
		var profile Profile
		if err := json.Unmarshal(t.Body, &profile); err != nil {
			return Profile{}, errors.Wrap(err, "parse patron profile")
		}
		return profile, nil
	case httpx.Error:
		return Profile{}, t.AsError()
	case httpx.Failed:
		return Profile{}, t.Err
	}
	return Profile{}, errors.New("unhandled response type")
}

package opds

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const feedMediaType = "application/opds+json"

// FeedSource fetches remote feeds. Error responses come back as
// *httpx.StatusError so callers can classify by status and problem type.
type FeedSource interface {
	Feed(ctx context.Context, uri string, auth httpx.Auth) (*Feed, error)
	Entry(ctx context.Context, uri string, auth httpx.Auth) (*Entry, error)
}

type Loader struct {
	client httpx.Client
	log    *zap.Logger
}

func NewLoader(client httpx.Client, log *zap.Logger) *Loader {
	return &Loader{client: client, log: log.Named("opds")}
}

func (l *Loader) Feed(ctx context.Context, uri string, auth httpx.Auth) (*Feed, error) {
	body, err := l.fetch(ctx, uri, auth)
	if err != nil {
		return nil, err
	}
	var feed Feed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, errors.Wrapf(err, "malformed feed %s", uri)
	}
	return &feed, nil
}

func (l *Loader) Entry(ctx context.Context, uri string, auth httpx.Auth) (*Entry, error) {
	body, err := l.fetch(ctx, uri, auth)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, errors.Wrapf(err, "malformed entry %s", uri)
	}
	return &entry, nil
}

func (l *Loader) fetch(ctx context.Context, uri string, auth httpx.Auth) ([]byte, error) {
	resp := l.client.Execute(ctx, httpx.Request{
		Method: http.MethodGet,
		URI:    uri,
		Auth:   auth,
		Accept: feedMediaType,
	})
	switch r := resp.(type) {
	case httpx.OK:
		return r.Body, nil
	case httpx.Error:
		return nil, r.AsError()
	case httpx.Failed:
		return nil, r.Err
	}
	return nil, errors.Errorf("unhandled response type for %s", uri)
}

// Package httpx is the HTTP collaborator boundary of the engine. Every
// network call goes through Client.Execute, which returns a closed set of
// outcomes so callers can dispatch exhaustively.
package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/nordlib/patron-engine/pkg/circuit_breaker"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	AuthorizationHeader = "Authorization"
	bearer              = "Bearer "
)

// Auth is the authorization applied to a request.
type Auth interface {
	Apply(r *http.Request)
}

type NoAuth struct{}

func (NoAuth) Apply(*http.Request) {}

type BasicAuth struct {
	User     string
	Password string
}

func (a BasicAuth) Apply(r *http.Request) { r.SetBasicAuth(a.User, a.Password) }

type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(r *http.Request) {
	r.Header.Set(AuthorizationHeader, bearer+a.Token)
}

type Request struct {
	Method      string
	URI         string
	Auth        Auth
	Body        []byte
	ContentType string
	Accept      string
}

// Response is one of OK, Error or Failed.
type Response interface {
	isResponse()
}

// OK is any response with a non-error status.
type OK struct {
	Status      int
	ContentType string
	Body        []byte
}

// Error is a response with status >= 400. Body and ContentType are kept
// because some servers return a usable document alongside an error status.
type Error struct {
	Status      int
	URI         string
	Message     string
	ContentType string
	Body        []byte
	Problem     *Problem
}

// Failed is a transport-level failure: no response was received.
type Failed struct {
	Err error
}

func (OK) isResponse()     {}
func (Error) isResponse()  {}
func (Failed) isResponse() {}

func (e Error) Unauthorized() bool { return e.Status == http.StatusUnauthorized }

// StatusError adapts an Error response into an error value for callers
// that surface outcomes through error returns.
type StatusError struct {
	Status  int
	URI     string
	Message string
	Problem *Problem
}

func (e *StatusError) Error() string {
	return "http status " + http.StatusText(e.Status) + ": " + e.URI
}

func (e Error) AsError() *StatusError {
	return &StatusError{Status: e.Status, URI: e.URI, Message: e.Message, Problem: e.Problem}
}

type Client interface {
	Execute(ctx context.Context, req Request) Response
}

type Config struct {
	Timeout time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"1m"`
	RPS     int           `envconfig:"HTTP_CLIENT_RPS" default:"20"`
}

type client struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker circuit_breaker.CircuitBreaker
	log     *zap.Logger
}

// Breaker tuning: a third of the last 30 transport failures opens the
// breaker for 10s, 3 probes close it again.
const (
	breakerRecordLength = 30
	breakerTimeout      = 10 * time.Second
	breakerPercentile   = 0.33
	breakerRecovery     = 3
)

func NewClient(log *zap.Logger, cfg Config) Client {
	return &client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
		breaker: circuit_breaker.New(breakerRecordLength, breakerTimeout, breakerPercentile, breakerRecovery),
		log:     log.Named("httpx"),
	}
}

func (c *client) Execute(ctx context.Context, req Request) Response {
	if err := c.limiter.Wait(ctx); err != nil {
		return Failed{Err: err}
	}

	var body io.Reader
	if len(req.Body) != 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI, body)
	if err != nil {
		return Failed{Err: errors.Wrap(err, "build request")}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}
	if req.Auth != nil {
		req.Auth.Apply(httpReq)
	}

	var resp *http.Response
	if err := c.breaker.Call(func() error {
		var doErr error
		resp, doErr = c.http.Do(httpReq)
		return doErr
	}); err != nil {
		return Failed{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failed{Err: errors.Wrap(err, "read body")}
	}
	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode >= http.StatusBadRequest {
		e := Error{
			Status:      resp.StatusCode,
			URI:         req.URI,
			Message:     resp.Status,
			ContentType: contentType,
			Body:        data,
			Problem:     parseProblem(contentType, data),
		}
		c.log.Debug("http error",
			zap.String("uri", req.URI),
			zap.Int("status", resp.StatusCode))
		return e
	}
	return OK{Status: resp.StatusCode, ContentType: contentType, Body: data}
}

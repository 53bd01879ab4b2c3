package accounts

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	relShelf    = "http://opds-spec.org/shelf"
	relSelected = "http://librarysimplified.org/rel/selected"
)

// Resolver turns a provider description plus the library's
// authentication document into a resolved Provider.
type Resolver struct {
	client httpx.Client
	parser DocumentParser
	log    *zap.Logger
}

func NewResolver(client httpx.Client, parser DocumentParser, log *zap.Logger) *Resolver {
	return &Resolver{client: client, parser: parser, log: log.Named("resolver")}
}

// Resolve never returns a partially-built provider: any failure aborts
// with a stable error code.
func (r *Resolver) Resolve(ctx context.Context, desc ProviderDescription) taskres.Result[*Provider] {
	rec := taskres.NewRecorder[*Provider]()
	rec.Attribute("provider", desc.ID)

	if desc.AuthDocumentURI == "" {
		rec.Begin("no authentication document declared")
		rec.Succeed("provider uses anonymous authentication")
		return r.build(rec, desc, nil, []Description{Anonymous{}})
	}

	rec.Begin("fetch authentication document")
	rec.Attribute("authDocumentURI", desc.AuthDocumentURI)
	doc, res := r.fetchDocument(ctx, rec, desc.AuthDocumentURI)
	if doc == nil {
		return res
	}
	rec.Succeed("fetched")

	rec.Begin("classify authentication objects")
	descriptions, err := classify(doc)
	if err != nil {
		rec.Fail(taskres.CodeAuthDocumentUnusable, err.Error(), err)
		return rec.Failure(taskres.CodeAuthDocumentUnusable, err)
	}
	if len(descriptions) == 0 {
		err := errors.New("no usable authentication description")
		rec.Fail(taskres.CodeAuthDocumentUnusable, err.Error(), err)
		return rec.Failure(taskres.CodeAuthDocumentUnusable, err)
	}
	rec.Succeed(fmt.Sprintf("classified %d description(s)", len(descriptions)))

	return r.build(rec, desc, doc, descriptions)
}

func (r *Resolver) fetchDocument(
	ctx context.Context,
	rec *taskres.Recorder[*Provider],
	uri string,
) (*AuthDocument, taskres.Result[*Provider]) {
	resp := r.client.Execute(ctx, httpx.Request{
		Method: http.MethodGet,
		URI:    uri,
		Auth:   httpx.NoAuth{},
		Accept: AuthDocumentMediaType,
	})

	var body []byte
	switch t := resp.(type) {
	case httpx.OK:
		body = t.Body
	case httpx.Error:
		// Some servers return the auth document alongside an error status.
		if strings.HasPrefix(t.ContentType, AuthDocumentMediaType) && len(t.Body) != 0 {
			body = t.Body
			break
		}
		err := errors.Errorf("%s %d %s", taskres.CodeHTTPError, t.Status, uri)
		code := fmt.Sprintf("%s %d %s", taskres.CodeHTTPError, t.Status, uri)
		if t.Problem != nil {
			rec.Attribute("problemType", t.Problem.Type)
			rec.Attribute("problemDetail", t.Problem.Detail)
		}
		rec.Fail(code, t.Message, err)
		return nil, rec.Failure(code, err)
	case httpx.Failed:
		rec.Fail(taskres.CodeHTTPError, t.Err.Error(), t.Err)
		return nil, rec.Failure(taskres.CodeHTTPError, t.Err)
	}

	doc, warnings, err := r.parser.Parse(uri, bytes.NewReader(body))
	if err != nil {
		rec.Fail(taskres.CodeAuthDocumentUnusable, err.Error(), err)
		return nil, rec.Failure(taskres.CodeAuthDocumentUnusable, err)
	}
	for _, w := range warnings {
		r.log.Warn("auth document warning", zap.String("uri", uri), zap.String("warning", w))
	}
	return doc, taskres.Result[*Provider]{}
}

// classify converts authentication objects in declaration order.
// Unrecognized types are dropped; a conversion failure aborts; an
// Anonymous object clears everything accumulated and stops.
func classify(doc *AuthDocument) ([]Description, error) {
	var out []Description
	for _, obj := range doc.Authentication {
		switch obj.Type {
		case TypeAnonymous:
			return []Description{Anonymous{}}, nil
		case TypeBasic:
			out = append(out, Basic{
				Description:   obj.Description,
				LabelLogin:    obj.Labels["login"],
				LabelPassword: obj.Labels["password"],
			})
		case TypeBasicToken:
			uri := obj.link(relAuthenticate)
			if uri == "" {
				return nil, errors.New("basic-token authentication missing authenticate link")
			}
			out = append(out, BasicToken{
				Description:     obj.Description,
				AuthenticateURI: uri,
				LabelLogin:      obj.Labels["login"],
				LabelPassword:   obj.Labels["password"],
			})
		case TypeOAuthIntermediary:
			uri := obj.link(relAuthenticate)
			if uri == "" {
				return nil, errors.New("oauth authentication missing authenticate link")
			}
			out = append(out, OAuthIntermediary{Description: obj.Description, AuthenticateURI: uri})
		case TypeSAML20:
			uri := obj.link(relAuthenticate)
			if uri == "" {
				return nil, errors.New("saml authentication missing authenticate link")
			}
			out = append(out, SAML20{Description: obj.Description, AuthenticateURI: uri})
		case TypeCOPPAAgeGate:
			met, notMet := obj.link(relRestrictionMet), obj.link(relRestrictionNotMet)
			if met == "" || notMet == "" {
				return nil, errors.New("coppa authentication missing restriction links")
			}
			out = append(out, COPPAAgeGate{
				Description:          obj.Description,
				RestrictionMetURI:    met,
				RestrictionNotMetURI: notMet,
			})
		case TypeEkirjasto:
			rels := EkirjastoRelations{
				Authenticate:          obj.link(relAuthenticate),
				API:                   obj.link(relEkirjastoAPI),
				TokenExchange:         obj.link(relEkirjastoTokenExchange),
				SSOStart:              obj.link(relEkirjastoSSOStart),
				SSOFinish:             obj.link(relEkirjastoSSOFinish),
				PasskeyLoginStart:     obj.link(relEkirjastoPasskeyLoginStart),
				PasskeyLoginFinish:    obj.link(relEkirjastoPasskeyLoginFinish),
				PasskeyRegisterStart:  obj.link(relEkirjastoPasskeyRegisterStart),
				PasskeyRegisterFinish: obj.link(relEkirjastoPasskeyRegisterFinish),
				Relations:             obj.link(relEkirjastoRelations),
				Invite:                obj.link(relEkirjastoInvite),
				PatronInfo:            obj.link(relEkirjastoPatronInfo),
			}
			if !rels.Complete() {
				return nil, errors.New("ekirjasto authentication missing relation links")
			}
			out = append(out, Ekirjasto{Description: obj.Description, Relations: rels})
		default:
			// Unrecognized authentication types are dropped silently.
		}
	}
	return out, nil
}

// selectPrimary picks the primary description and the alternatives.
// BasicToken always wins primary selection when present.
func selectPrimary(descriptions []Description) (Description, []Description) {
	primary := descriptions[0]
	for _, d := range descriptions {
		if d.Kind() == KindBasicToken {
			primary = d
			break
		}
	}
	var alternatives []Description
	for _, d := range descriptions {
		if d == primary {
			continue
		}
		if d.CanBeAlternative() {
			alternatives = append(alternatives, d)
		}
	}
	return primary, alternatives
}

func (r *Resolver) build(
	rec *taskres.Recorder[*Provider],
	desc ProviderDescription,
	doc *AuthDocument,
	descriptions []Description,
) taskres.Result[*Provider] {
	primary, alternatives := selectPrimary(descriptions)

	rec.Begin("derive catalog URI")
	p := &Provider{
		ID:             desc.ID,
		Title:          desc.Title,
		Description:    desc.Description,
		CatalogURI:     desc.CatalogURI,
		LoansURI:       desc.LoansURI,
		SelectedURI:    desc.SelectedURI,
		LogoURI:        desc.LogoURI,
		SupportEmail:   desc.SupportEmail,
		Production:     desc.Production,
		Authentication: primary,
		Alternatives:   alternatives,
	}
	if doc != nil {
		// Document values take precedence over static metadata,
		// field by field.
		if uri := doc.StartURI(); uri != "" {
			p.CatalogURI = uri
		}
		if doc.Title != "" {
			p.Title = doc.Title
		}
		if doc.Description != "" {
			p.Description = doc.Description
		}
		if uri := doc.Link(relLogo); uri != "" {
			p.LogoURI = uri
		}
		if doc.ColorScheme != "" {
			p.ColorScheme = doc.ColorScheme
		}
		if doc.SupportEmail != "" {
			p.SupportEmail = doc.SupportEmail
		}
		if uri := doc.Link(relShelf); uri != "" {
			p.LoansURI = uri
		}
		if uri := doc.Link(relSelected); uri != "" {
			p.SelectedURI = uri
		}
		p.PatronProfileURI = doc.Link(relPatronProfile)
		p.EULAURI = doc.Link(relEULA)
		p.PrivacyPolicyURI = doc.Link(relPrivacyPolicy)
		p.LicenseURI = doc.Link(relLicense)
		p.SupportsReservations = doc.SupportsReservations()
		p.Announcements = doc.Announcements
	}
	if p.CatalogURI == "" {
		err := errors.New("no catalog URI in document or provider metadata")
		rec.Fail(taskres.CodeAuthDocumentUnusable, err.Error(), err)
		return rec.Failure(taskres.CodeAuthDocumentUnusable, err)
	}
	rec.Succeed(p.CatalogURI)

	return rec.Success(p)
}

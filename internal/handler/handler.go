package handler

import (
	"net/http"

	md "github.com/nordlib/patron-engine/pkg/middleware"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nordlib/patron-engine/internal/accounts"
	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/controller"
	"github.com/nordlib/patron-engine/internal/taskres"
	"github.com/nordlib/patron-engine/internal/tasks"
	"github.com/nordlib/patron-engine/pkg/validate"
	"go.uber.org/zap"
)

type Handler struct {
	ctrl     *controller.Controller
	registry *books.Registry
	log      *zap.Logger
}

func New(ctrl *controller.Controller, registry *books.Registry, log *zap.Logger) *Handler {
	return &Handler{
		ctrl:     ctrl,
		registry: registry,
		log:      log,
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig()),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
	)

	api.GET("/accounts", h.GetAccounts)
	api.POST("/accounts/:accountID/login", h.Login)
	api.POST("/accounts/:accountID/logout", h.Logout)
	api.POST("/accounts/:accountID/sync", h.Sync)

	api.GET("/accounts/:accountID/books", h.GetBooks)
	api.POST("/accounts/:accountID/books/:bookID/borrow", h.Borrow)
	api.DELETE("/accounts/:accountID/books/:bookID/borrow", h.CancelBorrow)
	api.POST("/accounts/:accountID/books/:bookID/revoke", h.Revoke)
	api.POST("/accounts/:accountID/books/:bookID/select", h.Select)
	api.DELETE("/accounts/:accountID/books/:bookID/select", h.Unselect)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

type accountDTO struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) GetAccounts(c echo.Context) error {
	accts := h.ctrl.Accounts().Accounts()
	out := make([]accountDTO, 0, len(accts))
	for _, a := range accts {
		dto := accountDTO{ID: a.ID(), State: a.State().String()}
		switch s := a.State().(type) {
		case accounts.LoginFailed:
			dto.Code = s.Result.Code
		case accounts.LogoutFailed:
			dto.Code = s.Result.Code
		}
		out = append(out, dto)
	}
	return c.JSON(http.StatusOK, out)
}

type loginDTO struct {
	Kind     string `json:"kind" validate:"required"`
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

func (h *Handler) Login(c echo.Context) error {
	acct, err := h.account(c)
	if err != nil {
		return err
	}
	var dto loginDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return err
	}
	req, err := h.loginRequest(acct, dto)
	if err != nil {
		return err
	}

	res, err := h.ctrl.Login(acct, req).Await(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	return renderResult(c, taskres.Result[taskres.Unit]{
		Steps:      res.Steps,
		Attributes: res.Attributes,
		Code:       res.Code,
		Err:        res.Err,
	})
}

// loginRequest maps the wire request onto the login request variant for
// one of the provider's declared authentication descriptions.
func (h *Handler) loginRequest(acct *accounts.Account, dto loginDTO) (accounts.LoginRequest, error) {
	p := acct.Provider()
	if p == nil {
		return nil, echo.NewHTTPError(http.StatusConflict, "account not resolved yet, sync first")
	}
	switch dto.Kind {
	case "basic":
		d, ok := describe(p, accounts.KindBasic)
		if !ok {
			return nil, unsupported(dto.Kind)
		}
		return accounts.BasicSubmit{Description: d.(accounts.Basic), Username: dto.Username, Password: dto.Password}, nil
	case "basicToken":
		d, ok := describe(p, accounts.KindBasicToken)
		if !ok {
			return nil, unsupported(dto.Kind)
		}
		return accounts.BasicTokenSubmit{Description: d.(accounts.BasicToken), Username: dto.Username, Password: dto.Password}, nil
	case "oauthInitiate":
		d, ok := describe(p, accounts.KindOAuthIntermediary)
		if !ok {
			return nil, unsupported(dto.Kind)
		}
		return accounts.OAuthInitiate{Description: d.(accounts.OAuthIntermediary)}, nil
	case "oauthComplete":
		return accounts.OAuthComplete{AccessToken: dto.Token}, nil
	case "oauthCancel":
		return accounts.OAuthCancel{}, nil
	case "samlInitiate":
		d, ok := describe(p, accounts.KindSAML20)
		if !ok {
			return nil, unsupported(dto.Kind)
		}
		return accounts.SAMLInitiate{Description: d.(accounts.SAML20)}, nil
	case "samlComplete":
		return accounts.SAMLComplete{AccessToken: dto.Token}, nil
	case "samlCancel":
		return accounts.SAMLCancel{}, nil
	case "ekirjastoSSO":
		d, ok := p.EkirjastoDescription()
		if !ok {
			return nil, unsupported(dto.Kind)
		}
		return accounts.EkirjastoInitiateSSO{Description: d}, nil
	case "ekirjastoPasskey":
		d, ok := p.EkirjastoDescription()
		if !ok {
			return nil, unsupported(dto.Kind)
		}
		return accounts.EkirjastoInitiatePasskey{Description: d}, nil
	case "ekirjastoComplete":
		return accounts.EkirjastoComplete{ExchangeToken: dto.Token}, nil
	case "ekirjastoCancel":
		return accounts.EkirjastoCancel{}, nil
	}
	return nil, echo.NewHTTPError(http.StatusBadRequest, "unknown login kind: "+dto.Kind)
}

func describe(p *accounts.Provider, kind accounts.Kind) (accounts.Description, bool) {
	if p.Authentication != nil && p.Authentication.Kind() == kind {
		return p.Authentication, true
	}
	for _, alt := range p.Alternatives {
		if alt.Kind() == kind {
			return alt, true
		}
	}
	return nil, false
}

func unsupported(kind string) error {
	return echo.NewHTTPError(http.StatusConflict, "authentication kind not offered by provider: "+kind)
}

func (h *Handler) Logout(c echo.Context) error {
	acct, err := h.account(c)
	if err != nil {
		return err
	}
	return h.await(c, h.ctrl.Logout(acct))
}

func (h *Handler) Sync(c echo.Context) error {
	acct, err := h.account(c)
	if err != nil {
		return err
	}
	return h.await(c, h.ctrl.Sync(acct))
}

type bookDTO struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Status   string   `json:"status"`
	Selected bool     `json:"selected"`
	Formats  []string `json:"formats,omitempty"`
}

func (h *Handler) GetBooks(c echo.Context) error {
	acct, err := h.account(c)
	if err != nil {
		return err
	}
	out := make([]bookDTO, 0)
	for _, b := range h.registry.Books() {
		if b.Book.AccountID != acct.ID() {
			continue
		}
		out = append(out, bookDTO{
			ID:       string(b.Book.ID),
			Title:    b.Book.Entry.Title,
			Status:   string(b.Status),
			Selected: b.Book.Entry.Selected != nil,
			Formats:  b.Book.Entry.Formats,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Borrow(c echo.Context) error {
	acct, err := h.account(c)
	if err != nil {
		return err
	}
	return h.await(c, h.ctrl.Borrow(acct, books.ID(c.Param("bookID"))))
}

func (h *Handler) CancelBorrow(c echo.Context) error {
	if _, err := h.account(c); err != nil {
		return err
	}
	if !h.ctrl.CancelBorrow(books.ID(c.Param("bookID"))) {
		return echo.NewHTTPError(http.StatusNotFound, "no borrow in flight")
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) Revoke(c echo.Context) error {
	acct, err := h.account(c)
	if err != nil {
		return err
	}
	return h.await(c, h.ctrl.RevokeBook(acct, books.ID(c.Param("bookID"))))
}

func (h *Handler) Select(c echo.Context) error {
	acct, err := h.account(c)
	if err != nil {
		return err
	}
	return h.await(c, h.ctrl.Select(acct, books.ID(c.Param("bookID"))))
}

func (h *Handler) Unselect(c echo.Context) error {
	acct, err := h.account(c)
	if err != nil {
		return err
	}
	return h.await(c, h.ctrl.Unselect(acct, books.ID(c.Param("bookID"))))
}

func (h *Handler) account(c echo.Context) (*accounts.Account, error) {
	acct, ok := h.ctrl.Accounts().Account(c.Param("accountID"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown account")
	}
	return acct, nil
}

func (h *Handler) await(c echo.Context, fut *tasks.Future[taskres.Result[taskres.Unit]]) error {
	res, err := fut.Await(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	return renderResult(c, res)
}

type stepDTO struct {
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
	Failed      bool   `json:"failed"`
	Code        string `json:"code,omitempty"`
}

type resultDTO struct {
	Code       string            `json:"code,omitempty"`
	Steps      []stepDTO         `json:"steps"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func renderResult(c echo.Context, res taskres.Result[taskres.Unit]) error {
	dto := resultDTO{Code: res.Code, Attributes: res.Attributes}
	for _, s := range res.Steps {
		dto.Steps = append(dto.Steps, stepDTO{
			Description: s.Description,
			Resolution:  s.Resolution,
			Failed:      s.Failed,
			Code:        s.Code,
		})
	}
	status := http.StatusOK
	if res.Failed() {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, dto)
}

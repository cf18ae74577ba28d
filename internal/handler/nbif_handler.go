package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-nbif/internal/dto"
	"github.com/noah-isme/gema-nbif/internal/middleware"
	"github.com/noah-isme/gema-nbif/internal/platform"
	"github.com/noah-isme/gema-nbif/internal/service"
	"github.com/noah-isme/gema-nbif/internal/utils"
)

// NBIFHandler adapts HTTP requests to the page controller.
type NBIFHandler struct {
	service   service.NBIFService
	renderer  *platform.Renderer
	validator *validator.Validate
	urlRoot   string
	logger    zerolog.Logger
}

// NewNBIFHandler constructs the page controller handler. urlRoot prefixes
// links written into pages.
func NewNBIFHandler(service service.NBIFService, renderer *platform.Renderer, validate *validator.Validate, urlRoot string, logger zerolog.Logger) *NBIFHandler {
	return &NBIFHandler{
		service:   service,
		renderer:  renderer,
		validator: validate,
		urlRoot:   urlRoot,
		logger:    logger.With().Str("component", "nbif_handler").Logger(),
	}
}

// Register wires the nbif, nbauth and nbquestion routes of every course.
// Extra handlers (rate limiting) run before the controller.
func (h *NBIFHandler) Register(router fiber.Router, before ...fiber.Handler) {
	routes := map[string]fiber.Handler{
		"/:course/nbif":       h.nbif,
		"/:course/nbauth":     h.nbauth,
		"/:course/nbquestion": h.nbquestion,
	}
	for path, handler := range routes {
		chain := append(append([]fiber.Handler{}, before...), handler)
		router.Get(path, chain...)
		router.Post(path, chain...)
	}
}

func (h *NBIFHandler) nbif(c *fiber.Ctx) error {
	return h.serve(c, "")
}

func (h *NBIFHandler) nbauth(c *fiber.Ctx) error {
	return h.serve(c, service.ActionAuth)
}

func (h *NBIFHandler) nbquestion(c *fiber.Ctx) error {
	return h.serve(c, service.ActionQuestion)
}

// serve runs the controller. forced overrides the do field for nbauth;
// nbquestion only defaults it.
func (h *NBIFHandler) serve(c *fiber.Ctx, forced string) error {
	form := requestForm(c)
	switch {
	case forced == service.ActionAuth:
		form["do"] = forced
	case forced != "" && form["do"] == "":
		form["do"] = forced
	}

	req := dto.NBIFRequestFromForm(form)
	if err := h.validator.Struct(req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid nbif request", validationDetails(err))
	}

	pctx := &platform.Context{
		Course:   c.Params("course"),
		URLRoot:  h.urlRoot,
		PathInfo: []string{c.Params("course"), "nbif"},
		Username: middleware.Username(c),
		UserInfo: platform.UserInfo{
			Role:     middleware.Role(c),
			Username: middleware.Username(c),
			APIToken: middleware.APIToken(c),
		},
		Form:  form,
		Extra: map[string]any{"correlation_id": middleware.GetCorrelationID(c)},
	}
	if pctx.Username == "" {
		pctx.Username = "None"
	}

	if err := h.service.Respond(c.UserContext(), pctx); err != nil {
		return h.handleError(c, err)
	}

	if pctx.Handler == platform.HandlerRawResponse {
		return utils.SendRaw(c, fiber.StatusOK, pctx.ContentType, pctx.Response)
	}

	html, err := h.renderer.Render(pctx)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendRaw(c, fiber.StatusOK, fiber.MIMETextHTMLCharsetUTF8, html)
}

func (h *NBIFHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrDebugForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	case errors.Is(err, service.ErrInvalidPage):
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	case errors.Is(err, service.ErrAnonymousUser):
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	default:
		logger := middleware.RequestLogger(c, h.logger)
		logger.Error().Err(err).Msg("nbif request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to process nbif request")
	}
}

// requestForm merges query arguments and urlencoded POST fields; POST wins.
func requestForm(c *fiber.Ctx) map[string]string {
	form := map[string]string{}
	for key, value := range c.Queries() {
		form[key] = value
	}
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		form[string(key)] = string(value)
	})
	return form
}

func validationDetails(err error) map[string]string {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
	}
	return details
}

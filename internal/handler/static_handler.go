package handler

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-nbif/internal/platform"
	"github.com/noah-isme/gema-nbif/internal/utils"
)

// StaticHandler serves the CURRENT/ assets of course pages.
type StaticHandler struct {
	loader *platform.FSLoader
	logger zerolog.Logger
}

// NewStaticHandler constructs a static asset handler.
func NewStaticHandler(loader *platform.FSLoader, logger zerolog.Logger) *StaticHandler {
	return &StaticHandler{
		loader: loader,
		logger: logger.With().Str("component", "static_handler").Logger(),
	}
}

// Register wires the static route. Assets may sit in subdirectories of the
// static directory.
func (h *StaticHandler) Register(router fiber.Router) {
	router.Get("/:course/:page/"+platform.StaticDir+"/*", h.serve)
}

func (h *StaticHandler) serve(c *fiber.Ctx) error {
	file := filepath.FromSlash(c.Params("*"))
	if file == "" || !filepath.IsLocal(file) {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid asset path")
	}
	dir, err := h.loader.Dir(c.Params("course"), c.Params("page"))
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid asset path")
	}

	path := filepath.Join(dir, platform.StaticDir, file)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return utils.SendError(c, fiber.StatusNotFound, "asset not found")
		}
		h.logger.Error().Err(err).Str("path", path).Msg("failed to read asset")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to read asset")
	}

	c.Set(fiber.HeaderContentType, mimetype.Detect(data).String())
	c.Set(fiber.HeaderCacheControl, "public, max-age=300")
	return c.Send(data)
}

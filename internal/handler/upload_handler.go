package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/repository"
	"github.com/karyadesign/karya-api/internal/service"
	"github.com/karyadesign/karya-api/internal/utils"
)

// UploadHandler handles chat attachment uploads.
type UploadHandler struct {
	service service.UploadService
	logger  zerolog.Logger
}

// NewUploadHandler constructs an upload handler.
func NewUploadHandler(service service.UploadService, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		service: service,
		logger:  logger.With().Str("component", "upload_handler").Logger(),
	}
}

// Register wires attachment routes.
func (h *UploadHandler) Register(router fiber.Router) {
	router.Post("/attachments", h.attach)
}

func (h *UploadHandler) attach(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if actor.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	orderID := strings.TrimSpace(c.FormValue("order_id"))
	if orderID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "order_id required")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	result, err := h.service.Attach(requestContext(c), actor, orderID, file)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUploadTooLarge):
			return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, service.ErrUploadTypeNotAllowed):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrChatNotAuthorised):
			return utils.SendError(c, fiber.StatusForbidden, "not authorised for this order")
		case errors.Is(err, repository.ErrOrderNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "order not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Str("order_id", orderID).Msg("attachment upload failed")
			return utils.SendError(c, fiber.StatusInternalServerError, "upload failed")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "attachment uploaded", result)
}

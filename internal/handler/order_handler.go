package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/dto"
	"github.com/karyadesign/karya-api/internal/middleware"
	"github.com/karyadesign/karya-api/internal/repository"
	"github.com/karyadesign/karya-api/internal/service"
	"github.com/karyadesign/karya-api/internal/utils"
)

// OrderHandler wires design-order endpoints.
type OrderHandler struct {
	service   service.OrderService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewOrderHandler creates an order handler instance.
func NewOrderHandler(service service.OrderService, validator *validator.Validate, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "order_handler").Logger(),
	}
}

// Register binds order routes under the provided router group.
func (h *OrderHandler) Register(router fiber.Router, staffOnly fiber.Handler) {
	router.Post("/", h.create)
	router.Get("/", h.list)
	router.Get("/:id", h.get)
	router.Patch("/:id/status", staffOnly, h.transition)
}

func (h *OrderHandler) create(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if actor.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.OrderCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	order, err := h.service.Create(requestContext(c), actor, payload)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("order creation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to create order")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "order created", order)
}

func (h *OrderHandler) list(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if actor.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	orders, err := h.service.List(requestContext(c), actor)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("order listing failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list orders")
	}

	return utils.SendSuccess(c, "orders", orders)
}

func (h *OrderHandler) get(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if actor.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	order, err := h.service.Get(requestContext(c), actor, c.Params("id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "order not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("order lookup failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to fetch order")
	}

	return utils.SendSuccess(c, "order", order)
}

func (h *OrderHandler) transition(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if actor.ID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.OrderStatusRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Transition(requestContext(c), c.Params("id"), payload.Status, actor)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTransitionNotAllowed):
			return utils.SendError(c, fiber.StatusForbidden, "only designers and admins may change order status")
		case errors.Is(err, service.ErrInvalidStatus):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrTerminalStatus):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		case errors.Is(err, repository.ErrOrderNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrStatusNotPersisted):
			requestLogger(h.logger, c).Error().Err(err).Msg("status transition not persisted")
			return utils.SendError(c, fiber.StatusBadGateway, "status update could not be persisted")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("status transition failed")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to update status")
		}
	}

	return utils.SendSuccess(c, "order status updated", result)
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

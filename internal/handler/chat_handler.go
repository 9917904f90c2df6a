package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/dto"
	"github.com/karyadesign/karya-api/internal/middleware"
	"github.com/karyadesign/karya-api/internal/repository"
	"github.com/karyadesign/karya-api/internal/service"
	"github.com/karyadesign/karya-api/internal/utils"
)

// ChatHandler wires chat endpoints including the websocket upgrade.
type ChatHandler struct {
	service   service.ChatService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(service service.ChatService, validator *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
	router.Get("/history", h.history)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	orderID := strings.TrimSpace(conn.Query("order_id"))
	if orderID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "order_id required"))
		_ = conn.Close()
		return
	}

	role := websocketLocalString(conn, "user_role")
	userName := websocketLocalString(conn, "user_name")
	correlation := websocketLocalString(conn, "correlation_id")
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ChatConnectionOptions{
		UserID:        userID,
		UserName:      userName,
		Role:          role,
		OrderID:       orderID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Str("order_id", orderID).Msg("chat websocket connected")
	h.service.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Str("order_id", orderID).Msg("chat websocket disconnected")
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	orderID := c.Query("order_id")
	if orderID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "order_id required")
	}

	var beforePtr *time.Time
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		beforePtr = &parsed
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	query := dto.ChatHistoryQuery{
		OrderID: orderID,
		Before:  beforePtr,
		Limit:   limit,
	}

	if err := h.validator.Struct(query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	messages, err := h.service.History(requestContext(c), actorFromContext(c), query)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChatNotAuthorised):
			return utils.SendError(c, fiber.StatusForbidden, "not authorised for this order's chat")
		case errors.Is(err, repository.ErrOrderNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "order not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Str("order_id", orderID).Msg("chat history lookup failed")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to load chat history")
		}
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func websocketLocalString(conn *websocket.Conn, key string) string {
	if value, ok := conn.Locals(key).(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case fmt.Stringer:
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

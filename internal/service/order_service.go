package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/karyadesign/karya-api/internal/dto"
	"github.com/karyadesign/karya-api/internal/models"
	"github.com/karyadesign/karya-api/internal/realtime"
	"github.com/karyadesign/karya-api/internal/repository"
)

var (
	// ErrTransitionNotAllowed indicates the actor's role may not change order status.
	ErrTransitionNotAllowed = errors.New("actor not authorised to change order status")
	// ErrTerminalStatus indicates the order already reached a terminal status.
	ErrTerminalStatus = errors.New("order status is terminal")
	// ErrInvalidStatus indicates the target status is not a known order state.
	ErrInvalidStatus = errors.New("unknown order status")
	// ErrStatusNotPersisted indicates the status write failed and nothing was changed.
	ErrStatusNotPersisted = errors.New("status update not persisted")
)

// Actor identifies who is performing an order operation.
type Actor struct {
	ID   string
	Name string
	Role string
}

// IsStaff reports whether the actor may manage orders.
func (a Actor) IsStaff() bool {
	return a.Role == models.RoleDesigner || a.Role == models.RoleAdmin
}

// systemMessages templates the chat message each transition produces.
var systemMessages = map[string]string{
	models.OrderStatusPending:    "Order has been received and is waiting for a designer",
	models.OrderStatusInProgress: "Design work has started on this order",
	models.OrderStatusCompleted:  "The design has been completed",
	models.OrderStatusDelivered:  "The design has been delivered",
	models.OrderStatusCancelled:  "This order has been cancelled",
}

// OrderService manages design orders and their status state machine.
type OrderService interface {
	Create(ctx context.Context, actor Actor, payload dto.OrderCreateRequest) (dto.OrderResponse, error)
	List(ctx context.Context, actor Actor) ([]dto.OrderResponse, error)
	Get(ctx context.Context, actor Actor, id string) (dto.OrderResponse, error)
	Transition(ctx context.Context, orderID, target string, actor Actor) (dto.TransitionResponse, error)
}

type orderService struct {
	orders    repository.OrderRepository
	chat      repository.ChatRepository
	feed      realtime.Feed
	topicBase string
	notifier  NotificationService
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	nodeID    string
	now       func() time.Time
}

// NewOrderService constructs the order service. The feed and notifier are
// optional; without them no change events or client alerts are emitted.
func NewOrderService(orders repository.OrderRepository, chat repository.ChatRepository, feed realtime.Feed, topicBase string, notifier NotificationService, validate *validator.Validate, logger zerolog.Logger) OrderService {
	return &orderService{
		orders:    orders,
		chat:      chat,
		feed:      feed,
		topicBase: topicBase,
		notifier:  notifier,
		validator: validate,
		logger:    logger.With().Str("component", "order_service").Logger(),
		tracer:    otel.Tracer("github.com/karyadesign/karya-api/internal/service/order"),
		nodeID:    uuid.NewString(),
		now:       time.Now,
	}
}

func (s *orderService) Create(ctx context.Context, actor Actor, payload dto.OrderCreateRequest) (dto.OrderResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.OrderResponse{}, err
	}

	priority := payload.Priority
	if priority == "" {
		priority = models.OrderPriorityMedium
	}

	order := models.DesignOrder{
		ID:          uuid.NewString(),
		ClientID:    actor.ID,
		ClientName:  strings.TrimSpace(payload.ClientName),
		ClientPhone: strings.TrimSpace(payload.ClientPhone),
		DesignType:  strings.TrimSpace(payload.DesignType),
		Description: strings.TrimSpace(payload.Description),
		Status:      models.OrderStatusPending,
		Priority:    priority,
	}

	spanCtx, span := s.tracer.Start(ctx, "orders.create", trace.WithAttributes(
		attribute.String("order.client_id", actor.ID),
		attribute.String("order.design_type", order.DesignType),
	))
	defer span.End()

	if err := s.orders.Create(spanCtx, &order); err != nil {
		span.RecordError(err)
		return dto.OrderResponse{}, err
	}

	if _, err := s.chat.EnsureRoom(spanCtx, order.ID, order.ClientID); err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID).Msg("room creation deferred to first message")
	}

	s.publishOrderChange(spanCtx, realtime.EventInsert, order)

	return dto.NewOrderResponse(order), nil
}

func (s *orderService) List(ctx context.Context, actor Actor) ([]dto.OrderResponse, error) {
	var (
		orders []models.DesignOrder
		err    error
	)
	if actor.IsStaff() {
		orders, err = s.orders.ListAll(ctx, 0)
	} else {
		orders, err = s.orders.ListByClient(ctx, actor.ID, 0)
	}
	if err != nil {
		return nil, err
	}
	return dto.NewOrderResponseSlice(orders), nil
}

func (s *orderService) Get(ctx context.Context, actor Actor, id string) (dto.OrderResponse, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return dto.OrderResponse{}, err
	}
	if !actor.IsStaff() && order.ClientID != actor.ID {
		return dto.OrderResponse{}, repository.ErrOrderNotFound
	}
	return dto.NewOrderResponse(order), nil
}

// Transition drives the order status state machine. The status write commits
// first; the system chat message is emitted only afterwards, and a failed
// emission leaves the committed status in place (status truth lives in the
// persisted record, chat is best-effort notification).
func (s *orderService) Transition(ctx context.Context, orderID, target string, actor Actor) (dto.TransitionResponse, error) {
	if !actor.IsStaff() {
		return dto.TransitionResponse{}, ErrTransitionNotAllowed
	}
	if !models.IsValidStatus(target) {
		return dto.TransitionResponse{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}

	spanCtx, span := s.tracer.Start(ctx, "orders.transition", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", target),
		attribute.String("actor.role", actor.Role),
	))
	defer span.End()

	current, err := s.orders.FindByID(spanCtx, orderID)
	if err != nil {
		return dto.TransitionResponse{}, err
	}
	if models.IsTerminalStatus(current.Status) {
		return dto.TransitionResponse{}, fmt.Errorf("%w: %s", ErrTerminalStatus, current.Status)
	}

	order, err := s.orders.UpdateStatus(spanCtx, orderID, target, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			return dto.TransitionResponse{}, err
		case errors.Is(err, repository.ErrOrderTerminal):
			return dto.TransitionResponse{}, fmt.Errorf("%w: %s", ErrTerminalStatus, current.Status)
		default:
			return dto.TransitionResponse{}, fmt.Errorf("%w: %v", ErrStatusNotPersisted, err)
		}
	}

	s.publishOrderChange(spanCtx, realtime.EventUpdate, order)

	response := dto.TransitionResponse{Order: dto.NewOrderResponse(order)}

	systemMessage, err := s.emitSystemMessage(spanCtx, order, target)
	if err != nil {
		// The transition stays committed; log the divergence and move on.
		s.logger.Error().Err(err).Str("order_id", orderID).Str("status", target).Msg("system message emission failed after committed transition")
	} else {
		response.SystemMessage = dto.NewChatMessageResponse(systemMessage)
	}

	s.notifyClient(spanCtx, order, target)

	return response, nil
}

// emitSystemMessage appends exactly one system chat message describing the
// transition to the order's room.
func (s *orderService) emitSystemMessage(ctx context.Context, order models.DesignOrder, target string) (models.ChatMessage, error) {
	room, err := s.chat.EnsureRoom(ctx, order.ID, order.ClientID)
	if err != nil {
		return models.ChatMessage{}, err
	}

	content, ok := systemMessages[target]
	if !ok {
		content = fmt.Sprintf("Order status changed to %s", target)
	}

	message := models.ChatMessage{
		ID:         uuid.NewString(),
		RoomID:     room.ID,
		OrderID:    order.ID,
		SenderID:   models.RoleSystem,
		SenderName: "System",
		SenderRole: models.RoleSystem,
		Content:    content,
		Type:       models.MessageTypeSystem,
	}

	if err := s.chat.SaveMessage(ctx, &message); err != nil {
		return models.ChatMessage{}, err
	}

	s.publishMessageChange(ctx, message)

	return message, nil
}

func (s *orderService) notifyClient(ctx context.Context, order models.DesignOrder, target string) {
	if s.notifier == nil {
		return
	}

	title, ok := transitionNotificationTitle(target)
	if !ok {
		return
	}

	_, err := s.notifier.Publish(ctx, dto.NotificationCreateRequest{
		UserID:   order.ClientID,
		Type:     models.NotificationTypeInfo,
		Priority: models.NotificationPriorityNormal,
		Title:    title,
		Message:  fmt.Sprintf("Your %s order is now %s", order.DesignType, strings.ReplaceAll(target, "_", " ")),
		OrderID:  order.ID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID).Msg("status notification delivery failed")
	}
}

func transitionNotificationTitle(status string) (string, bool) {
	switch status {
	case models.OrderStatusInProgress:
		return "Design work started", true
	case models.OrderStatusCompleted:
		return "Design completed", true
	case models.OrderStatusDelivered:
		return "Design delivered", true
	case models.OrderStatusCancelled:
		return "Order cancelled", true
	default:
		return "", false
	}
}

func (s *orderService) publishOrderChange(ctx context.Context, eventType realtime.EventType, order models.DesignOrder) {
	if s.feed == nil {
		return
	}

	payload, err := realtime.EncodeChange(eventType, realtime.TableOrders, order, s.nodeID)
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID).Msg("order change event encode failed")
		return
	}

	if err := s.feed.Publish(ctx, realtime.OrdersTopic(s.topicBase), payload); err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID).Msg("order change event publish failed")
	}
}

func (s *orderService) publishMessageChange(ctx context.Context, message models.ChatMessage) {
	if s.feed == nil {
		return
	}

	payload, err := realtime.EncodeChange(realtime.EventInsert, realtime.TableMessages, message, s.nodeID)
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", message.ID).Msg("message change event encode failed")
		return
	}

	if err := s.feed.Publish(ctx, realtime.MessagesTopic(s.topicBase, message.OrderID), payload); err != nil {
		s.logger.Warn().Err(err).Str("message_id", message.ID).Msg("message change event publish failed")
	}
}

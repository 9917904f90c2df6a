package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/karyadesign/karya-api/internal/dto"
	"github.com/karyadesign/karya-api/internal/middleware"
	"github.com/karyadesign/karya-api/internal/models"
	"github.com/karyadesign/karya-api/internal/observability"
	"github.com/karyadesign/karya-api/internal/realtime"
	"github.com/karyadesign/karya-api/internal/repository"
)

const (
	chatRedisTTL       = 30 * time.Minute
	chatSendBufferSize = 32
)

// ErrChatNotAuthorised indicates the actor is not allowed in the order's chat room.
var ErrChatNotAuthorised = errors.New("not authorised for order room")

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        string
	UserName      string
	Role          string
	OrderID       string
	CorrelationID string
	Context       context.Context
}

// ChatService manages websocket chat connections and message delivery.
type ChatService interface {
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	History(ctx context.Context, actor Actor, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error)
	PostFile(ctx context.Context, actor Actor, orderID, url, fileName string) (dto.ChatMessageResponse, error)
	Start(ctx context.Context)
}

type chatService struct {
	repo        repository.ChatRepository
	orders      repository.OrderRepository
	feed        realtime.Feed
	topicBase   string
	redis       *redis.Client
	redisStream string
	redisCache  string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	hub         *chatHub
	nodeID      string
}

// chatHub keeps track of active websocket clients per order room and handles broadcasting.
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*chatClient]struct{}
	log   zerolog.Logger
}

type chatClient struct {
	conn    *websocket.Conn
	send    chan dto.ChatMessageResponse
	options ChatConnectionOptions
	service *chatService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

type chatEvent struct {
	Source  string                  `json:"source"`
	Message dto.ChatMessageResponse `json:"message"`
	SentAt  time.Time               `json:"sent_at"`
}

// NewChatService creates a websocket chat service instance.
func NewChatService(repo repository.ChatRepository, orders repository.OrderRepository, feed realtime.Feed, channelBase string, redisClient *redis.Client, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	hub := &chatHub{
		rooms: make(map[string]map[*chatClient]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}

	streamChannel := ""
	cachePrefix := ""
	natsSubject := ""
	if channelBase != "" {
		streamChannel = channelBase + ":chat"
		cachePrefix = channelBase + ":chat:last"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &chatService{
		repo:        repo,
		orders:      orders,
		feed:        feed,
		topicBase:   channelBase,
		redis:       redisClient,
		redisStream: streamChannel,
		redisCache:  cachePrefix,
		nats:        natsConn,
		natsSubject: natsSubject,
		validator:   validate,
		logger:      logger.With().Str("component", "chat_service").Logger(),
		tracer:      otel.Tracer("github.com/karyadesign/karya-api/internal/service/chat"),
		sanitizer:   sanitizer,
		hub:         hub,
		nodeID:      uuid.NewString(),
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *chatService) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	// The room check runs before hub registration so an unauthorised viewer
	// never sees a single broadcast.
	if _, err := s.authorise(baseCtx, opts.UserID, opts.Role, opts.OrderID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", opts.UserID).Str("order_id", opts.OrderID).Msg("rejecting chat connection")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not authorised for order room"))
		_ = conn.Close()
		return
	}

	client := &chatClient{
		conn:    conn,
		send:    make(chan dto.ChatMessageResponse, chatSendBufferSize),
		options: opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	s.hub.register(client)
	observability.ChatConnectionsActive().Inc()
	defer observability.ChatConnectionsActive().Dec()

	if last := s.fetchLastMessage(baseCtx, opts.OrderID); last != nil {
		select {
		case client.send <- *last:
		default:
			s.logger.Debug().Str("order_id", opts.OrderID).Msg("dropping cached chat message due to slow consumer")
		}
	}

	go client.writer()
	client.reader()
}

func (s *chatService) History(ctx context.Context, actor Actor, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	// Reading a room is gated the same way as posting into it.
	if _, err := s.authorise(ctx, actor.ID, actor.Role, query.OrderID); err != nil {
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.repo.ListByOrder(ctx, query.OrderID, before, query.Limit)
	if err != nil {
		return nil, err
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

// PostFile records an attachment as a file message in the order's room.
func (s *chatService) PostFile(ctx context.Context, actor Actor, orderID, url, fileName string) (dto.ChatMessageResponse, error) {
	order, err := s.authorise(ctx, actor.ID, actor.Role, orderID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	content := url
	if fileName != "" {
		content = fmt.Sprintf("%s|%s", fileName, url)
	}

	return s.persistAndFanOut(ctx, order, models.ChatMessage{
		SenderID:   actor.ID,
		SenderName: actor.Name,
		SenderRole: actor.Role,
		Content:    content,
		Type:       models.MessageTypeFile,
	}, "")
}

func (s *chatService) processSend(ctx context.Context, client *chatClient, correlation string, payload dto.ChatSendRequest) (dto.ChatMessageResponse, error) {
	if payload.OrderID == "" {
		payload.OrderID = client.options.OrderID
	}
	payload.OrderID = strings.TrimSpace(payload.OrderID)

	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	order, err := s.authorise(ctx, client.options.UserID, client.options.Role, payload.OrderID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if clean == "" {
		return dto.ChatMessageResponse{}, fmt.Errorf("message content empty after sanitization")
	}

	messageType := payload.Type
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	return s.persistAndFanOut(ctx, order, models.ChatMessage{
		SenderID:   client.options.UserID,
		SenderName: client.options.UserName,
		SenderRole: client.options.Role,
		Content:    clean,
		Type:       messageType,
	}, correlation)
}

func (s *chatService) persistAndFanOut(ctx context.Context, order models.DesignOrder, message models.ChatMessage, correlation string) (dto.ChatMessageResponse, error) {
	attrs := []attribute.KeyValue{
		attribute.String("chat.order_id", order.ID),
		attribute.String("chat.sender_id", message.SenderID),
		attribute.String("chat.type", message.Type),
	}
	if correlation != "" {
		attrs = append(attrs, attribute.String("correlation_id", correlation))
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.broadcast", trace.WithAttributes(attrs...))
	defer span.End()

	room, err := s.repo.EnsureRoom(spanCtx, order.ID, order.ClientID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	message.ID = uuid.NewString()
	message.RoomID = room.ID
	message.OrderID = order.ID

	if err := s.repo.SaveMessage(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	response := dto.NewChatMessageResponse(message)
	s.cacheLastMessage(spanCtx, response)
	s.hub.broadcast(order.ID, response)
	if err := s.publish(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish chat event")
	}
	s.publishChange(spanCtx, message)

	observability.ChatMessagesSent().WithLabelValues(message.Type).Inc()

	return response, nil
}

// authorise verifies the actor may take part in the order's room, reads and
// writes alike: staff anywhere, clients only on orders they own.
func (s *chatService) authorise(ctx context.Context, userID, role, orderID string) (models.DesignOrder, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return models.DesignOrder{}, err
	}

	switch strings.ToLower(role) {
	case models.RoleAdmin, models.RoleDesigner:
		return order, nil
	case models.RoleClient:
		if order.ClientID == userID {
			return order, nil
		}
		return models.DesignOrder{}, ErrChatNotAuthorised
	default:
		return models.DesignOrder{}, ErrChatNotAuthorised
	}
}

func (s *chatService) cacheLastMessage(ctx context.Context, message dto.ChatMessageResponse) {
	if s.redis == nil || s.redisCache == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal chat message for cache")
		return
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, message.OrderID)
	if err := s.redis.Set(ctx, key, payload, chatRedisTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache chat message")
	}
}

func (s *chatService) fetchLastMessage(ctx context.Context, orderID string) *dto.ChatMessageResponse {
	if s.redis == nil || s.redisCache == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, orderID)
	result, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var message dto.ChatMessageResponse
	if err := json.Unmarshal([]byte(result), &message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to unmarshal cached chat message")
		return nil
	}

	return &message
}

// publish fans the message out to sibling nodes over redis and NATS.
func (s *chatService) publish(ctx context.Context, message dto.ChatMessageResponse) error {
	event := chatEvent{
		Source:  s.nodeID,
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

// publishChange emits the message-insert row change consumed by sync sessions.
func (s *chatService) publishChange(ctx context.Context, message models.ChatMessage) {
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

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "karya-chat", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

func (s *chatService) handleEvent(data []byte) {
	var event chatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid chat event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	s.hub.broadcast(event.Message.OrderID, event.Message)
}

func (h *chatHub) register(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := client.options.OrderID
	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[*chatClient]struct{})
	}
	h.rooms[room][client] = struct{}{}
	h.log.Debug().Str("order_id", room).Str("user_id", client.options.UserID).Msg("chat client connected")
}

func (h *chatHub) unregister(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := client.options.OrderID
	if clients, ok := h.rooms[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
	h.log.Debug().Str("order_id", room).Str("user_id", client.options.UserID).Msg("chat client disconnected")
}

func (h *chatHub) broadcast(orderID string, message dto.ChatMessageResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.rooms[orderID]
	for client := range clients {
		select {
		case client.send <- message:
		default:
			h.log.Warn().Str("order_id", orderID).Str("user_id", client.options.UserID).Msg("dropping chat message for slow client")
		}
	}
}

func (c *chatClient) reader() {
	defer c.close()

	connCtx := c.baseCtx
	correlation := c.options.CorrelationID
	if correlation == "" {
		correlation = middleware.CorrelationIDFromContext(connCtx)
	}

	for {
		var payload dto.ChatSendRequest
		if err := c.conn.ReadJSON(&payload); err != nil {
			c.service.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		response, err := c.service.processSend(connCtx, c, correlation, payload)
		if err != nil {
			c.service.logger.Warn().Err(err).Msg("failed to process chat message")
			continue
		}

		select {
		case <-c.closed:
			return
		default:
		}

		select {
		case c.send <- response:
		default:
			c.service.logger.Warn().Msg("sender queue full, dropping ack message")
		}
	}
}

func (c *chatClient) writer() {
	defer c.close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		_ = c.conn.Close()
	})
}

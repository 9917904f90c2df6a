package handler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/karyadesign/karya-api/internal/config"
	"github.com/karyadesign/karya-api/internal/dto"
	"github.com/karyadesign/karya-api/internal/handler"
	"github.com/karyadesign/karya-api/internal/models"
	"github.com/karyadesign/karya-api/internal/repository"
	"github.com/karyadesign/karya-api/internal/router"
	"github.com/karyadesign/karya-api/internal/service"
)

type chatTestEnv struct {
	app  *fiber.App
	addr string
	db   *gorm.DB
}

func setupChatEnv(t *testing.T) *chatTestEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DesignOrder{}, &models.ChatRoom{}, &models.ChatMessage{}))

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	orderRepo := repository.NewOrderRepository(db)
	chatRepo := repository.NewChatRepository(db)
	chatService := service.NewChatService(chatRepo, orderRepo, nil, "karya", redisClient, nil, validate, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		ChatHandler: handler.NewChatHandler(chatService, validate, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			c.Locals("user_id", c.Get("X-Test-User"))
			role := c.Get("X-Test-Role")
			if role == "" {
				role = models.RoleClient
			}
			c.Locals("user_role", role)
			c.Locals("user_name", "Test User")
			return c.Next()
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return &chatTestEnv{app: app, addr: ln.Addr().String(), db: db}
}

func (e *chatTestEnv) seedOrderWithMessage(t *testing.T, orderID, clientID, content string) {
	t.Helper()

	require.NoError(t, repository.NewOrderRepository(e.db).Create(context.Background(), &models.DesignOrder{
		ID:       orderID,
		ClientID: clientID,
		Status:   models.OrderStatusPending,
	}))

	chatRepo := repository.NewChatRepository(e.db)
	room, err := chatRepo.EnsureRoom(context.Background(), orderID, clientID)
	require.NoError(t, err)
	require.NoError(t, chatRepo.SaveMessage(context.Background(), &models.ChatMessage{
		ID:       "m-" + orderID,
		RoomID:   room.ID,
		OrderID:  orderID,
		SenderID: clientID,
		Content:  content,
		Type:     models.MessageTypeText,
	}))
}

func (e *chatTestEnv) history(t *testing.T, orderID, userID, role string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(fiber.MethodGet, "/api/v2/chat/history?order_id="+orderID, nil)
	req.Header.Set("X-Test-User", userID)
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)
	return resp
}

func (e *chatTestEnv) dialChat(t *testing.T, orderID, userID, role string) *websocket.Conn {
	t.Helper()

	url := fmt.Sprintf("ws://%s/api/v2/chat/ws?order_id=%s", e.addr, orderID)
	header := http.Header{"X-Test-User": []string{userID}}
	if role != "" {
		header.Set("X-Test-Role", role)
	}

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(url, header)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 3*time.Second, 50*time.Millisecond, "server should accept the upgrade")

	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestChatHistoryHiddenFromForeignClients(t *testing.T) {
	env := setupChatEnv(t)
	env.seedOrderWithMessage(t, "order-a", "client-a", "private design brief")

	resp := env.history(t, "order-a", "client-b", "")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(body), "private design brief")

	resp = env.history(t, "order-a", "client-a", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var messages []dto.ChatMessageResponse
	decodeEnvelope(t, resp.Body, &messages)
	require.Len(t, messages, 1)
	require.Equal(t, "private design brief", messages[0].Content)

	resp = env.history(t, "order-a", "designer-1", models.RoleDesigner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestChatHistoryUnknownOrderIsNotFound(t *testing.T) {
	env := setupChatEnv(t)

	resp := env.history(t, "order-missing", "client-a", "")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestChatWebsocketRejectsForeignClients(t *testing.T) {
	env := setupChatEnv(t)
	env.seedOrderWithMessage(t, "order-a", "client-a", "private design brief")

	conn := env.dialChat(t, "order-a", "client-b", "")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "foreign client must be disconnected before any broadcast")
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	}
}

func TestChatWebsocketServesRoomMembers(t *testing.T) {
	env := setupChatEnv(t)
	env.seedOrderWithMessage(t, "order-a", "client-a", "private design brief")

	conn := env.dialChat(t, "order-a", "client-a", "")
	require.NoError(t, conn.WriteJSON(dto.ChatSendRequest{OrderID: "order-a", Content: "any update on the logo?"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var message dto.ChatMessageResponse
	require.NoError(t, conn.ReadJSON(&message))
	require.Equal(t, "order-a", message.OrderID)
	require.Equal(t, "any update on the logo?", message.Content)
}

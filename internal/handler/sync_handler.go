package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/middleware"
	"github.com/karyadesign/karya-api/internal/realtime"
	"github.com/karyadesign/karya-api/internal/repository"
)

const (
	syncWriteWait = 10 * time.Second
	syncPongWait  = 60 * time.Second
)

// SyncHandler exposes the live synchronisation websocket. Each connection owns
// one realtime session: a snapshot on connect, alert frames as changes arrive,
// and watch/unwatch commands from the client.
type SyncHandler struct {
	deps   realtime.SessionDeps
	logger zerolog.Logger
}

// NewSyncHandler constructs a sync handler around shared session dependencies.
func NewSyncHandler(deps realtime.SessionDeps, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		deps:   deps,
		logger: logger.With().Str("component", "sync_handler").Logger(),
	}
}

// Register binds the sync websocket route.
func (h *SyncHandler) Register(router fiber.Router) {
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
}

// syncCommand is one inbound client frame.
type syncCommand struct {
	Action  string `json:"action"`
	OrderID string `json:"order_id"`
}

// syncFrame is one outbound server frame.
type syncFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *SyncHandler) handleConnection(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	viewerID := websocketUserID(conn)
	if viewerID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	var writeMu sync.Mutex
	writeFrame := func(frame syncFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(syncWriteWait))
		return conn.WriteJSON(frame)
	}

	deps := h.deps
	deps.Sinks = append([]realtime.Sink{}, deps.Sinks...)
	deps.Sinks = append(deps.Sinks, realtime.SinkFunc(func(ctx context.Context, alert realtime.Alert) error {
		return writeFrame(syncFrame{Type: "alert", Payload: alert})
	}))

	session := realtime.NewSession(viewerID, deps)
	defer session.Dispose()

	if err := session.Init(baseCtx); err != nil {
		status := "bootstrap failed"
		if errors.Is(err, realtime.ErrSessionUnauthenticated) {
			status = "not restored"
		}
		h.logger.Warn().Err(err).Str("viewer_id", viewerID).Msg("sync session bootstrap failed")
		_ = writeFrame(syncFrame{Type: "init_error", Error: status})
		return
	}

	if err := writeFrame(syncFrame{Type: "snapshot", Payload: session.Orders()}); err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(syncPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(syncPongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go h.keepAlive(conn, &writeMu, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd syncCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = writeFrame(syncFrame{Type: "command_error", Error: "malformed command"})
			continue
		}

		h.dispatchCommand(baseCtx, session, cmd, writeFrame)
	}
}

func (h *SyncHandler) dispatchCommand(ctx context.Context, session *realtime.Session, cmd syncCommand, writeFrame func(syncFrame) error) {
	orderID := strings.TrimSpace(cmd.OrderID)

	switch cmd.Action {
	case "watch":
		if orderID == "" {
			_ = writeFrame(syncFrame{Type: "command_error", Error: "order_id required"})
			return
		}
		if err := session.WatchOrder(ctx, orderID); err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				_ = writeFrame(syncFrame{Type: "command_error", Error: "order not found"})
				return
			}
			h.logger.Warn().Err(err).Str("order_id", orderID).Msg("watch command failed")
			_ = writeFrame(syncFrame{Type: "command_error", Error: "watch failed"})
			return
		}
		_ = writeFrame(syncFrame{Type: "history", Payload: fiber.Map{
			"order_id": orderID,
			"messages": session.Messages(orderID),
		}})
	case "unwatch":
		session.UnwatchOrder(orderID)
	default:
		_ = writeFrame(syncFrame{Type: "command_error", Error: "unknown action"})
	}
}

func (h *SyncHandler) keepAlive(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(syncPongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(syncWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

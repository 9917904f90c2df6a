package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/karyadesign/karya-api/internal/dto"
	"github.com/karyadesign/karya-api/internal/models"
	"github.com/karyadesign/karya-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type orderRepoStub struct {
	orders     map[string]models.DesignOrder
	updateErr  error
	statusSets int
}

func (s *orderRepoStub) Create(ctx context.Context, order *models.DesignOrder) error {
	s.orders[order.ID] = *order
	return nil
}

func (s *orderRepoStub) FindByID(ctx context.Context, id string) (models.DesignOrder, error) {
	order, ok := s.orders[id]
	if !ok {
		return models.DesignOrder{}, repository.ErrOrderNotFound
	}
	return order, nil
}

func (s *orderRepoStub) ListByClient(ctx context.Context, clientID string, limit int) ([]models.DesignOrder, error) {
	var out []models.DesignOrder
	for _, order := range s.orders {
		if order.ClientID == clientID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *orderRepoStub) ListAll(ctx context.Context, limit int) ([]models.DesignOrder, error) {
	var out []models.DesignOrder
	for _, order := range s.orders {
		out = append(out, order)
	}
	return out, nil
}

func (s *orderRepoStub) UpdateStatus(ctx context.Context, id, status string, at time.Time) (models.DesignOrder, error) {
	if s.updateErr != nil {
		return models.DesignOrder{}, s.updateErr
	}
	order, ok := s.orders[id]
	if !ok {
		return models.DesignOrder{}, repository.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = at
	s.orders[id] = order
	s.statusSets++
	return order, nil
}

type chatRepoStub struct {
	rooms    map[string]models.ChatRoom
	messages []models.ChatMessage
	saveErr  error
}

func (s *chatRepoStub) EnsureRoom(ctx context.Context, orderID, clientID string) (models.ChatRoom, error) {
	if room, ok := s.rooms[orderID]; ok {
		return room, nil
	}
	room := models.ChatRoom{ID: "room-" + orderID, OrderID: orderID, ClientID: clientID, IsActive: true}
	s.rooms[orderID] = room
	return room, nil
}

func (s *chatRepoStub) FindRoomByOrder(ctx context.Context, orderID string) (models.ChatRoom, error) {
	room, ok := s.rooms[orderID]
	if !ok {
		return models.ChatRoom{}, repository.ErrRoomNotFound
	}
	return room, nil
}

func (s *chatRepoStub) SaveMessage(ctx context.Context, message *models.ChatMessage) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *message)
	return nil
}

func (s *chatRepoStub) ListByOrder(ctx context.Context, orderID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	for _, message := range s.messages {
		if message.OrderID == orderID {
			out = append(out, message)
		}
	}
	return out, nil
}

func (s *chatRepoStub) LatestByOrder(ctx context.Context, orderID string) (models.ChatMessage, error) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].OrderID == orderID {
			return s.messages[i], nil
		}
	}
	return models.ChatMessage{}, repository.ErrRoomNotFound
}

func (s *chatRepoStub) MarkRoomRead(ctx context.Context, roomID string) error {
	return nil
}

func orderServiceFixture(orders *orderRepoStub, chat *chatRepoStub) OrderService {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return NewOrderService(orders, chat, nil, "karya", nil, validate, testLogger())
}

func TestOrderServiceCreateStartsPending(t *testing.T) {
	orders := &orderRepoStub{orders: map[string]models.DesignOrder{}}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	actor := Actor{ID: "client-1", Name: "Client One", Role: models.RoleClient}
	created, err := svc.Create(context.Background(), actor, dto.OrderCreateRequest{
		ClientName:  "Client One",
		ClientPhone: "08123456789",
		DesignType:  "logo",
		Description: "A logo for a coffee shop",
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPending, created.Status)
	require.Equal(t, models.OrderPriorityMedium, created.Priority)
	require.Equal(t, "client-1", created.ClientID)
	require.Contains(t, chat.rooms, created.ID, "room is provisioned with the order")
}

func TestOrderServiceCreateValidatesPayload(t *testing.T) {
	orders := &orderRepoStub{orders: map[string]models.DesignOrder{}}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	_, err := svc.Create(context.Background(), Actor{ID: "client-1", Role: models.RoleClient}, dto.OrderCreateRequest{
		ClientName: "x",
	})
	require.Error(t, err)
	require.Empty(t, orders.orders)
}

func TestOrderServiceTransitionRequiresStaffRole(t *testing.T) {
	orders := &orderRepoStub{orders: map[string]models.DesignOrder{
		"order-1": {ID: "order-1", ClientID: "client-1", Status: models.OrderStatusPending},
	}}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	_, err := svc.Transition(context.Background(), "order-1", models.OrderStatusInProgress, Actor{ID: "client-1", Role: models.RoleClient})
	require.ErrorIs(t, err, ErrTransitionNotAllowed)
	require.Equal(t, 0, orders.statusSets, "unauthorised attempts never touch the store")
	require.Empty(t, chat.messages)
}

func TestOrderServiceTransitionRejectsUnknownStatus(t *testing.T) {
	orders := &orderRepoStub{orders: map[string]models.DesignOrder{
		"order-1": {ID: "order-1", ClientID: "client-1", Status: models.OrderStatusPending},
	}}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	_, err := svc.Transition(context.Background(), "order-1", "archived", Actor{ID: "designer-1", Role: models.RoleDesigner})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestOrderServiceTransitionPersistsThenEmitsSystemMessage(t *testing.T) {
	orders := &orderRepoStub{orders: map[string]models.DesignOrder{
		"order-1": {ID: "order-1", ClientID: "client-1", DesignType: "logo", Status: models.OrderStatusPending},
	}}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	result, err := svc.Transition(context.Background(), "order-1", models.OrderStatusInProgress, Actor{ID: "designer-1", Role: models.RoleDesigner})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusInProgress, result.Order.Status)
	require.Equal(t, models.OrderStatusInProgress, orders.orders["order-1"].Status)

	require.Len(t, chat.messages, 1, "exactly one system message per transition")
	system := chat.messages[0]
	require.Equal(t, models.RoleSystem, system.SenderRole)
	require.Equal(t, models.MessageTypeSystem, system.Type)
	require.Equal(t, "Design work has started on this order", system.Content)
	require.Equal(t, system.Content, result.SystemMessage.Content)
}

func TestOrderServiceTransitionSurvivesChatFailure(t *testing.T) {
	orders := &orderRepoStub{orders: map[string]models.DesignOrder{
		"order-1": {ID: "order-1", ClientID: "client-1", Status: models.OrderStatusPending},
	}}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}, saveErr: errors.New("chat store down")}
	svc := orderServiceFixture(orders, chat)

	result, err := svc.Transition(context.Background(), "order-1", models.OrderStatusCompleted, Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err, "committed transition survives a failed chat write")
	require.Equal(t, models.OrderStatusCompleted, orders.orders["order-1"].Status)
	require.Empty(t, result.SystemMessage.ID)
}

func TestOrderServiceTransitionReportsPersistFailure(t *testing.T) {
	orders := &orderRepoStub{
		orders: map[string]models.DesignOrder{
			"order-1": {ID: "order-1", ClientID: "client-1", Status: models.OrderStatusPending},
		},
		updateErr: errors.New("connection reset"),
	}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	_, err := svc.Transition(context.Background(), "order-1", models.OrderStatusInProgress, Actor{ID: "designer-1", Role: models.RoleDesigner})
	require.ErrorIs(t, err, ErrStatusNotPersisted)
	require.Empty(t, chat.messages, "no system message without a committed status")
}

func TestOrderServiceTerminalStatusesAreFinal(t *testing.T) {
	for _, terminal := range []string{models.OrderStatusCancelled, models.OrderStatusDelivered} {
		orders := &orderRepoStub{orders: map[string]models.DesignOrder{
			"order-1": {ID: "order-1", ClientID: "client-1", Status: terminal},
		}}
		chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
		svc := orderServiceFixture(orders, chat)

		_, err := svc.Transition(context.Background(), "order-1", models.OrderStatusPending, Actor{ID: "admin-1", Role: models.RoleAdmin})
		require.ErrorIs(t, err, ErrTerminalStatus, "status %s must be terminal", terminal)
		require.Equal(t, terminal, orders.orders["order-1"].Status)
	}
}

func TestOrderServiceTransitionMapsTerminalRaceToTerminalStatus(t *testing.T) {
	// The read before the update can see a non-terminal status while a
	// concurrent transition lands a terminal one; the persistence layer then
	// reports the clash and it must surface as the terminal-status error, not
	// as a persist failure.
	orders := &orderRepoStub{
		orders: map[string]models.DesignOrder{
			"order-1": {ID: "order-1", ClientID: "client-1", Status: models.OrderStatusPending},
		},
		updateErr: repository.ErrOrderTerminal,
	}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	_, err := svc.Transition(context.Background(), "order-1", models.OrderStatusInProgress, Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.ErrorIs(t, err, ErrTerminalStatus)
	require.NotErrorIs(t, err, ErrStatusNotPersisted)
	require.Zero(t, orders.statusSets)
	require.Empty(t, chat.messages, "no system message after a rejected transition")
}

func TestOrderServiceNonTerminalTransitionsAreFree(t *testing.T) {
	// Any hop between non-terminal states is allowed, including regressions.
	orders := &orderRepoStub{orders: map[string]models.DesignOrder{
		"order-1": {ID: "order-1", ClientID: "client-1", Status: models.OrderStatusCompleted},
	}}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	result, err := svc.Transition(context.Background(), "order-1", models.OrderStatusInProgress, Actor{ID: "designer-1", Role: models.RoleDesigner})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusInProgress, result.Order.Status)
}

func TestOrderServiceGetHidesForeignOrdersFromClients(t *testing.T) {
	orders := &orderRepoStub{orders: map[string]models.DesignOrder{
		"order-1": {ID: "order-1", ClientID: "client-1", Status: models.OrderStatusPending},
	}}
	chat := &chatRepoStub{rooms: map[string]models.ChatRoom{}}
	svc := orderServiceFixture(orders, chat)

	_, err := svc.Get(context.Background(), Actor{ID: "client-2", Role: models.RoleClient}, "order-1")
	require.ErrorIs(t, err, repository.ErrOrderNotFound)

	found, err := svc.Get(context.Background(), Actor{ID: "designer-1", Role: models.RoleDesigner}, "order-1")
	require.NoError(t, err)
	require.Equal(t, "order-1", found.ID)
}

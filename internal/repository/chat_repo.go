package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/karyadesign/karya-api/internal/models"
)

// ErrRoomNotFound is returned when no chat room exists for the order.
var ErrRoomNotFound = errors.New("chat room not found")

// ChatRepository persists chat rooms and messages for history and compliance needs.
type ChatRepository interface {
	EnsureRoom(ctx context.Context, orderID, clientID string) (models.ChatRoom, error)
	FindRoomByOrder(ctx context.Context, orderID string) (models.ChatRoom, error)
	SaveMessage(ctx context.Context, message *models.ChatMessage) error
	ListByOrder(ctx context.Context, orderID string, before time.Time, limit int) ([]models.ChatMessage, error)
	LatestByOrder(ctx context.Context, orderID string) (models.ChatMessage, error)
	MarkRoomRead(ctx context.Context, roomID string) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// EnsureRoom returns the room for the order, creating it lazily. The unique
// index on order_id keeps one room per order even under concurrent creates.
func (r *chatRepository) EnsureRoom(ctx context.Context, orderID, clientID string) (models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).First(&room, "order_id = ?", orderID).Error
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ChatRoom{}, err
	}

	room = models.ChatRoom{
		ID:       uuid.NewString(),
		OrderID:  orderID,
		ClientID: clientID,
		IsActive: true,
	}
	if err := r.db.WithContext(ctx).Create(&room).Error; err != nil {
		// Lost the race: another writer created the room first.
		var existing models.ChatRoom
		if findErr := r.db.WithContext(ctx).First(&existing, "order_id = ?", orderID).Error; findErr == nil {
			return existing, nil
		}
		return models.ChatRoom{}, err
	}
	return room, nil
}

func (r *chatRepository) FindRoomByOrder(ctx context.Context, orderID string) (models.ChatRoom, error) {
	var room models.ChatRoom
	if err := r.db.WithContext(ctx).First(&room, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ChatRoom{}, ErrRoomNotFound
		}
		return models.ChatRoom{}, err
	}
	return room, nil
}

// SaveMessage persists the message and bumps the room's unread counter and
// updated_at inside one transaction.
func (r *chatRepository) SaveMessage(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		return tx.Model(&models.ChatRoom{}).
			Where("id = ?", message.RoomID).
			Updates(map[string]interface{}{
				"unread_count": gorm.Expr("unread_count + 1"),
				"updated_at":   message.CreatedAt,
			}).Error
	})
}

func (r *chatRepository) ListByOrder(ctx context.Context, orderID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("order_id = ?", orderID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.ChatMessage
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *chatRepository) LatestByOrder(ctx context.Context, orderID string) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at DESC").First(&message).Error
	if err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

func (r *chatRepository) MarkRoomRead(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ChatMessage{}).
			Where("room_id = ? AND read = ?", roomID, false).
			Update("read", true).Error; err != nil {
			return err
		}

		return tx.Model(&models.ChatRoom{}).
			Where("id = ?", roomID).
			Update("unread_count", 0).Error
	})
}

package dto

import (
	"time"

	"github.com/karyadesign/karya-api/internal/models"
)

// ChatSendRequest represents the payload sent from clients to post a chat message.
type ChatSendRequest struct {
	OrderID string `json:"order_id" validate:"required,min=3,max=64"`
	Content string `json:"content" validate:"required,min=1,max=4000"`
	Type    string `json:"type" validate:"omitempty,oneof=text file system"`
}

// ChatHistoryQuery represents query filters for retrieving chat history.
type ChatHistoryQuery struct {
	OrderID string     `query:"order_id" validate:"required,min=3,max=64"`
	Before  *time.Time `query:"before"`
	Limit   int        `query:"limit" validate:"omitempty,min=1,max=100"`
}

// ChatMessageResponse is the serialized representation of a chat message.
type ChatMessageResponse struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	OrderID    string    `json:"order_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	SenderRole string    `json:"sender_role"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:         message.ID,
		RoomID:     message.RoomID,
		OrderID:    message.OrderID,
		SenderID:   message.SenderID,
		SenderName: message.SenderName,
		SenderRole: message.SenderRole,
		Content:    message.Content,
		Type:       message.Type,
		Read:       message.Read,
		CreatedAt:  message.CreatedAt,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}

package dto

import (
	"time"

	"github.com/karyadesign/karya-api/internal/models"
)

// OrderCreateRequest is the payload a client submits to open a design order.
type OrderCreateRequest struct {
	ClientName  string `json:"client_name" validate:"required,min=2,max=128"`
	ClientPhone string `json:"client_phone" validate:"required,min=6,max=32"`
	DesignType  string `json:"design_type" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"required,min=5,max=5000"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high critical"`
}

// OrderStatusRequest asks for a status transition on an order.
type OrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending in_progress completed delivered cancelled"`
}

// OrderResponse is the serialized representation of a design order.
type OrderResponse struct {
	ID                string     `json:"id"`
	ClientID          string     `json:"client_id"`
	ClientName        string     `json:"client_name"`
	ClientPhone       string     `json:"client_phone"`
	DesignType        string     `json:"design_type"`
	Description       string     `json:"description"`
	Status            string     `json:"status"`
	Priority          string     `json:"priority"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	Price             *int64     `json:"price,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TransitionResponse carries the persisted order and the system message the
// transition produced.
type TransitionResponse struct {
	Order         OrderResponse       `json:"order"`
	SystemMessage ChatMessageResponse `json:"system_message"`
}

// NewOrderResponse converts a model into a DTO.
func NewOrderResponse(order models.DesignOrder) OrderResponse {
	return OrderResponse{
		ID:                order.ID,
		ClientID:          order.ClientID,
		ClientName:        order.ClientName,
		ClientPhone:       order.ClientPhone,
		DesignType:        order.DesignType,
		Description:       order.Description,
		Status:            order.Status,
		Priority:          order.Priority,
		EstimatedDelivery: order.EstimatedDelivery,
		Price:             order.Price,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

// NewOrderResponseSlice converts a slice of models into DTOs.
func NewOrderResponseSlice(orders []models.DesignOrder) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, NewOrderResponse(order))
	}
	return out
}

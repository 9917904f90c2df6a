package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/karyadesign/karya-api/internal/models"
)

// ErrOrderNotFound is returned when the requested order does not exist.
var ErrOrderNotFound = errors.New("order not found")

// ErrOrderTerminal is returned when a status update targets an order that is
// already cancelled or delivered.
var ErrOrderTerminal = errors.New("order already in terminal status")

// OrderRepository persists design orders.
type OrderRepository interface {
	Create(ctx context.Context, order *models.DesignOrder) error
	FindByID(ctx context.Context, id string) (models.DesignOrder, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]models.DesignOrder, error)
	ListAll(ctx context.Context, limit int) ([]models.DesignOrder, error)
	UpdateStatus(ctx context.Context, id, status string, at time.Time) (models.DesignOrder, error)
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository constructs an order repository backed by GORM.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.DesignOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (models.DesignOrder, error) {
	var order models.DesignOrder
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DesignOrder{}, ErrOrderNotFound
		}
		return models.DesignOrder{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]models.DesignOrder, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var orders []models.DesignOrder
	if err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) ListAll(ctx context.Context, limit int) ([]models.DesignOrder, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	var orders []models.DesignOrder
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id, status string, at time.Time) (models.DesignOrder, error) {
	var order models.DesignOrder
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&order, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		// Terminality is decided on the row read inside this transaction, so
		// concurrent transitions cannot both pass the guard.
		if models.IsTerminalStatus(order.Status) {
			return ErrOrderTerminal
		}

		order.Status = status
		order.UpdatedAt = at
		return tx.Model(&models.DesignOrder{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"status": status, "updated_at": at}).Error
	})
	if err != nil {
		return models.DesignOrder{}, err
	}
	return order, nil
}

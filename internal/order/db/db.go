package db

import (
	"context"
	"time"

	"ms-commerce/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

// GetOrderByID → fetch one order by its ID
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder → insert new order
func (d *DB) CreateOrder(ctx context.Context, order models.Order) error {
	_, err := d.Bun.NewInsert().Model(&order).Exec(ctx)
	return err
}

// UpdateOrder → update allowed fields
func (d *DB) UpdateOrder(ctx context.Context, order models.Order) error {
	_, err := d.Bun.NewUpdate().
		Model(&order).
		Column("description", "total_amount", "currency", "status", "updated_at").
		Where("order_id = ?", order.OrderID).
		Exec(ctx)
	return err
}

// UpdateOrderStatus → set just the status
func (d *DB) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("order_id = ?", id).
		Exec(ctx)
	return err
}

// CancelOrder → mark an order cancelled. Orders are never hard-deleted:
// payment transactions keep referencing them.
func (d *DB) CancelOrder(ctx context.Context, id string) error {
	return d.UpdateOrderStatus(ctx, id, models.OrderStatusCancelled)
}

// GetOrdersByUserID → fetch all orders for a given user, newest first
func (d *DB) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	orders := make([]models.Order, 0)
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ---------------- RELATION QUERIES ----------------

// GetOrdersWithPaymentsByUserID → fetch all orders with their payment
// transactions for a given user_id
func (d *DB) GetOrdersWithPaymentsByUserID(ctx context.Context, userID string) ([]models.OrderWithPayments, error) {
	// First get all orders for the user
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	// If no orders found, return empty slice
	if len(orders) == 0 {
		return []models.OrderWithPayments{}, nil
	}

	// Build a slice of order IDs for the payment query
	orderIDs := make([]string, len(orders))
	for i, order := range orders {
		orderIDs[i] = order.OrderID
	}

	// Get all payment transactions for these orders
	var payments []models.PaymentTransaction
	err = d.Bun.NewSelect().
		Model(&payments).
		Where("order_id IN (?)", bun.In(orderIDs)).
		Order("order_id", "created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	// Group payments by order_id
	paymentsByOrder := make(map[string][]models.PaymentTransaction)
	for _, p := range payments {
		paymentsByOrder[p.OrderID] = append(paymentsByOrder[p.OrderID], p)
	}

	// Build the result with orders and their payments
	result := make([]models.OrderWithPayments, len(orders))
	for i, order := range orders {
		result[i] = models.OrderWithPayments{
			Order:    order,
			Payments: paymentsByOrder[order.OrderID],
		}
		// If no payments found for this order, initialize empty slice
		if result[i].Payments == nil {
			result[i].Payments = []models.PaymentTransaction{}
		}
	}

	return result, nil
}

package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrInvalidState  = errors.New("order is not in a valid state for this operation")
	ErrInvalidAmount = errors.New("order total must be positive")
)

type DBLayer interface {
	CreateOrder(ctx context.Context, order models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order models.Order) error
	UpdateOrderStatus(ctx context.Context, id, status string) error
	CancelOrder(ctx context.Context, id string) error
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	GetOrdersWithPaymentsByUserID(ctx context.Context, userID string) ([]models.OrderWithPayments, error)
}

type OrderService struct {
	DB  DBLayer
	log *logger.Logger
}

func NewOrderService(db DBLayer, log *logger.Logger) *OrderService {
	return &OrderService{DB: db, log: log}
}

// ---------------- ORDERS ----------------

// PlaceOrder creates a new order for the user in the created state.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.Order, error) {
	if req.TotalAmount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, req.TotalAmount)
	}

	now := time.Now()
	order := models.Order{
		OrderID:     uuid.NewString(),
		UserID:      userID,
		Description: req.Description,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
		Status:      models.OrderStatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.DB.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.log.LogOrder("CREATE", order.OrderID, fmt.Sprintf("total %d %s for user %s", order.TotalAmount, order.Currency, userID))
	return &order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	return order, nil
}

// UpdateOrder changes the mutable fields of an order that has not started
// payment yet.
func (s *OrderService) UpdateOrder(ctx context.Context, id string, req models.OrderRequest) (*models.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusCreated {
		return nil, fmt.Errorf("%w: cannot update a %s order", ErrInvalidState, order.Status)
	}
	if req.TotalAmount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, req.TotalAmount)
	}

	order.Description = req.Description
	order.TotalAmount = req.TotalAmount
	if req.Currency != "" {
		order.Currency = req.Currency
	}
	order.UpdatedAt = time.Now()

	if err := s.DB.UpdateOrder(ctx, *order); err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}

	s.log.LogOrder("UPDATE", id, fmt.Sprintf("total now %d %s", order.TotalAmount, order.Currency))
	return order, nil
}

// CancelOrder marks an unpaid order cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, id string) error {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusCreated && order.Status != models.OrderStatusPaymentFailed {
		return fmt.Errorf("%w: cannot cancel a %s order", ErrInvalidState, order.Status)
	}

	if err := s.DB.CancelOrder(ctx, id); err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}

	s.log.LogOrder("CANCEL", id, "order cancelled")
	return nil
}

func (s *OrderService) ListOrdersForUser(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.DB.GetOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders for user %s: %w", userID, err)
	}
	return orders, nil
}

func (s *OrderService) ListOrdersWithPayments(ctx context.Context, userID string) ([]models.OrderWithPayments, error) {
	orders, err := s.DB.GetOrdersWithPaymentsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders with payments for user %s: %w", userID, err)
	}
	return orders, nil
}

// UpdateOrderStatus sets the order's status directly. Used by the payment
// event consumer; regular callers go through the lifecycle methods.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id, status string) error {
	if err := s.DB.UpdateOrderStatus(ctx, id, status); err != nil {
		return fmt.Errorf("update status of order %s: %w", id, err)
	}
	s.log.LogOrder("STATUS", id, fmt.Sprintf("order marked %s", status))
	return nil
}

// HandlePaymentEvent synchronizes the order's status with a payment
// outcome. Payment events are the only source of the paid, payment_failed
// and refunded statuses.
func (s *OrderService) HandlePaymentEvent(event models.PaymentEvent) {
	var status string
	switch event.Type {
	case models.EventPaymentCompleted:
		status = models.OrderStatusPaid
	case models.EventPaymentFailed:
		status = models.OrderStatusPaymentFailed
	case models.EventPaymentRefunded:
		status = models.OrderStatusRefunded
	default:
		// pending settlement leaves the order as-is
		return
	}

	if err := s.UpdateOrderStatus(context.Background(), event.OrderID, status); err != nil {
		s.log.Error("ORDER", fmt.Sprintf("sync order %s after %s: %v", event.OrderID, event.Type, err))
	}
}

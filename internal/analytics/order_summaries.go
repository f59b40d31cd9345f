package analytics

import (
	"context"
	"strings"

	"ms-commerce/internal/models"

	"github.com/uptrace/bun"
)

// OrderSortField defines the valid fields for sorting order summaries
type OrderSortField string

const (
	OrderSortByAmount    OrderSortField = "amount"
	OrderSortByCreatedAt OrderSortField = "created_at"
)

// OrderSummaryOptions contains options for filtering and sorting order
// summaries
type OrderSummaryOptions struct {
	Status   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// GetUserOrderSummaries returns a user's orders paired with every payment
// attempt made against them, with optional filters
func (s *Service) GetUserOrderSummaries(ctx context.Context, userID string, options OrderSummaryOptions) ([]models.OrderWithPayments, error) {
	// Start with base query for the user's orders
	q := s.db.NewSelect().
		Model((*models.Order)(nil)).
		Where("user_id = ?", userID)

	// Apply status filter if provided
	if options.Status != "" {
		q = q.Where("status = ?", options.Status)
	}

	// Apply sorting
	if options.SortBy != "" {
		direction := "ASC"
		if options.SortDesc {
			direction = "DESC"
		}

		switch OrderSortField(strings.ToLower(options.SortBy)) {
		case OrderSortByAmount:
			q = q.Order("total_amount " + direction)
		case OrderSortByCreatedAt:
			q = q.Order("created_at " + direction)
		default:
			// Default to created_at if invalid sort field
			q = q.Order("created_at " + direction)
		}
	} else {
		// Default sort by created_at descending (newest first)
		q = q.Order("created_at DESC")
	}

	// Apply pagination if provided
	if options.Limit > 0 {
		q = q.Limit(options.Limit)
	}

	if options.Offset > 0 {
		q = q.Offset(options.Offset)
	}

	// Execute the query
	var orders []models.Order
	err := q.Scan(ctx, &orders)
	if err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return []models.OrderWithPayments{}, nil
	}

	// Collect all order IDs to fetch payment attempts
	orderIDs := make([]string, len(orders))
	for i, order := range orders {
		orderIDs[i] = order.OrderID
	}

	// Fetch payments for all orders in a single query
	var payments []models.PaymentTransaction
	err = s.db.NewSelect().
		Model(&payments).
		Where("order_id IN (?)", bun.In(orderIDs)).
		Order("created_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	// Create a map to group payments by order ID
	paymentsByOrderID := make(map[string][]models.PaymentTransaction)
	for _, payment := range payments {
		paymentsByOrderID[payment.OrderID] = append(paymentsByOrderID[payment.OrderID], payment)
	}

	// Combine orders with their payment attempts
	result := make([]models.OrderWithPayments, len(orders))
	for i, order := range orders {
		attempts := paymentsByOrderID[order.OrderID]
		if attempts == nil {
			attempts = []models.PaymentTransaction{}
		}
		result[i] = models.OrderWithPayments{
			Order:    order,
			Payments: attempts,
		}
	}

	return result, nil
}

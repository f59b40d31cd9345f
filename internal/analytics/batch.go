package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OrderBatchAnalytics represents aggregated payment metrics for a set of
// orders
type OrderBatchAnalytics struct {
	OrderIDs          []string             `json:"order_ids"`
	TotalTransactions int                  `json:"total_transactions"`
	SettledVolume     int64                `json:"settled_volume"`
	RefundedVolume    int64                `json:"refunded_volume"`
	CountsByStatus    []StatusMetrics      `json:"counts_by_status"`
	DailyVolume       []DailyVolumeMetrics `json:"daily_volume"`
}

// FilterOwnedOrders narrows a list of order IDs to those belonging to the
// given user. Unknown IDs are dropped silently.
func (s *Service) FilterOwnedOrders(ctx context.Context, orderIDs []string, userID string) ([]string, error) {
	if len(orderIDs) == 0 {
		return []string{}, nil
	}

	placeholders := make([]string, len(orderIDs))
	args := make([]interface{}, 0, len(orderIDs)+1)
	for i, id := range orderIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, userID)

	rawSQL := fmt.Sprintf(`
		SELECT
			order_id
		FROM
			orders
		WHERE
			order_id IN (%s) AND user_id = ?`, strings.Join(placeholders, ", "))

	var owned []string
	err := s.db.NewRaw(rawSQL, args...).Scan(ctx, &owned)
	if err != nil {
		return nil, err
	}
	if owned == nil {
		owned = []string{}
	}

	return owned, nil
}

// GetOrderBatchAnalytics returns aggregated payment metrics for multiple
// orders
func (s *Service) GetOrderBatchAnalytics(ctx context.Context, orderIDs []string) (*OrderBatchAnalytics, error) {
	if len(orderIDs) == 0 {
		return &OrderBatchAnalytics{
			OrderIDs:       []string{},
			CountsByStatus: []StatusMetrics{},
			DailyVolume:    []DailyVolumeMetrics{},
		}, nil
	}

	// Create placeholder for SQL IN clause
	placeholders := make([]string, len(orderIDs))
	args := make([]interface{}, len(orderIDs))
	for i, id := range orderIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ", ")

	// Counts and amounts by status across the batch
	type statusRaw struct {
		Status      string `bun:"status"`
		TxCount     int    `bun:"tx_count"`
		TotalAmount int64  `bun:"total_amount"`
	}

	var statusRows []statusRaw
	rawSQL := fmt.Sprintf(`
		SELECT
			status,
			COUNT(*) AS tx_count,
			SUM(amount) AS total_amount
		FROM
			payment_transactions
		WHERE
			order_id IN (%s)
		GROUP BY
			status
		ORDER BY
			status`, inClause)

	err := s.db.NewRaw(rawSQL, args...).Scan(ctx, &statusRows)
	if err != nil {
		return nil, err
	}

	// Daily attempt counts and settled amounts across the batch
	type dailyRaw struct {
		VolumeDate    time.Time `bun:"volume_date"`
		Attempts      int       `bun:"attempts"`
		SettledAmount int64     `bun:"settled_amount"`
	}

	var dailyRows []dailyRaw
	rawSQL = fmt.Sprintf(`
		SELECT
			DATE(created_at) AS volume_date,
			COUNT(*) AS attempts,
			COALESCE(SUM(CASE WHEN status IN ('completed', 'refunded') THEN amount ELSE 0 END), 0) AS settled_amount
		FROM
			payment_transactions
		WHERE
			order_id IN (%s)
		GROUP BY
			DATE(created_at)
		ORDER BY
			volume_date`, inClause)

	dailyArgs := make([]interface{}, len(args))
	copy(dailyArgs, args)

	err = s.db.NewRaw(rawSQL, dailyArgs...).Scan(ctx, &dailyRows)
	if err != nil {
		return nil, err
	}

	// Format and prepare result
	result := &OrderBatchAnalytics{
		OrderIDs:       orderIDs,
		CountsByStatus: make([]StatusMetrics, 0, len(statusRows)),
		DailyVolume:    make([]DailyVolumeMetrics, 0, len(dailyRows)),
	}

	for _, sr := range statusRows {
		result.TotalTransactions += sr.TxCount
		switch sr.Status {
		case "completed":
			result.SettledVolume += sr.TotalAmount
		case "refunded":
			result.RefundedVolume += sr.TotalAmount
		}
		result.CountsByStatus = append(result.CountsByStatus, StatusMetrics{
			Status:       sr.Status,
			Transactions: sr.TxCount,
			TotalAmount:  sr.TotalAmount,
		})
	}

	for _, dr := range dailyRows {
		result.DailyVolume = append(result.DailyVolume, DailyVolumeMetrics{
			Date:          dr.VolumeDate.Format("2006-01-02"),
			Attempts:      dr.Attempts,
			SettledAmount: dr.SettledAmount,
		})
	}

	return result, nil
}

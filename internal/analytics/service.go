package analytics

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Service handles payment analytics queries
type Service struct {
	db *bun.DB
}

// NewService creates a new analytics service
func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// PaymentAnalytics represents aggregated payment metrics across the service
type PaymentAnalytics struct {
	Currency          string               `json:"currency,omitempty"`
	TotalTransactions int                  `json:"total_transactions"`
	SettledVolume     int64                `json:"settled_volume"`
	RefundedVolume    int64                `json:"refunded_volume"`
	CountsByStatus    []StatusMetrics      `json:"counts_by_status"`
	VolumeByMethod    []MethodMetrics      `json:"volume_by_method"`
	DailyVolume       []DailyVolumeMetrics `json:"daily_volume"`
}

// StatusMetrics contains transaction counts and amounts for one status
type StatusMetrics struct {
	Status       string `json:"status"`
	Transactions int    `json:"transactions"`
	TotalAmount  int64  `json:"total_amount"`
}

// MethodMetrics contains settled volume for one payment method
type MethodMetrics struct {
	Method       string `json:"method"`
	Transactions int    `json:"transactions"`
	TotalAmount  int64  `json:"total_amount"`
}

// DailyVolumeMetrics contains metrics for a single day
type DailyVolumeMetrics struct {
	Date          string `json:"date"`
	Attempts      int    `json:"attempts"`
	SettledAmount int64  `json:"settled_amount"`
}

// GetPaymentAnalytics returns aggregated payment metrics, optionally
// restricted to a single currency
func (s *Service) GetPaymentAnalytics(ctx context.Context, currency string) (*PaymentAnalytics, error) {
	// Counts and amounts grouped by status
	type statusRaw struct {
		Status      string `bun:"status"`
		TxCount     int    `bun:"tx_count"`
		TotalAmount int64  `bun:"total_amount"`
	}

	var statusRows []statusRaw
	rawSQL := `
		SELECT
			status,
			COUNT(*) AS tx_count,
			SUM(amount) AS total_amount
		FROM
			payment_transactions
	`
	args := []interface{}{}

	if currency != "" {
		rawSQL += " WHERE currency = ?"
		args = append(args, currency)
	}

	rawSQL += `
		GROUP BY
			status
		ORDER BY
			status
	`

	err := s.db.NewRaw(rawSQL, args...).Scan(ctx, &statusRows)
	if err != nil {
		return nil, err
	}

	// Settled volume grouped by method. Refunded transactions were captured
	// before the money went back, so they count toward method volume.
	type methodRaw struct {
		Method      string `bun:"method"`
		TxCount     int    `bun:"tx_count"`
		TotalAmount int64  `bun:"total_amount"`
	}

	var methodRows []methodRaw
	rawSQL = `
		SELECT
			method,
			COUNT(*) AS tx_count,
			SUM(amount) AS total_amount
		FROM
			payment_transactions
		WHERE
			status IN ('completed', 'refunded')
	`
	args = []interface{}{}

	if currency != "" {
		rawSQL += " AND currency = ?"
		args = append(args, currency)
	}

	rawSQL += `
		GROUP BY
			method
		ORDER BY
			method
	`

	err = s.db.NewRaw(rawSQL, args...).Scan(ctx, &methodRows)
	if err != nil {
		return nil, err
	}

	// Daily attempt counts and settled amounts
	type dailyRaw struct {
		VolumeDate    time.Time `bun:"volume_date"`
		Attempts      int       `bun:"attempts"`
		SettledAmount int64     `bun:"settled_amount"`
	}

	var dailyRows []dailyRaw
	rawSQL = `
		SELECT
			DATE(created_at) AS volume_date,
			COUNT(*) AS attempts,
			COALESCE(SUM(CASE WHEN status IN ('completed', 'refunded') THEN amount ELSE 0 END), 0) AS settled_amount
		FROM
			payment_transactions
	`
	args = []interface{}{}

	if currency != "" {
		rawSQL += " WHERE currency = ?"
		args = append(args, currency)
	}

	rawSQL += `
		GROUP BY
			DATE(created_at)
		ORDER BY
			volume_date
	`

	err = s.db.NewRaw(rawSQL, args...).Scan(ctx, &dailyRows)
	if err != nil {
		return nil, err
	}

	// Compute the headline totals from the status breakdown
	result := &PaymentAnalytics{
		Currency:       currency,
		CountsByStatus: make([]StatusMetrics, 0, len(statusRows)),
		VolumeByMethod: make([]MethodMetrics, 0, len(methodRows)),
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

	for _, mr := range methodRows {
		result.VolumeByMethod = append(result.VolumeByMethod, MethodMetrics{
			Method:       mr.Method,
			Transactions: mr.TxCount,
			TotalAmount:  mr.TotalAmount,
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

package payment

import (
	"context"
	"fmt"
	"sync"

	"ms-commerce/internal/models"
)

// RefundResult is the outcome of one refund within a batch.
type RefundResult struct {
	TransactionID string                     `json:"transaction_id"`
	Transaction   *models.PaymentTransaction `json:"transaction,omitempty"`
	Error         string                     `json:"error,omitempty"`
}

const (
	defaultBatchWorkers = 4
	maxBatchWorkers     = 16
)

// RefundBatch refunds the given transactions with bounded concurrency so a
// large batch cannot overwhelm the settlement side. Results keep the input
// order; one bad identifier never aborts the rest.
func (p *Processor) RefundBatch(ctx context.Context, transactionIDs []string, reason string, workers int) []RefundResult {
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	if workers > maxBatchWorkers {
		workers = maxBatchWorkers
	}

	p.log.LogPayment("BATCH_REFUND", fmt.Sprintf("%d ids", len(transactionIDs)),
		fmt.Sprintf("starting with %d worker(s)", workers))

	results := make([]RefundResult, len(transactionIDs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, id := range transactionIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			tx, err := p.RefundPayment(ctx, id, reason)
			results[i] = RefundResult{TransactionID: id, Transaction: tx}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, id)
	}
	wg.Wait()

	return results
}

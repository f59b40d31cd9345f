package models_test

import (
	"testing"

	"ms-commerce/internal/models"

	"github.com/stretchr/testify/assert"
)

// Tests start here

func TestCanTransitionMatrix(t *testing.T) {
	statuses := []models.PaymentStatus{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusRefunded,
	}

	allowed := map[models.PaymentStatus][]models.PaymentStatus{
		models.StatusPending:    {models.StatusProcessing, models.StatusCompleted, models.StatusFailed},
		models.StatusProcessing: {models.StatusCompleted, models.StatusFailed},
		models.StatusCompleted:  {models.StatusRefunded},
		models.StatusFailed:     {},
		models.StatusRefunded:   {},
	}

	for _, from := range statuses {
		legal := make(map[models.PaymentStatus]bool)
		for _, to := range allowed[from] {
			legal[to] = true
		}
		for _, to := range statuses {
			got := models.CanTransition(from, to)
			assert.Equal(t, legal[to], got, "%s -> %s", from, to)
		}
	}
}

func TestCanTransitionRejectsSelfAndUnknown(t *testing.T) {
	for _, s := range []models.PaymentStatus{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusRefunded,
	} {
		assert.False(t, models.CanTransition(s, s), "self transition %s", s)
	}

	assert.False(t, models.CanTransition(models.PaymentStatus("archived"), models.StatusCompleted))
	assert.False(t, models.CanTransition(models.StatusPending, models.PaymentStatus("archived")))
}

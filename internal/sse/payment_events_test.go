package sse_test

import (
	"context"
	"testing"
	"time"

	"ms-commerce/internal/models"
	"ms-commerce/internal/sse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentEvent(orderID, userID, eventType string) models.PaymentEvent {
	return models.PaymentEvent{
		Type:          eventType,
		TransactionID: "pay_1",
		OrderID:       orderID,
		UserID:        userID,
		Status:        models.StatusCompleted,
		Method:        models.MethodCardCredit,
		Amount:        100,
		Currency:      "USD",
		Timestamp:     time.Now(),
	}
}

// Tests start here

func TestEmitReachesOrderAndUserSubscribers(t *testing.T) {
	emitter := sse.NewPaymentEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orderChan := emitter.SubscribeToOrder(ctx, "order-1")
	userChan := emitter.SubscribeToUser(ctx, "user-1")
	otherOrderChan := emitter.SubscribeToOrder(ctx, "order-2")

	emitter.Emit(paymentEvent("order-1", "user-1", models.EventPaymentCompleted))

	select {
	case got := <-orderChan:
		assert.Equal(t, models.EventPaymentCompleted, got.Type)
		assert.Equal(t, "order-1", got.OrderID)
	case <-time.After(time.Second):
		t.Fatal("order subscriber did not receive the event")
	}

	select {
	case got := <-userChan:
		assert.Equal(t, "user-1", got.UserID)
	case <-time.After(time.Second):
		t.Fatal("user subscriber did not receive the event")
	}

	select {
	case <-otherOrderChan:
		t.Fatal("subscriber of a different order received the event")
	default:
	}
}

func TestSubscriberRemovedOnContextCancel(t *testing.T) {
	emitter := sse.NewPaymentEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := emitter.SubscribeToOrder(ctx, "order-1")
	require.Equal(t, 1, emitter.GetOrderClientCount("order-1"))

	cancel()

	// Removal happens on a goroutine; poll briefly.
	deadline := time.After(time.Second)
	for emitter.GetOrderClientCount("order-1") != 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber was not removed after cancel")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The channel is closed for the client.
	_, open := <-ch
	assert.False(t, open)

	// Emitting afterwards must not panic or block.
	emitter.Emit(paymentEvent("order-1", "", models.EventPaymentFailed))
}

func TestSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	emitter := sse.NewPaymentEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel buffer is 10; never drained.
	emitter.SubscribeToOrder(ctx, "order-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			emitter.Emit(paymentEvent("order-1", "", models.EventPaymentCompleted))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a slow subscriber")
	}
}

func TestEventWithoutUserSkipsUserFanout(t *testing.T) {
	emitter := sse.NewPaymentEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userChan := emitter.SubscribeToUser(ctx, "user-1")

	emitter.Emit(paymentEvent("order-1", "", models.EventPaymentCompleted))

	select {
	case <-userChan:
		t.Fatal("anonymous event must not reach user subscribers")
	default:
	}
}

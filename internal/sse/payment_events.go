package sse

import (
	"context"
	"sync"

	"ms-commerce/internal/models"
)

// PaymentEventEmitter manages SSE connections and event broadcasting for
// payment status changes
type PaymentEventEmitter struct {
	// Order channel clients map - key: orderID, value: slice of client channels
	orderClients     map[string][]chan models.PaymentEvent
	orderClientMutex sync.RWMutex

	// User channel clients map - key: userID, value: slice of client channels
	userClients     map[string][]chan models.PaymentEvent
	userClientMutex sync.RWMutex
}

// NewPaymentEventEmitter creates a new SSE event emitter for payment events
func NewPaymentEventEmitter() *PaymentEventEmitter {
	return &PaymentEventEmitter{
		orderClients: make(map[string][]chan models.PaymentEvent),
		userClients:  make(map[string][]chan models.PaymentEvent),
	}
}

// SubscribeToOrder adds a client to the order's payment events
func (e *PaymentEventEmitter) SubscribeToOrder(ctx context.Context, orderID string) chan models.PaymentEvent {
	clientChan := make(chan models.PaymentEvent, 10)

	e.orderClientMutex.Lock()
	if e.orderClients[orderID] == nil {
		e.orderClients[orderID] = []chan models.PaymentEvent{}
	}
	e.orderClients[orderID] = append(e.orderClients[orderID], clientChan)
	e.orderClientMutex.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeOrderClient(orderID, clientChan)
	}()

	return clientChan
}

// SubscribeToUser adds a client to the user's payment events
func (e *PaymentEventEmitter) SubscribeToUser(ctx context.Context, userID string) chan models.PaymentEvent {
	clientChan := make(chan models.PaymentEvent, 10)

	e.userClientMutex.Lock()
	if e.userClients[userID] == nil {
		e.userClients[userID] = []chan models.PaymentEvent{}
	}
	e.userClients[userID] = append(e.userClients[userID], clientChan)
	e.userClientMutex.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeUserClient(userID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts a payment event to all subscribed clients
func (e *PaymentEventEmitter) Emit(event models.PaymentEvent) {
	// Broadcast to order subscribers
	e.orderClientMutex.RLock()
	clients := e.orderClients[event.OrderID]
	e.orderClientMutex.RUnlock()

	for _, clientChan := range clients {
		// Non-blocking send to avoid slowing down emitter if client is slow
		select {
		case clientChan <- event:
			// Successfully sent
		default:
			// Channel buffer full, skip this client for now
		}
	}

	if event.UserID == "" {
		return
	}

	// Broadcast to user subscribers
	e.userClientMutex.RLock()
	userClients := e.userClients[event.UserID]
	e.userClientMutex.RUnlock()

	for _, clientChan := range userClients {
		// Non-blocking send to avoid slowing down emitter if client is slow
		select {
		case clientChan <- event:
			// Successfully sent
		default:
			// Channel buffer full, skip this client for now
		}
	}
}

// Helper methods to remove clients when they disconnect
func (e *PaymentEventEmitter) removeOrderClient(orderID string, clientChan chan models.PaymentEvent) {
	e.orderClientMutex.Lock()
	defer e.orderClientMutex.Unlock()

	clients := e.orderClients[orderID]
	for i, ch := range clients {
		if ch == clientChan {
			// Remove client from slice
			e.orderClients[orderID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	// Clean up map entry if no more clients
	if len(e.orderClients[orderID]) == 0 {
		delete(e.orderClients, orderID)
	}
}

func (e *PaymentEventEmitter) removeUserClient(userID string, clientChan chan models.PaymentEvent) {
	e.userClientMutex.Lock()
	defer e.userClientMutex.Unlock()

	clients := e.userClients[userID]
	for i, ch := range clients {
		if ch == clientChan {
			// Remove client from slice
			e.userClients[userID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	// Clean up map entry if no more clients
	if len(e.userClients[userID]) == 0 {
		delete(e.userClients, userID)
	}
}

// GetOrderClientCount returns the number of clients currently subscribed to an order
func (e *PaymentEventEmitter) GetOrderClientCount(orderID string) int {
	e.orderClientMutex.RLock()
	defer e.orderClientMutex.RUnlock()
	return len(e.orderClients[orderID])
}

// GetUserClientCount returns the number of clients currently subscribed to a user
func (e *PaymentEventEmitter) GetUserClientCount(userID string) int {
	e.userClientMutex.RLock()
	defer e.userClientMutex.RUnlock()
	return len(e.userClients[userID])
}

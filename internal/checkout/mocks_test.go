package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
)

type mockCart struct {
	mu       sync.Mutex
	snapshot domain.CartSnapshot
	clears   int
	removed  []domain.CartItem
	clearErr error
}

func (m *mockCart) Snapshot() domain.CartSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *mockCart) RemoveOrdered(_ context.Context, ordered []domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	m.removed = append([]domain.CartItem(nil), ordered...)
	if m.clearErr != nil {
		return m.clearErr
	}
	m.snapshot.Items = nil
	return nil
}

func (m *mockCart) removedItems() []domain.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

func (m *mockCart) clearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

type mockOrders struct {
	mu    sync.Mutex
	id    string
	err   error
	calls int
	last  domain.OrderRequest
}

func (m *mockOrders) CreateOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = req
	return m.id, m.err
}

// detailError mimics a backend rejection carrying a user-facing message.
type detailError struct {
	detail string
}

func (e *detailError) Error() string       { return "backend returned status 422: " + e.detail }
func (e *detailError) UserMessage() string { return e.detail }

// mockGateway settles the i-th payment request with outcomes[i]. Missing
// entries stay pending forever.
type mockGateway struct {
	mu       sync.Mutex
	outcomes []payment.GatewayStatus
	initErr  error
	requests []payment.InitiateRequest
}

func (m *mockGateway) Initiate(_ context.Context, req payment.InitiateRequest) (*payment.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		return nil, m.initErr
	}
	m.requests = append(m.requests, req)
	return &payment.Ack{TrackingID: fmt.Sprintf("T%d", len(m.requests))}, nil
}

func (m *mockGateway) CheckStatus(_ context.Context, trackingID string) (payment.GatewayStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var idx int
	if _, err := fmt.Sscanf(trackingID, "T%d", &idx); err != nil {
		return "", err
	}
	if idx-1 < len(m.outcomes) {
		return m.outcomes[idx-1], nil
	}
	return payment.GatewayStatusPending, nil
}

func (m *mockGateway) initiated() []payment.InitiateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]payment.InitiateRequest(nil), m.requests...)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.CheckoutCompleted
	err    error
}

func (m *mockPublisher) PublishCheckoutCompleted(_ context.Context, event domain.CheckoutCompleted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *mockPublisher) published() []domain.CheckoutCompleted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CheckoutCompleted(nil), m.events...)
}

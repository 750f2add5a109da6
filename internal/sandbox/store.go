// Package sandbox is a local stand-in for the commerce backend. It serves the
// catalogue, order and mobile-money endpoints the storefront talks to.
package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
	"github.com/shopspring/decimal"
)

const (
	// PaymentTTL is how long a settled payment is kept for status queries.
	PaymentTTL = 30 * time.Minute

	// CleanupInterval is how often settled payments are purged.
	CleanupInterval = time.Minute
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrAmountMismatch    = errors.New("amount does not match order total")
)

type paymentRecord struct {
	TrackingID string
	OrderID    string
	Phone      string
	Amount     decimal.Decimal
	Status     payment.GatewayStatus
	Reason     string
	Polls      int
	CreatedAt  time.Time
	SettledAt  time.Time
}

// Store keeps the sandbox state in memory.
type Store struct {
	mu       sync.RWMutex
	products map[int64]*domain.Product
	orders   map[string]*domain.Order
	payments map[string]*paymentRecord
	carts    map[string][]domain.CartItem

	decider      Decider
	pendingPolls int

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewStore starts a store whose payments report pending for pendingPolls status
// checks before decider settles them.
func NewStore(decider Decider, pendingPolls int) *Store {
	s := &Store{
		products:     make(map[int64]*domain.Product),
		orders:       make(map[string]*domain.Order),
		payments:     make(map[string]*paymentRecord),
		carts:        make(map[string][]domain.CartItem),
		decider:      decider,
		pendingPolls: pendingPolls,
		stopCleanup:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *Store) Close() {
	close(s.stopCleanup)
	s.wg.Wait()
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.purgeSettled(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) purgeSettled(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.payments {
		if p.Status != payment.GatewayStatusPending && now.Sub(p.SettledAt) > PaymentTTL {
			delete(s.payments, id)
		}
	}
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product := p
	s.products[p.ID] = &product
}

func (s *Store) GetProduct(id int64) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return *p, nil
}

func (s *Store) ListProducts() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, *p)
	}
	return result
}

// CreateOrder validates the request against the catalogue and takes the stock.
func (s *Store) CreateOrder(req domain.OrderRequest) (*domain.Order, error) {
	if err := validateCustomer(req.Customer); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrInvalidOrder)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate every line before touching stock
	total := decimal.Zero
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for product %d must be positive", ErrInvalidOrder, item.ProductID)
		}
		product, ok := s.products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, item.ProductID)
		}
		if product.Stock < item.Quantity {
			return nil, fmt.Errorf("%w: product %d has %d left", ErrInsufficientStock, item.ProductID, product.Stock)
		}
		total = total.Add(item.UnitPriceAtSale.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !total.Equal(req.TotalAmount) {
		return nil, fmt.Errorf("%w: total %s does not match items %s", ErrInvalidOrder, req.TotalAmount, total)
	}

	// Second pass: take the stock
	for _, item := range req.Items {
		s.products[item.ProductID].Stock -= item.Quantity
	}

	order := &domain.Order{
		ID:          uuid.NewString(),
		Customer:    req.Customer,
		Items:       append([]domain.OrderItem(nil), req.Items...),
		TotalAmount: req.TotalAmount,
		Status:      domain.OrderStatusCreated,
		CreatedAt:   time.Now(),
	}
	s.orders[order.ID] = order
	return order, nil
}

func validateCustomer(c domain.Customer) error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("%w: customer name is required", ErrInvalidOrder)
	case strings.TrimSpace(c.Phone) == "":
		return fmt.Errorf("%w: customer phone is required", ErrInvalidOrder)
	case strings.TrimSpace(c.Address) == "":
		return fmt.Errorf("%w: customer address is required", ErrInvalidOrder)
	}
	return nil
}

func (s *Store) GetOrder(id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	return *o, nil
}

// InitiatePayment registers a pending mobile-money charge for an order.
func (s *Store) InitiatePayment(req payment.InitiateRequest) (string, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return "", fmt.Errorf("%w: phone is required", ErrInvalidOrder)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[req.OrderID]
	if !ok {
		return "", ErrOrderNotFound
	}
	if !order.TotalAmount.Equal(req.Amount) {
		return "", ErrAmountMismatch
	}

	record := &paymentRecord{
		TrackingID: "MM-" + uuid.NewString(),
		OrderID:    req.OrderID,
		Phone:      req.Phone,
		Amount:     req.Amount,
		Status:     payment.GatewayStatusPending,
		CreatedAt:  time.Now(),
	}
	s.payments[record.TrackingID] = record
	return record.TrackingID, nil
}

// PaymentStatus counts the poll and settles the payment once the configured
// number of pending answers has been given.
func (s *Store) PaymentStatus(trackingID string) (payment.GatewayStatus, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[trackingID]
	if !ok {
		return "", "", ErrPaymentNotFound
	}
	if p.Status != payment.GatewayStatusPending {
		return p.Status, p.Reason, nil
	}

	p.Polls++
	if p.Polls <= s.pendingPolls {
		return payment.GatewayStatusPending, "", nil
	}

	p.Status, p.Reason = s.decider.Decide()
	p.SettledAt = time.Now()
	if p.Status == payment.GatewayStatusSuccess {
		if order, ok := s.orders[p.OrderID]; ok {
			order.Status = domain.OrderStatusCompleted
		}
	}
	return p.Status, p.Reason, nil
}

func (s *Store) SaveCart(sessionID string, items []domain.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[sessionID] = append([]domain.CartItem(nil), items...)
}

func (s *Store) Cart(sessionID string) ([]domain.CartItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.carts[sessionID]
	if !ok {
		return nil, false
	}
	return append([]domain.CartItem(nil), items...), true
}

// SeedCatalogue loads a small demo catalogue.
func (s *Store) SeedCatalogue() {
	for _, p := range []domain.Product{
		{ID: 1, Name: "Savon de Marseille", Price: decimal.NewFromInt(750), Stock: 40},
		{ID: 2, Name: "Huile de palme 1L", Price: decimal.NewFromInt(1200), Stock: 25},
		{ID: 3, Name: "Riz parfumé 5kg", Price: decimal.NewFromInt(4500), Stock: 10},
		{ID: 4, Name: "Café Arabica 250g", Price: decimal.RequireFromString("2350.50"), Stock: 15},
		{ID: 5, Name: "Lampe solaire", Price: decimal.NewFromInt(9900), Stock: 3},
	} {
		s.AddProduct(p)
	}
}

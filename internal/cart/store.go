// Package cart holds the session cart: line items with stock ceilings, a total
// recomputed on every mutation, durable persistence and an advisory remote copy.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
)

type Option func(*Store)

// WithRemoteSync enables the best-effort push of every committed cart.
func WithRemoteSync(remote RemoteSyncer, timeout time.Duration) Option {
	return func(s *Store) {
		s.remote = remote
		s.syncTimeout = timeout
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the only writer of a session cart. All mutations are serialized and
// persisted before they become visible.
type Store struct {
	mu        sync.Mutex
	sessionID string
	cart      *domain.Cart
	storage   Storage
	closed    bool

	remote      RemoteSyncer
	syncTimeout time.Duration
	syncer      *syncWorker

	log *slog.Logger
	now func() time.Time
}

// Open loads the persisted cart of the session, or starts an empty one.
func Open(ctx context.Context, sessionID string, storage Storage, opts ...Option) (*Store, error) {
	s := &Store{
		sessionID:   sessionID,
		storage:     storage,
		syncTimeout: defaultSyncTimeout,
		log:         logger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("session_id", sessionID))

	cart, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.cart = cart

	if s.remote != nil {
		s.syncer = newSyncWorker(s.remote, s.syncTimeout, s.log)
	}
	return s, nil
}

func (s *Store) SessionID() string {
	return s.sessionID
}

// Refresh replaces the in-memory cart with the stored one, picking up writes
// made by other replicas serving the same session.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	cart, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.cart = cart
	return nil
}

// load reads the stored cart. A missing or unreadable one is an empty cart.
func (s *Store) load(ctx context.Context) (*domain.Cart, error) {
	cart, err := s.storage.Load(ctx, s.sessionID)
	switch {
	case err == nil:
		cart.SessionID = s.sessionID
		if cart.Items == nil {
			cart.Items = []domain.CartItem{}
		}
		cart.RecomputeTotal()
	case errors.Is(err, ErrCartNotFound):
		cart = domain.NewCart(s.sessionID)
	case errors.Is(err, ErrCorruptCart):
		s.log.WarnContext(ctx, "discarding unreadable stored cart", slog.Any("error", err))
		cart = domain.NewCart(s.sessionID)
	default:
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return cart, nil
}

// AddItem adds quantity units of a product. The line never grows past the
// available stock; a rejected add leaves the cart unchanged.
func (s *Store) AddItem(ctx context.Context, productID int64, quantity int, details domain.ItemDetails) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if details.UnitPrice.IsNegative() || details.StockAvailable < 0 {
		return ErrInvalidDetails
	}

	return s.mutate(ctx, func(next *domain.Cart) error {
		idx := next.Find(productID)
		newQuantity := quantity
		if idx >= 0 {
			newQuantity += next.Items[idx].Quantity
		}
		if newQuantity > details.StockAvailable {
			return &InsufficientStockError{
				ProductID: productID,
				Requested: newQuantity,
				Available: details.StockAvailable,
			}
		}

		line := domain.CartItem{
			ProductID:      productID,
			Name:           details.Name,
			UnitPrice:      details.UnitPrice,
			Quantity:       newQuantity,
			StockAvailable: details.StockAvailable,
		}
		if idx >= 0 {
			next.Items[idx] = line
		} else {
			next.Items = append(next.Items, line)
		}
		return nil
	})
}

// UpdateItem sets the quantity of an existing line. A quantity of zero or less removes it.
func (s *Store) UpdateItem(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, productID)
	}

	return s.mutate(ctx, func(next *domain.Cart) error {
		idx := next.Find(productID)
		if idx < 0 {
			return ErrItemNotFound
		}
		if quantity > next.Items[idx].StockAvailable {
			return &InsufficientStockError{
				ProductID: productID,
				Requested: quantity,
				Available: next.Items[idx].StockAvailable,
			}
		}
		next.Items[idx].Quantity = quantity
		return nil
	})
}

// RemoveItem is a no-op when the product is not in the cart.
func (s *Store) RemoveItem(ctx context.Context, productID int64) error {
	err := s.mutate(ctx, func(next *domain.Cart) error {
		idx := next.Find(productID)
		if idx < 0 {
			return errNoChange
		}
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func(next *domain.Cart) error {
		next.Items = []domain.CartItem{}
		return nil
	})
}

// RemoveOrdered takes the purchased quantities out of the cart. Lines added
// or topped up after the snapshot was taken keep whatever exceeds the order.
func (s *Store) RemoveOrdered(ctx context.Context, ordered []domain.CartItem) error {
	return s.mutate(ctx, func(next *domain.Cart) error {
		for _, item := range ordered {
			idx := next.Find(item.ProductID)
			if idx < 0 {
				continue
			}
			if left := next.Items[idx].Quantity - item.Quantity; left > 0 {
				next.Items[idx].Quantity = left
				continue
			}
			next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
		}
		return nil
	})
}

// Snapshot returns a copy that later mutations cannot change.
func (s *Store) Snapshot() domain.CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cart.Clone()
	return domain.CartSnapshot{
		SessionID:   c.SessionID,
		Items:       c.Items,
		TotalAmount: c.TotalPrice,
		CapturedAt:  s.now(),
	}
}

// Cart returns a copy of the current cart.
func (s *Store) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cart.Clone()
}

// Close stops background sync. The persisted cart is kept.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.syncer != nil {
		s.syncer.close()
	}
	return nil
}

// Destroy closes the store and deletes the persisted cart.
func (s *Store) Destroy(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, s.sessionID); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

var errNoChange = errors.New("no change")

// mutate applies fn to a copy of the stored cart, persists the result and only
// then makes it current. Starting from storage keeps another replica's writes.
func (s *Store) mutate(ctx context.Context, fn func(next *domain.Cart) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	current, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.cart = current

	next := s.cart.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.RecomputeTotal()
	next.UpdatedAt = s.now()

	if err := s.storage.Save(ctx, next); err != nil {
		s.log.ErrorContext(ctx, "cart persist failed", slog.Any("error", err))
		return fmt.Errorf("failed to persist cart: %w", err)
	}
	s.cart = next

	if s.syncer != nil {
		s.syncer.push(*next.Clone())
	}
	return nil
}

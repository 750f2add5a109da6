// Package session owns the per-session cart and checkout pair.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/cart"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/checkout"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidSession = errors.New("session id is required")
	ErrClosed         = errors.New("session manager is closed")
)

type Session struct {
	ID       string
	Cart     *cart.Store
	Checkout *checkout.Orchestrator
}

type Config struct {
	Checkout    checkout.Config
	SyncTimeout time.Duration
}

type Option func(*Manager)

// WithRemoteSync pushes every committed cart to remote.
func WithRemoteSync(remote cart.RemoteSyncer) Option {
	return func(m *Manager) {
		m.remote = remote
	}
}

func WithPublisher(p checkout.EventPublisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

type Manager struct {
	storage   cart.Storage
	orders    checkout.OrderCreator
	payments  payment.Gateway
	remote    cart.RemoteSyncer
	publisher checkout.EventPublisher
	cfg       Config
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	sfg      singleflight.Group // one cart load per session id
}

func NewManager(storage cart.Storage, orders checkout.OrderCreator, payments payment.Gateway, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		storage:  storage,
		orders:   orders,
		payments: payments,
		cfg:      cfg,
		log:      logger.Nop(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the open session, loading its cart on first use.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidSession
	}
	if s, err := m.lookup(id); s != nil || err != nil {
		return s, err
	}

	v, err, _ := m.sfg.Do(id, func() (interface{}, error) {
		if s, err := m.lookup(id); s != nil || err != nil {
			return s, err
		}
		return m.open(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.sessions[id], nil
}

func (m *Manager) open(ctx context.Context, id string) (*Session, error) {
	log := m.log.With(slog.String("session_id", id))

	cartOpts := []cart.Option{cart.WithLogger(log)}
	if m.remote != nil {
		cartOpts = append(cartOpts, cart.WithRemoteSync(m.remote, m.cfg.SyncTimeout))
	}
	store, err := cart.Open(ctx, id, m.storage, cartOpts...)
	if err != nil {
		return nil, err
	}

	checkoutOpts := []checkout.Option{checkout.WithLogger(log)}
	if m.publisher != nil {
		checkoutOpts = append(checkoutOpts, checkout.WithPublisher(m.publisher))
	}
	co, err := checkout.New(store, m.orders, m.payments, m.cfg.Checkout, checkoutOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build checkout: %w", err)
	}

	s := &Session{ID: id, Cart: store, Checkout: co}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		co.Close()
		_ = store.Close()
		return nil, ErrClosed
	}
	m.sessions[id] = s
	log.DebugContext(ctx, "session opened")
	return s, nil
}

// End logs the session out: any payment in flight is cancelled and the
// persisted cart is deleted.
func (m *Manager) End(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidSession
	}

	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if s == nil {
		if err := m.storage.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete cart: %w", err)
		}
		return nil
	}

	s.Checkout.Close()
	if err := s.Cart.Destroy(ctx); err != nil {
		return err
	}
	m.log.InfoContext(ctx, "session ended", slog.String("session_id", id))
	return nil
}

// Evict drops a loaded session so its cart is reloaded from storage on the
// next request. A session with a checkout in progress is kept. Evict reports
// whether a session was dropped.
func (m *Manager) Evict(ctx context.Context, id string) bool {
	m.mu.Lock()
	s := m.sessions[id]
	if s == nil || s.Checkout.InProgress() {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.Checkout.Close()
	if err := s.Cart.Close(); err != nil {
		m.log.WarnContext(ctx, "failed to close evicted cart", slog.String("session_id", id), slog.Any("error", err))
	}
	return true
}

// Len is the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close releases every open session. Persisted carts are kept.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.closed = true
	m.mu.Unlock()

	for _, s := range sessions {
		s.Checkout.Close()
		_ = s.Cart.Close()
	}
}

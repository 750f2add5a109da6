package cart

import (
	"context"
	"errors"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
)

// Storage is the durable local copy of a session cart. It is the source of truth.
type Storage interface {
	Load(ctx context.Context, sessionID string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// RemoteSyncer receives an advisory copy of the cart after each mutation.
type RemoteSyncer interface {
	PushCart(ctx context.Context, cart domain.Cart) error
}

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrCorruptCart  = errors.New("stored cart is corrupt")
)

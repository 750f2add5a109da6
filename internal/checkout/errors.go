package checkout

import (
	"errors"
	"fmt"
)

// Kind classifies a checkout failure. The values double as API error codes.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindInsufficientStock   Kind = "insufficient_stock"
	KindEmptyCart           Kind = "empty_cart"
	KindOrderCreationFailed Kind = "order_creation_failed"
	KindPaymentFailed       Kind = "payment_failed"
	KindPaymentTimeout      Kind = "payment_timeout"
	KindPaymentCancelled    Kind = "payment_cancelled"
	KindCheckoutInProgress  Kind = "checkout_in_progress"
	KindNoPendingOrder      Kind = "no_pending_order"
)

var (
	ErrValidation          = errors.New("invalid checkout request")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrEmptyCart           = errors.New("cart is empty, nothing to checkout")
	ErrOrderCreationFailed = errors.New("order creation failed")
	ErrPaymentFailed       = errors.New("payment failed")
	ErrPaymentTimeout      = errors.New("payment timed out")
	ErrPaymentCancelled    = errors.New("payment cancelled")
	ErrCheckoutInProgress  = errors.New("checkout already in progress")
	ErrNoPendingOrder      = errors.New("no order awaiting payment")
)

var sentinels = map[Kind]error{
	KindValidation:          ErrValidation,
	KindInsufficientStock:   ErrInsufficientStock,
	KindEmptyCart:           ErrEmptyCart,
	KindOrderCreationFailed: ErrOrderCreationFailed,
	KindPaymentFailed:       ErrPaymentFailed,
	KindPaymentTimeout:      ErrPaymentTimeout,
	KindPaymentCancelled:    ErrPaymentCancelled,
	KindCheckoutInProgress:  ErrCheckoutInProgress,
	KindNoPendingOrder:      ErrNoPendingOrder,
}

// Error is returned by every checkout operation. Message is safe to show to
// the user; Err keeps the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	OrderID string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func validationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

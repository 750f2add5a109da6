package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// GatewayStatus is the status reported by the payment status endpoint.
type GatewayStatus string

const (
	GatewayStatusPending GatewayStatus = "pending"
	GatewayStatusSuccess GatewayStatus = "success"
	GatewayStatusFailed  GatewayStatus = "failed"
)

type InitiateRequest struct {
	OrderID string          `json:"order_id"`
	Phone   string          `json:"phone"`
	Amount  decimal.Decimal `json:"amount"`
}

// Ack is the gateway's acceptance of a payment request.
type Ack struct {
	TrackingID string `json:"tracking_id"`
}

// Gateway is the remote mobile-money API.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*Ack, error)
	CheckStatus(ctx context.Context, trackingID string) (GatewayStatus, error)
}

var (
	// ErrUnrecoverable marks a status-check error that ends polling.
	ErrUnrecoverable = errors.New("unrecoverable payment gateway error")

	ErrNotIdle          = errors.New("payment attempt already started")
	ErrNotAcknowledged  = errors.New("payment gateway did not acknowledge the request")
	ErrDeclined         = errors.New("payment declined")
	ErrDeadlineExceeded = errors.New("payment not confirmed before deadline")
	ErrCancelled        = errors.New("payment cancelled")
)

package domain

import "github.com/shopspring/decimal"

type PaymentStatus string

const (
	PaymentStatusIdle      PaymentStatus = "idle"
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSuccess   PaymentStatus = "success"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusTimeout   PaymentStatus = "timeout"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusTimeout, PaymentStatusCancelled:
		return true
	}
	return false
}

// String representation (for logging)
func (s PaymentStatus) String() string {
	return string(s)
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusIdle:      {PaymentStatusInitiated, PaymentStatusCancelled},
	PaymentStatusInitiated: {PaymentStatusPending, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusPending: {
		PaymentStatusSuccess,
		PaymentStatusFailed,
		PaymentStatusTimeout,
		PaymentStatusCancelled,
	},
}

// CanTransitionTo reports whether the payment lifecycle allows moving from s to next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentRequest struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	Phone      string          `json:"phone"`
	Amount     decimal.Decimal `json:"amount"`
	TrackingID string          `json:"tracking_id,omitempty"`
	Status     PaymentStatus   `json:"status"`
	Error      string          `json:"error,omitempty"`
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobileMoney:
		return true
	}
	return false
}

// IsAsync reports whether the outcome arrives later through the payment gateway.
func (m PaymentMethod) IsAsync() bool {
	return m == PaymentMethodMobileMoney
}

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
}

type OrderItem struct {
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	UnitPriceAtSale decimal.Decimal `json:"unit_price"`
}

// OrderRequest is the payload sent to the order-creation backend.
type OrderRequest struct {
	Customer    Customer        `json:"customer"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type Order struct {
	ID            string          `json:"id"`
	Customer      Customer        `json:"customer"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewOrderRequest prices every line from the snapshot.
func NewOrderRequest(customer Customer, snapshot CartSnapshot) OrderRequest {
	items := make([]OrderItem, len(snapshot.Items))
	for i, item := range snapshot.Items {
		items[i] = OrderItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPriceAtSale: item.UnitPrice,
		}
	}
	return OrderRequest{
		Customer:    customer,
		Items:       items,
		TotalAmount: snapshot.TotalAmount,
	}
}

type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// CheckoutCompleted is published once an order is paid and the cart is cleared.
type CheckoutCompleted struct {
	OrderID       string          `json:"order_id"`
	SessionID     string          `json:"session_id"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	TrackingID    string          `json:"tracking_id,omitempty"`
	CompletedAt   time.Time       `json:"completed_at"`
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ProductID      int64           `json:"product_id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       int             `json:"quantity"`
	StockAvailable int             `json:"stock_available"`
}

// Subtotal is UnitPrice * Quantity.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemDetails is the catalogue data supplied when a product is added to the cart.
type ItemDetails struct {
	Name           string
	UnitPrice      decimal.Decimal
	StockAvailable int
}

type Cart struct {
	SessionID  string          `json:"session_id"`
	Items      []CartItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewCart returns an empty cart for the session.
func NewCart(sessionID string) *Cart {
	return &Cart{
		SessionID:  sessionID,
		Items:      []CartItem{},
		TotalPrice: decimal.Zero,
	}
}

// RecomputeTotal sets TotalPrice to the sum of all line subtotals.
func (c *Cart) RecomputeTotal() {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	c.TotalPrice = total
}

// Find returns the index of the line for productID, or -1.
func (c *Cart) Find(productID int64) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) Clone() *Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return &Cart{
		SessionID:  c.SessionID,
		Items:      items,
		TotalPrice: c.TotalPrice,
		UpdatedAt:  c.UpdatedAt,
	}
}

// CartSnapshot represents the full cart state at checkout time
type CartSnapshot struct {
	SessionID   string          `json:"session_id"`
	Items       []CartItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CapturedAt  time.Time       `json:"captured_at"`
}

func (s CartSnapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

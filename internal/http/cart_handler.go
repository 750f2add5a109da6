package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/gateway"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/session"
	"github.com/shopspring/decimal"
)

const maxLineQuantity = 99

// SessionProvider resolves the session of a request.
type SessionProvider interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	End(ctx context.Context, id string) error
}

// ProductCatalogue supplies the name, price and stock of a product being added.
type ProductCatalogue interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

type CartHandler struct {
	sessions  SessionProvider
	catalogue ProductCatalogue
	timeout   time.Duration
	log       *slog.Logger
}

func NewCartHandler(sessions SessionProvider, catalogue ProductCatalogue, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{
		sessions:  sessions,
		catalogue: catalogue,
		timeout:   timeout,
		log:       log,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartResponseDTO struct {
	SessionID  string            `json:"session_id"`
	Items      []domain.CartItem `json:"items"`
	TotalPrice decimal.Decimal   `json:"total_price"`
	ItemCount  int               `json:"item_count"`
}

func toCartResponse(s domain.CartSnapshot) CartResponseDTO {
	count := 0
	for _, item := range s.Items {
		count += item.Quantity
	}
	return CartResponseDTO{
		SessionID:  s.SessionID,
		Items:      s.Items,
		TotalPrice: s.TotalAmount,
		ItemCount:  count,
	}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, err := h.sessions.Get(ctx, getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Cart.Refresh(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(s.Cart.Snapshot()))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	s, err := h.sessions.Get(ctx, getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	product, err := h.catalogue.GetProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, gateway.ErrProductNotFound) {
			respondError(w, http.StatusNotFound, "product_not_found", "product not found")
			return
		}
		h.log.ErrorContext(ctx, "catalogue lookup failed", slog.Int64("product_id", req.ProductID), slog.Any("error", err))
		respondError(w, http.StatusBadGateway, "catalogue_unavailable", "product catalogue is unavailable")
		return
	}

	err = s.Cart.AddItem(ctx, req.ProductID, req.Quantity, domain.ItemDetails{
		Name:           product.Name,
		UnitPrice:      product.Price,
		StockAvailable: product.Stock,
	})
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, toCartResponse(s.Cart.Snapshot()))
}

// UpdateQuantity sets a line's quantity; zero removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil || *req.Quantity < 0 || *req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	s, err := h.sessions.Get(ctx, getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Cart.UpdateItem(ctx, productID, *req.Quantity); err != nil {
		handleError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(s.Cart.Snapshot()))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	s, err := h.sessions.Get(ctx, getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Cart.RemoveItem(ctx, productID); err != nil {
		handleError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(s.Cart.Snapshot()))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, err := h.sessions.Get(ctx, getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Cart.Clear(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(s.Cart.Snapshot()))
}

// Logout ends the session and deletes its cart.
func (h *CartHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.sessions.End(ctx, getSessionID(r.Context())); err != nil {
		handleError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}

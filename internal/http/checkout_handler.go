package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
)

type CheckoutHandler struct {
	sessions SessionProvider
	timeout  time.Duration
	log      *slog.Logger
}

// NewCheckoutHandler builds the handler. timeout must cover a full payment
// attempt, since mobile money requests wait for the outcome.
func NewCheckoutHandler(sessions SessionProvider, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		sessions: sessions,
		timeout:  timeout,
		log:      log,
	}
}

type CheckoutRequestDTO struct {
	Customer      domain.Customer      `json:"customer"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

type RetryPaymentRequestDTO struct {
	Phone string `json:"phone"`
}

type CancelPaymentResponseDTO struct {
	Status domain.PaymentStatus `json:"status"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s, err := h.sessions.Get(ctx, getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	// the order is built from the stored cart, which another replica may have changed
	if !s.Checkout.InProgress() {
		if err := s.Cart.Refresh(ctx); err != nil {
			handleError(w, h.log, err)
			return
		}
	}

	receipt, err := s.Checkout.Submit(ctx, req.Customer, req.PaymentMethod)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// GET /api/v1/checkout/payment
func (h *CheckoutHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	p, ok := s.Checkout.Payment()
	if !ok {
		respondError(w, http.StatusNotFound, "no_payment", "no payment has been started in this session")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// POST /api/v1/checkout/payment/retry
func (h *CheckoutHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req RetryPaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s, err := h.sessions.Get(ctx, getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	receipt, err := s.Checkout.RetryPayment(ctx, req.Phone)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// POST /api/v1/checkout/payment/cancel
func (h *CheckoutHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), getSessionID(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	if !s.Checkout.CancelPayment() {
		respondError(w, http.StatusConflict, "no_payment_in_progress", "there is no payment in progress")
		return
	}
	respondJSON(w, http.StatusOK, CancelPaymentResponseDTO{Status: domain.PaymentStatusCancelled})
}

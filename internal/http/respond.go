package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/cart"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/checkout"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/session"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondErrorDetails(w, status, code, message, "")
}

func respondErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

var checkoutStatus = map[checkout.Kind]int{
	checkout.KindValidation:          http.StatusBadRequest,
	checkout.KindInsufficientStock:   http.StatusConflict,
	checkout.KindEmptyCart:           http.StatusUnprocessableEntity,
	checkout.KindOrderCreationFailed: http.StatusBadGateway,
	checkout.KindPaymentFailed:       http.StatusPaymentRequired,
	checkout.KindPaymentTimeout:      http.StatusGatewayTimeout,
	checkout.KindPaymentCancelled:    http.StatusConflict,
	checkout.KindCheckoutInProgress:  http.StatusConflict,
	checkout.KindNoPendingOrder:      http.StatusNotFound,
}

// handleError converts domain errors to HTTP responses.
func handleError(w http.ResponseWriter, log *slog.Logger, err error) {
	var ce *checkout.Error
	if errors.As(err, &ce) {
		status, ok := checkoutStatus[ce.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		details := ce.Field
		if details == "" && ce.OrderID != "" {
			details = "order_id=" + ce.OrderID
		}
		respondErrorDetails(w, status, string(ce.Kind), ce.Message, details)
		return
	}

	var stockErr *cart.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		respondError(w, http.StatusConflict, string(checkout.KindInsufficientStock), stockErr.Error())
	case errors.Is(err, cart.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "item_not_found", err.Error())
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, cart.ErrInvalidDetails):
		respondError(w, http.StatusBadRequest, string(checkout.KindValidation), err.Error())
	case errors.Is(err, session.ErrInvalidSession):
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, cart.ErrStoreClosed), errors.Is(err, session.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "session_closed", "session is no longer available, please retry")
	default:
		log.Error("request failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

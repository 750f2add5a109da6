package sandbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
)

type Handler struct {
	store *Store
	log   *slog.Logger
}

func NewHandler(store *Store, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{store: store, log: log}
}

// Router exposes the backend REST contract.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{id}", h.GetOrder)
	r.Post("/payments", h.InitiatePayment)
	r.Get("/payments/{tracking_id}", h.PaymentStatus)
	r.Put("/carts/{session_id}", h.PutCart)
	r.Get("/carts/{session_id}", h.GetCart)
	return r
}

type detailResponse struct {
	Detail string `json:"detail"`
}

type orderCreatedResponse struct {
	OrderID string `json:"order_id"`
}

type paymentStatusResponse struct {
	TrackingID string                `json:"tracking_id"`
	Status     payment.GatewayStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
}

type cartRequest struct {
	Items []domain.CartItem `json:"items"`
}

func (h *Handler) ListProducts(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, h.store.ListProducts())
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondDetail(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	product, err := h.store.GetProduct(id)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, product)
}

// CreateOrder returns 201 {order_id} or a {detail} body the storefront shows the user.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	order, err := h.store.CreateOrder(req)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	h.log.InfoContext(r.Context(), "order created", slog.String("order_id", order.ID), slog.String("total", order.TotalAmount.String()))
	h.respondJSON(w, http.StatusCreated, orderCreatedResponse{OrderID: order.ID})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.GetOrder(chi.URLParam(r, "id"))
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, order)
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req payment.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	trackingID, err := h.store.InitiatePayment(req)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	h.log.InfoContext(r.Context(), "payment initiated", slog.String("order_id", req.OrderID), slog.String("tracking_id", trackingID))
	h.respondJSON(w, http.StatusAccepted, payment.Ack{TrackingID: trackingID})
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "tracking_id")
	status, reason, err := h.store.PaymentStatus(trackingID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, paymentStatusResponse{TrackingID: trackingID, Status: status, Reason: reason})
}

func (h *Handler) PutCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.store.SaveCart(chi.URLParam(r, "session_id"), req.Items)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, ok := h.store.Cart(chi.URLParam(r, "session_id"))
	if !ok {
		h.respondDetail(w, http.StatusNotFound, "cart not found")
		return
	}
	h.respondJSON(w, http.StatusOK, cartRequest{Items: items})
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrPaymentNotFound):
		h.respondDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInsufficientStock):
		h.respondDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrAmountMismatch):
		h.respondDetail(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error("sandbox request failed", slog.Any("error", err))
		h.respondDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) respondDetail(w http.ResponseWriter, status int, detail string) {
	h.respondJSON(w, status, detailResponse{Detail: detail})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode response", slog.Any("error", err))
	}
}

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	RequestTimeout  time.Duration
	CheckoutTimeout time.Duration
}

// NewRouter wires the storefront API. Checkout routes get their own, longer
// timeout because mobile money requests wait for the payment outcome.
func NewRouter(sessions SessionProvider, catalogue ProductCatalogue, cfg RouterConfig, log *slog.Logger) http.Handler {
	cartHandler := NewCartHandler(sessions, catalogue, cfg.RequestTimeout, log)
	checkoutHandler := NewCheckoutHandler(sessions, cfg.CheckoutTimeout, log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Use(middleware.Compress(5))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})
			r.Delete("/session", cartHandler.Logout)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", checkoutHandler.Submit)
			r.Get("/payment", checkoutHandler.GetPayment)
			r.Post("/payment/retry", checkoutHandler.RetryPayment)
			r.Post("/payment/cancel", checkoutHandler.CancelPayment)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}

// Package http exposes the storefront core over a JSON REST API.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	ServiceName    string
	RequestTimeout time.Duration
	CORSOrigins    []string
	AdminKeys      []string
	Logger         *slog.Logger
}

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
}

// NewRouter wires routes and middleware and wraps the result for tracing.
func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", SessionHeader, UserHeader, IdempotencyHeader, AdminKeyHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Delete("/", h.Cart.ClearCart)
			r.Post("/items", h.Cart.AddItem)
			r.Put("/items/{product_id}", h.Cart.UpdateQuantity)
			r.Delete("/items/{product_id}", h.Cart.RemoveItem)
		})

		r.Post("/checkout", h.Checkout.PlaceOrder)
		r.Post("/coupons/{code}/preview", h.Checkout.PreviewCoupon)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{order_id}", h.Orders.GetOrder)
			r.Post("/{order_id}/refunds", h.Orders.RequestRefund)
			r.Get("/{order_id}/refunds", h.Orders.ListRefunds)
		})

		r.Post("/payments/callback", h.Orders.PaymentCallback)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminKeyAuth(cfg.AdminKeys))
			r.Patch("/orders/{order_id}/status", h.Orders.AdminUpdateStatus)
			r.Post("/orders/{order_id}/refunds", h.Orders.AdminRefund)
		})
	})

	name := cfg.ServiceName
	if name == "" {
		name = "storefront"
	}
	return otelhttp.NewHandler(r, name)
}

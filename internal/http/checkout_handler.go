package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/fjod/go_cart/internal/service"
	"github.com/go-chi/chi/v5"
)

type CheckoutAPI interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*domain.Order, error)
	PreviewCoupon(ctx context.Context, sessionID, code string) (*service.CouponPreview, error)
}

type CheckoutHandler struct {
	checkout CheckoutAPI
	timeout  time.Duration
}

func NewCheckoutHandler(checkout CheckoutAPI, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
	}
}

type CheckoutRequestDTO struct {
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	CouponCode      string                 `json:"coupon_code,omitempty"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.checkout.PlaceOrder(ctx, service.PlaceOrderRequest{
		SessionID:       session,
		UserID:          userID(r),
		ShippingAddress: req.ShippingAddress,
		CouponCode:      req.CouponCode,
		IdempotencyKey:  r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

// POST /api/v1/coupons/{code}/preview
func (h *CheckoutHandler) PreviewCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	preview, err := h.checkout.PreviewCoupon(ctx, session, chi.URLParam(r, "code"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, preview)
}

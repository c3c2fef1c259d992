package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type OrdersAPI interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, userID, sessionID string) ([]*domain.Order, error)
	RecordPaymentResult(ctx context.Context, orderID string, outcome domain.PaymentStatus, reference string) (*domain.Order, error)
	AdminUpdateStatus(ctx context.Context, orderID string, newStatus domain.OrderStatus, trackingNumber string) (*domain.Order, error)
}

type RefundsAPI interface {
	RequestRefund(ctx context.Context, orderID, reason string) (*domain.RefundRequest, error)
	AdminRefund(ctx context.Context, orderID string, amount decimal.Decimal, reason string) (*domain.RefundRequest, error)
	ListRefunds(ctx context.Context, orderID string) ([]*domain.RefundRequest, error)
}

type OrdersHandler struct {
	orders  OrdersAPI
	refunds RefundsAPI
	timeout time.Duration
}

func NewOrdersHandler(orders OrdersAPI, refunds RefundsAPI, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		refunds: refunds,
		timeout: timeout,
	}
}

type RefundRequestDTO struct {
	Reason string `json:"reason"`
}

type AdminRefundRequestDTO struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type AdminStatusRequestDTO struct {
	Status         string `json:"status,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type PaymentCallbackDTO struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := userID(r)
	session := sessionID(r)
	if user == "" && session == "" {
		respondError(w, http.StatusBadRequest, "missing_session", SessionHeader+" or "+UserHeader+" header is required")
		return
	}

	orders, err := h.orders.ListOrders(ctx, user, session)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, ok := h.ownedOrder(ctx, w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// POST /api/v1/orders/{order_id}/refunds
func (h *OrdersHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, ok := h.ownedOrder(ctx, w, r)
	if !ok {
		return
	}

	var req RefundRequestDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}

	refund, err := h.refunds.RequestRefund(ctx, order.ID, req.Reason)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, refund)
}

// GET /api/v1/orders/{order_id}/refunds
func (h *OrdersHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, ok := h.ownedOrder(ctx, w, r)
	if !ok {
		return
	}

	refunds, err := h.refunds.ListRefunds(ctx, order.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, refunds)
}

// POST /api/v1/payments/callback
func (h *OrdersHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req PaymentCallbackDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id is required")
		return
	}
	outcome, ok := domain.ParsePaymentOutcome(req.Status)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_status", "status must be COMPLETED or FAILED")
		return
	}

	order, err := h.orders.RecordPaymentResult(ctx, req.OrderID, outcome, req.Reference)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// PATCH /api/v1/admin/orders/{order_id}/status
func (h *OrdersHandler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AdminStatusRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var status domain.OrderStatus
	if req.Status != "" {
		s, ok := domain.ParseOrderStatus(req.Status)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_status", "unknown order status "+req.Status)
			return
		}
		status = s
	} else if req.TrackingNumber == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "status or tracking_number is required")
		return
	}

	order, err := h.orders.AdminUpdateStatus(ctx, chi.URLParam(r, "order_id"), status, req.TrackingNumber)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// POST /api/v1/admin/orders/{order_id}/refunds
func (h *OrdersHandler) AdminRefund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AdminRefundRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	refund, err := h.refunds.AdminRefund(ctx, chi.URLParam(r, "order_id"), req.Amount, req.Reason)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, refund)
}

// ownedOrder loads the order from the URL and hides it from other sessions and users.
func (h *OrdersHandler) ownedOrder(ctx context.Context, w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}

	session, user := sessionID(r), userID(r)
	owned := (session != "" && order.SessionID == session) || (user != "" && order.UserID == user)
	if !owned {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return nil, false
	}
	return order, true
}

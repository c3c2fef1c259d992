package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CartAPI interface {
	GetCart(ctx context.Context, sessionID string) (*domain.CartView, error)
	AddItem(ctx context.Context, sessionID, productID string, qty int) error
	UpdateQuantity(ctx context.Context, sessionID, productID string, qty int) error
	RemoveItem(ctx context.Context, sessionID, productID string) error
	Clear(ctx context.Context, sessionID string) error
}

type CartHandler struct {
	carts   CartAPI
	timeout time.Duration
}

func NewCartHandler(carts CartAPI, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	h.respondCart(ctx, w, r, session, http.StatusOK)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	if err := h.carts.AddItem(ctx, session, req.ProductID, req.Quantity); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r, session, http.StatusCreated)
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.carts.UpdateQuantity(ctx, session, chi.URLParam(r, "product_id"), req.Quantity); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r, session, http.StatusOK)
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(ctx, session, chi.URLParam(r, "product_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r, session, http.StatusOK)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, session); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, r *http.Request, session string, status int) {
	view, err := h.carts.GetCart(ctx, session)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, status, view)
}

func requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	session := sessionID(r)
	if session == "" {
		respondError(w, http.StatusBadRequest, "missing_session", SessionHeader+" header is required")
		return "", false
	}
	return session, true
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/fjod/go_cart/pkg/logger"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type outOfStockDetails struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available *int   `json:"available,omitempty"`
}

type transitionDetails struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// errorMapping is checked in order; the first matching kind wins.
var errorMapping = []struct {
	kind   error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrOutOfStock, http.StatusConflict, "out_of_stock"},
	{domain.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
	{domain.ErrCouponExpired, http.StatusUnprocessableEntity, "coupon_expired"},
	{domain.ErrCouponLimitExceeded, http.StatusUnprocessableEntity, "coupon_limit_exceeded"},
	{domain.ErrCouponBelowMinimum, http.StatusUnprocessableEntity, "coupon_below_minimum"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrNotEligible, http.StatusUnprocessableEntity, "not_eligible"},
	{domain.ErrAlreadyRequested, http.StatusConflict, "already_requested"},
	{domain.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{domain.ErrInvalidCoupon, http.StatusBadRequest, "invalid_coupon"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// handleServiceError converts a service error into the JSON error response.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.kind) {
			continue
		}
		resp := ErrorResponse{Error: err.Error(), Code: m.code}

		var oos *domain.OutOfStockError
		var te *domain.TransitionError
		switch {
		case errors.As(err, &oos):
			d := outOfStockDetails{ProductID: oos.ProductID, Requested: oos.Requested}
			if oos.Available >= 0 {
				d.Available = &oos.Available
			}
			resp.Details = d
		case errors.As(err, &te):
			resp.Details = transitionDetails{From: te.From, To: te.To}
		}

		respondJSON(w, m.status, resp)
		return
	}

	logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

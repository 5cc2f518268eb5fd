package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agromarket/fulfillment/internal/checkout"
	"github.com/agromarket/fulfillment/internal/inventory"
	"github.com/agromarket/fulfillment/internal/pricing"
	"github.com/agromarket/fulfillment/internal/shipping"
	"github.com/agromarket/fulfillment/internal/store"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Checkout *checkout.Service
	Shipping *shipping.Engine
	Products *store.Products
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/checkout", h.placeOrder)
	r.Post("/shipping/quote", h.quote)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var rateErr *checkout.RateLimitedError
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(rateErr.ResetAt).Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":    "rate limited",
			"reset_at": rateErr.ResetAt,
		})
		return
	}
	var stockErr *inventory.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductID,
			"required":   stockErr.Needed,
			"available":  stockErr.Available,
		})
		return
	}
	var valErr checkout.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": valErr.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req.ClientKey = r.RemoteAddr

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	conf, err := h.Checkout.Checkout(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if conf.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, conf)
}

type quoteReq struct {
	Method     string          `json:"shipping_method"`
	PostalCode string          `json:"postal_code"`
	Subtotal   float64         `json:"subtotal"`
	Items      []shipping.Item `json:"items"`
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	q := h.Shipping.Quote(shipping.Request{
		Method:     methodOrCourier(req.Method),
		PostalCode: req.PostalCode,
		Items:      req.Items,
		Subtotal:   req.Subtotal,
	})
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Checkout.Cancel(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, err := h.Checkout.Orders.Get(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.List(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func methodOrCourier(m string) pricing.Method {
	if m == "" {
		return pricing.MethodCourier
	}
	return pricing.Method(m)
}

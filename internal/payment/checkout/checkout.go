package checkout

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bbpayments-be/internal/logger"
	"bbpayments-be/internal/order"
	"bbpayments-be/internal/payment"

	"go.uber.org/zap"
)

// Handler starts a payment: it looks the order up and sends the customer to
// the hosted payment page.
type Handler struct {
	Orders  order.Repository
	Gateway payment.Gateway
}

func NewCheckoutHandler(orders order.Repository, gateway payment.Gateway) *Handler {
	return &Handler{Orders: orders, Gateway: gateway}
}

type redirectResponse struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect"`
}

// CheckoutHandler serves GET /checkout/{id}?key=. The order key proves the
// caller owns the order; unknown orders and wrong keys look the same.
func (h *Handler) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	key := r.URL.Query().Get("key")

	o, err := h.Orders.GetByID(ctx, id)
	if errors.Is(err, order.ErrOrderNotFound) || (err == nil && subtle.ConstantTimeCompare([]byte(o.Key), []byte(key)) != 1) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("failed to load order for checkout", zap.Int64("order_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if o.Status != order.StatusPending {
		http.Error(w, "order is not awaiting payment", http.StatusConflict)
		return
	}

	res, err := h.Gateway.BuildRedirect(ctx, o)
	if errors.Is(err, payment.ErrUnsupportedCurrency) {
		http.Error(w, "payment method unavailable for this currency", http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		log.Error("failed to build payment redirect", zap.Int64("order_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(redirectResponse{Result: "success", Redirect: res.URL})
		return
	}
	http.Redirect(w, r, res.URL, http.StatusFound)
}

package webhook

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"bbpayments-be/internal/logger"
	"bbpayments-be/internal/payment"

	"go.uber.org/zap"
)

const (
	maxNotificationBody = 1 << 20
	failureBody         = "BB Payment IPN Request Failure"
)

// Handler receives the payment party's notifications.
type Handler struct {
	Gateway payment.Gateway
}

func NewWebhookHandler(gateway payment.Gateway) *Handler {
	return &Handler{Gateway: gateway}
}

// PaymentWebhookHandler serves the primary notification. The party also
// sends the customer's browser here (GoodURL), so a GET that succeeds is
// answered with a redirect to the receipt page.
func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.handle(w, r, payment.ChannelBBPayments)
}

// LegacyWebhookHandler serves the structured notification of the secondary
// payment network.
func (h *Handler) LegacyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.handle(w, r, payment.ChannelStructured)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, channel payment.Channel) {
	ctx := r.Context()
	log := logger.FromCtx(ctx).With(zap.String("channel", string(channel)))

	n, err := readNotification(w, r, channel)
	if err != nil {
		log.Warn("unreadable notification", zap.Error(err))
		http.Error(w, failureBody, http.StatusBadRequest)
		return
	}

	log.Info("payment notification received", zap.String("method", r.Method), zap.Int("fields", len(n.Fields)))

	res, err := h.Gateway.HandleNotification(ctx, n)
	if err != nil {
		status := StatusFor(err)
		log.Warn("payment notification failed", zap.Int("status", status), zap.Error(err))
		http.Error(w, failureBody, status)
		return
	}

	if r.Method == http.MethodGet && res != nil && res.RedirectURL != "" {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// readNotification collects query and form fields and keeps the raw payload
// for the notification log.
func readNotification(w http.ResponseWriter, r *http.Request, channel payment.Channel) (payment.Notification, error) {
	var raw []byte
	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBody))
		if err != nil {
			return payment.Notification{}, err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		raw = body
	}
	if len(raw) == 0 {
		raw = []byte(r.URL.RawQuery)
	}

	if err := r.ParseForm(); err != nil {
		return payment.Notification{}, err
	}

	return payment.Notification{Channel: channel, Fields: r.Form, Raw: raw}, nil
}

// StatusFor maps a notification error to the HTTP status returned to the
// payment party. Anything that is not 2xx/3xx means "not delivered".
func StatusFor(err error) int {
	switch {
	case errors.Is(err, payment.ErrEmptyPayload), errors.Is(err, payment.ErrCorrelationDecode):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrKeyMismatch):
		return http.StatusForbidden
	case errors.Is(err, payment.ErrConfirmationTransport):
		return http.StatusBadGateway
	case errors.Is(err, payment.ErrConfirmationRejected),
		errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, payment.ErrCurrencyMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

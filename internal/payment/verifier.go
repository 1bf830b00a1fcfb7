package payment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"bbpayments-be/internal/lock"
	"bbpayments-be/internal/logger"
	"bbpayments-be/internal/metrics"
	"bbpayments-be/internal/order"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Channel string

const (
	// ChannelBBPayments is the primary notification, correlated by user_key.
	ChannelBBPayments Channel = "bbpayments"
	// ChannelStructured is the legacy notification of the secondary payment
	// network, correlated by the custom and invoice fields.
	ChannelStructured Channel = "structured"
)

// Primary channel fields.
const (
	FieldUserKey       = "user_key"
	FieldDebitTotal    = "debit_total"
	FieldDebitCurrency = "debit_currency"
	FieldTransactionID = "transaction_id"
	FieldPayerEmail    = "payer_email"
	FieldPayerName     = "payer_name"
)

// Structured channel fields.
const (
	FieldCustom        = "custom"
	FieldInvoice       = "invoice"
	FieldPaymentStatus = "payment_status"
	FieldGross         = "mc_gross"
	FieldCurrency      = "mc_currency"
	FieldTxnID         = "txn_id"
	FieldFirstName     = "first_name"
	FieldLastName      = "last_name"

	PaymentStatusCompleted = "Completed"
)

const NoteCompleted = "IPN payment completed"

// Notification is one inbound payment notification. It is validated and
// discarded; only its effect on the order persists.
type Notification struct {
	Channel Channel
	Fields  url.Values
	Raw     []byte
}

type State string

const (
	StateReceived            State = "received"
	StateDecoded             State = "decoded"
	StateOrderLoaded         State = "order_loaded"
	StateConfirmationPending State = "confirmation_pending"
	StateVerified            State = "verified"
	StateRejected            State = "rejected"
	StateFinalized           State = "finalized"
	StateFlagged             State = "flagged"
	StateIgnored             State = "ignored"
)

type Reason string

const (
	ReasonNone                        Reason = ""
	ReasonEmptyPayload                Reason = "empty_payload"
	ReasonCorrelationDecodeFailed     Reason = "correlation_decode_failed"
	ReasonOrderNotFound               Reason = "order_not_found"
	ReasonKeyMismatch                 Reason = "key_mismatch"
	ReasonConfirmationTransportFailed Reason = "confirmation_transport_failed"
	ReasonConfirmationRejected        Reason = "confirmation_rejected"
	ReasonAmountMismatch              Reason = "amount_mismatch"
	ReasonCurrencyMismatch            Reason = "currency_mismatch"
	ReasonAlreadyFinalized            Reason = "already_finalized"
	ReasonInternal                    Reason = "internal_error"
)

// Result is the outcome of one notification. Trail lists every state the
// notification passed through, ending with State.
type Result struct {
	State       State
	Reason      Reason
	OrderID     int64
	RedirectURL string
	Trail       []State
}

// Accepted reports whether the payment party should treat the notification
// as delivered.
func (r *Result) Accepted() bool {
	return r != nil && (r.State == StateFinalized || r.State == StateIgnored)
}

func (r *Result) advance(s State) {
	r.State = s
	r.Trail = append(r.Trail, s)
}

// Verifier authenticates notifications and finalizes or flags the order
// they refer to. At most one notification completes a given order.
type Verifier struct {
	settings  Settings
	codec     OrderKeyCodec
	orders    order.Repository
	confirmer Confirmer
	locker    lock.Locker
	metrics   *metrics.Metrics
}

// NewVerifier wires a verifier. confirmer may be nil for the direct
// protocol; locker defaults to an in-process keyed mutex.
func NewVerifier(settings Settings, orders order.Repository, confirmer Confirmer, locker lock.Locker, m *metrics.Metrics) *Verifier {
	settings = settings.withDefaults()
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Verifier{
		settings:  settings,
		codec:     NewOrderKeyCodec(settings.Prefix, settings.InvoicePrefix),
		orders:    orders,
		confirmer: confirmer,
		locker:    locker,
		metrics:   m,
	}
}

// Verify runs a notification through the state machine. Rejections and
// flags come back as a Result together with an error matching one of the
// package sentinels. A duplicate of an already completed order is not an
// error.
func (v *Verifier) Verify(ctx context.Context, n Notification) (res *Result, err error) {
	res = &Result{}
	res.advance(StateReceived)

	ctx = logger.WithFields(ctx, zap.String("channel", string(n.Channel)))
	log := logger.FromCtx(ctx)

	defer func() {
		v.metrics.Notification(string(n.Channel), string(res.State), string(res.Reason))
		if err != nil {
			log.Warn("payment notification not accepted",
				zap.Int64("order_id", res.OrderID),
				zap.String("state", string(res.State)),
				zap.String("reason", string(res.Reason)),
				zap.ByteString("payload", n.Raw),
				zap.Error(err),
			)
		}
	}()

	if len(n.Fields) == 0 {
		return v.reject(res, ReasonEmptyPayload, ErrEmptyPayload)
	}

	cid, err := v.decode(n)
	if err != nil {
		return v.reject(res, ReasonCorrelationDecodeFailed, err)
	}
	res.advance(StateDecoded)

	o, err := v.lookup(ctx, cid)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return v.reject(res, ReasonOrderNotFound, err)
		}
		return v.reject(res, ReasonInternal, err)
	}
	res.OrderID = o.ID
	res.advance(StateOrderLoaded)

	ctx = logger.WithFields(ctx, zap.Int64("order_id", o.ID))
	log = logger.FromCtx(ctx)

	if cid.OrderKey == "" || subtle.ConstantTimeCompare([]byte(o.Key), []byte(cid.OrderKey)) != 1 {
		return v.reject(res, ReasonKeyMismatch, fmt.Errorf("%w: order %d", ErrKeyMismatch, o.ID))
	}
	if o.IsCompleted() {
		log.Info("order already completed, ignoring notification")
		return v.ignore(res, o), nil
	}

	release, err := v.locker.Acquire(ctx, "order:"+strconv.FormatInt(o.ID, 10))
	if err != nil {
		return v.reject(res, ReasonInternal, fmt.Errorf("acquire order lock: %w", err))
	}
	defer release()

	// Another notification may have finished while we waited for the lock.
	o, err = v.orders.GetByID(ctx, o.ID)
	if err != nil {
		return v.reject(res, ReasonInternal, fmt.Errorf("reload order: %w", err))
	}
	if o.IsCompleted() {
		log.Info("order completed concurrently, ignoring notification")
		return v.ignore(res, o), nil
	}

	res.advance(StateConfirmationPending)
	var details order.PaymentDetails
	switch n.Channel {
	case ChannelStructured:
		details, err = v.verifyStructured(ctx, res, o, n.Fields)
	default:
		details, err = v.verifyPrimary(ctx, res, o, n.Fields)
	}
	if err != nil {
		return res, err
	}
	if res.State == StateIgnored {
		return res, nil
	}
	res.advance(StateVerified)

	if err := v.orders.Complete(ctx, o.ID, details, NoteCompleted); err != nil {
		if errors.Is(err, order.ErrAlreadyCompleted) {
			return v.ignore(res, o), nil
		}
		return v.reject(res, ReasonInternal, fmt.Errorf("complete order: %w", err))
	}

	res.RedirectURL = expandURL(v.settings.ReceiptURL, o)
	res.advance(StateFinalized)
	log.Info("payment complete", zap.String("transaction_id", details.TransactionID))
	return res, nil
}

func (v *Verifier) decode(n Notification) (CorrelationID, error) {
	if n.Channel == ChannelStructured {
		return v.codec.DecodeStructured(n.Fields.Get(FieldCustom), n.Fields.Get(FieldInvoice))
	}
	return v.codec.Decode(n.Fields.Get(FieldUserKey))
}

// lookup finds the order by id, then by key when the id is unknown (the
// prefix may have changed since the request was issued).
func (v *Verifier) lookup(ctx context.Context, cid CorrelationID) (*order.Order, error) {
	o, err := v.orders.GetByID(ctx, cid.OrderID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, order.ErrOrderNotFound) {
		return nil, fmt.Errorf("load order %d: %w", cid.OrderID, err)
	}

	o, err = v.orders.GetByKey(ctx, cid.OrderKey)
	if errors.Is(err, order.ErrOrderNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, cid.OrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order by key: %w", err)
	}
	return o, nil
}

func (v *Verifier) verifyPrimary(ctx context.Context, res *Result, o *order.Order, fields url.Values) (order.PaymentDetails, error) {
	details := order.PaymentDetails{
		TransactionID: fields.Get(FieldTransactionID),
		PayerEmail:    fields.Get(FieldPayerEmail),
		PayerName:     fields.Get(FieldPayerName),
	}

	// Amount and currency must be vouched for either by the confirmation
	// echo or by the debit fields of the notification itself.
	echoChecked := false
	if v.settings.Protocol == ProtocolDirect {
		if fields.Get(FieldDebitTotal) == "" || fields.Get(FieldDebitCurrency) == "" {
			_, err := v.reject(res, ReasonConfirmationRejected,
				fmt.Errorf("%w: direct notification without %s/%s", ErrConfirmationRejected, FieldDebitTotal, FieldDebitCurrency))
			return details, err
		}
	} else {
		checked, err := v.confirm(ctx, res, o)
		if err != nil {
			return details, err
		}
		echoChecked = checked
	}

	if raw := fields.Get(FieldDebitTotal); raw != "" || !echoChecked {
		received, err := ParseMinorUnits(raw)
		if err != nil || !received.Equal(o.Total) {
			got := raw
			switch {
			case raw == "":
				got = "none"
			case err == nil:
				got = FormatAmount(received)
			}
			return details, v.flag(ctx, res, o, ReasonAmountMismatch, ErrAmountMismatch,
				fmt.Sprintf("Validation error: BB Payments amounts do not match (expected %s, received %s).", FormatAmount(o.Total), got))
		}
	}

	if raw := fields.Get(FieldDebitCurrency); raw != "" || !echoChecked {
		expected := CurrencyCode(orderCurrency(o, v.settings.StoreCurrency))
		received, err := parseCurrencyCode(raw)
		if err != nil || received != expected {
			got := raw
			if raw == "" {
				got = "none"
			}
			return details, v.flag(ctx, res, o, ReasonCurrencyMismatch, ErrCurrencyMismatch,
				fmt.Sprintf("Validation error: BB Payments currencies do not match (expected %d, received %s).", expected, got))
		}
	}
	return details, nil
}

func (v *Verifier) verifyStructured(ctx context.Context, res *Result, o *order.Order, fields url.Values) (order.PaymentDetails, error) {
	details := order.PaymentDetails{
		TransactionID: fields.Get(FieldTxnID),
		PayerEmail:    fields.Get(FieldPayerEmail),
		PayerName:     strings.TrimSpace(fields.Get(FieldFirstName) + " " + fields.Get(FieldLastName)),
	}

	if status := fields.Get(FieldPaymentStatus); !strings.EqualFold(status, PaymentStatusCompleted) {
		_, err := v.reject(res, ReasonConfirmationRejected, fmt.Errorf("%w: payment status %q", ErrConfirmationRejected, status))
		return details, err
	}

	raw := fields.Get(FieldGross)
	gross, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !gross.Equal(o.Total) {
		return details, v.flag(ctx, res, o, ReasonAmountMismatch, ErrAmountMismatch,
			fmt.Sprintf("Validation error: payment amounts do not match (expected %s, received %s).", FormatAmount(o.Total), raw))
	}

	expected := orderCurrency(o, v.settings.StoreCurrency)
	if got := fields.Get(FieldCurrency); !strings.EqualFold(strings.TrimSpace(got), expected) {
		return details, v.flag(ctx, res, o, ReasonCurrencyMismatch, ErrCurrencyMismatch,
			fmt.Sprintf("Validation error: payment currencies do not match (expected %s, received %s).", expected, got))
	}
	return details, nil
}

// confirm asks the payment party to vouch for the order's payment. It
// reports whether the echoed amount and currency were compared.
func (v *Verifier) confirm(ctx context.Context, res *Result, o *order.Order) (bool, error) {
	if v.confirmer == nil {
		_, err := v.reject(res, ReasonInternal, errors.New("no confirmer configured"))
		return false, err
	}

	req := ConfirmRequest{
		UserKey:      v.codec.Encode(o.ID, o.Key, false),
		Reference:    v.codec.Encode(o.ID, o.Key, true),
		Amount:       FormatAmount(o.Total),
		Currency:     orderCurrency(o, v.settings.StoreCurrency),
		SKU:          FindSKU(o.Items, v.settings.GenericSKU),
		Organization: v.settings.Organization,
	}

	timer := metrics.StartTimer()
	c, err := v.confirmer.Confirm(ctx, req)
	if err != nil {
		v.metrics.ConfirmDuration(string(v.settings.Protocol), "error", timer.Duration())
		if errors.Is(err, ErrConfirmationTransport) {
			_, err = v.reject(res, ReasonConfirmationTransportFailed, err)
			return false, err
		}
		_, err = v.reject(res, ReasonConfirmationRejected, err)
		return false, err
	}

	outcome := "success"
	if !c.Succeeded() {
		outcome = "rejected"
	}
	v.metrics.ConfirmDuration(string(v.settings.Protocol), outcome, timer.Duration())

	if !c.Succeeded() {
		_, err := v.reject(res, ReasonConfirmationRejected, fmt.Errorf("%w: status %q", ErrConfirmationRejected, c.Status))
		return false, err
	}
	if !v.settings.StrictEcho && v.settings.Protocol != ProtocolEncrypted {
		return false, nil
	}
	if err := checkEcho(req, c); err != nil {
		_, err = v.reject(res, ReasonConfirmationRejected, err)
		return false, err
	}
	return true, nil
}

// flag moves the order to on-hold with a note carrying expected and
// received values.
func (v *Verifier) flag(ctx context.Context, res *Result, o *order.Order, reason Reason, cause error, note string) error {
	res.Reason = reason
	res.advance(StateRejected)

	logger.FromCtx(ctx).Warn("payment mismatch, holding order", zap.String("reason", string(reason)), zap.String("note", note))

	if err := v.orders.Hold(ctx, o.ID, note); err != nil {
		if errors.Is(err, order.ErrAlreadyCompleted) {
			v.ignore(res, o)
			return nil
		}
		res.Reason = ReasonInternal
		return fmt.Errorf("hold order %d: %w", o.ID, err)
	}
	res.advance(StateFlagged)
	return fmt.Errorf("%w: %s", cause, note)
}

func (v *Verifier) reject(res *Result, reason Reason, err error) (*Result, error) {
	res.Reason = reason
	res.advance(StateRejected)
	return res, err
}

// ignore marks a duplicate. The customer is still sent to the receipt.
func (v *Verifier) ignore(res *Result, o *order.Order) *Result {
	res.Reason = ReasonAlreadyFinalized
	res.RedirectURL = expandURL(v.settings.ReceiptURL, o)
	res.advance(StateIgnored)
	return res
}

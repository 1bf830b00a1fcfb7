package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"bbpayments-be/internal/logger"
	"bbpayments-be/internal/order"

	"go.uber.org/zap"
)

// Outbound payment request field names.
const (
	ArgUserKey      = "UserKey"
	ArgGoodURL      = "GoodURL"
	ArgErrorURL     = "ErrorURL"
	ArgCancelURL    = "CancelURL"
	ArgName         = "Name"
	ArgPrice        = "Price"
	ArgCurrency     = "Currency"
	ArgEmail        = "Email"
	ArgPhone        = "Phone"
	ArgStreet       = "Street"
	ArgCity         = "City"
	ArgCountry      = "Country"
	ArgParticipants = "Participants"
	ArgSKU          = "SKU"
	ArgVAT          = "VAT"
	ArgInstallments = "Installments"
	ArgLanguage     = "Language"
	ArgReference    = "Reference"
	ArgOrganization = "Organization"
	ArgDetails      = "Details"
	ArgTestMode     = "test_mode"
)

type Arg struct {
	Key   string
	Value string
}

// RequestArgs is the ordered field mapping sent to the payment page. Order
// is kept so the generated URL is stable.
type RequestArgs []Arg

func (a RequestArgs) Get(key string) string {
	for _, kv := range a {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// Set replaces the value of an existing key or appends a new one.
func (a *RequestArgs) Set(key, value string) {
	for i := range *a {
		if (*a)[i].Key == key {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Arg{Key: key, Value: value})
}

// Encode query-encodes the args in insertion order.
func (a RequestArgs) Encode() string {
	var b strings.Builder
	for i, kv := range a {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

type RedirectResult struct {
	URL  string
	Args RequestArgs
}

type RequestBuilder struct {
	settings Settings
	codec    OrderKeyCodec
}

func NewRequestBuilder(settings Settings) *RequestBuilder {
	settings = settings.withDefaults()
	return &RequestBuilder{
		settings: settings,
		codec:    NewOrderKeyCodec(settings.Prefix, settings.InvoicePrefix),
	}
}

// Build assembles the payment request for an order. It has no side effects.
func (b *RequestBuilder) Build(o *order.Order) RequestArgs {
	s := b.settings
	lang := o.Locale
	if lang == "" {
		lang = s.DefaultLocale
	}

	args := RequestArgs{
		{ArgUserKey, b.codec.Encode(o.ID, o.Key, false)},
		{ArgGoodURL, expandURL(s.GoodURL, o)},
		{ArgErrorURL, expandURL(s.CancelURL, o)},
		{ArgCancelURL, expandURL(s.CancelURL, o)},
		{ArgName, o.Billing.FullName()},
		{ArgPrice, FormatAmount(o.Total)},
		{ArgCurrency, b.currencyFor(o)},
		{ArgEmail, o.Billing.Email},
		{ArgPhone, o.Billing.Phone},
		{ArgStreet, o.Billing.FormattedAddress()},
		{ArgCity, o.Billing.City},
		{ArgCountry, o.Billing.Country},
		{ArgParticipants, "1"},
		{ArgSKU, FindSKU(o.Items, s.GenericSKU)},
		{ArgVAT, "N"},
		{ArgInstallments, strconv.Itoa(s.Installments)},
		{ArgLanguage, ResolveLocale(lang)},
		{ArgReference, b.codec.Encode(o.ID, o.Key, true)},
		{ArgOrganization, s.Organization},
	}
	args.Set(ArgDetails, ItemDetails(o.Items))
	return args
}

// ProcessPayment builds the redirect URL for the hosted payment page. No
// network call is made; the payment happens on the redirect target.
func (b *RequestBuilder) ProcessPayment(ctx context.Context, o *order.Order) (*RedirectResult, error) {
	log := logger.FromCtx(ctx).With(zap.Int64("order_id", o.ID))

	currency := b.currencyFor(o)
	if !b.settings.IsSupportedCurrency(currency) {
		log.Warn("gateway disabled for currency", zap.String("currency", currency))
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	args := b.Build(o)
	if b.settings.TestMode {
		args.Set(ArgTestMode, "1")
	}

	sep := "?"
	if strings.Contains(b.settings.LiveURL, "?") {
		sep = "&"
	}
	target := b.settings.LiveURL + sep + args.Encode()

	log.Info("payment redirect built",
		zap.String("reference", args.Get(ArgReference)),
		zap.String("price", args.Get(ArgPrice)),
		zap.String("currency", currency),
		zap.Bool("test_mode", b.settings.TestMode),
	)
	return &RedirectResult{URL: target, Args: args}, nil
}

func (b *RequestBuilder) currencyFor(o *order.Order) string {
	return orderCurrency(o, b.settings.StoreCurrency)
}

// orderCurrency is the order's own currency, falling back to the store's.
func orderCurrency(o *order.Order, storeCurrency string) string {
	if c := strings.ToUpper(strings.TrimSpace(o.Currency)); c != "" {
		return c
	}
	return storeCurrency
}

// FindSKU returns the first non-empty item SKU, else the generic SKU. Only
// one SKU is sent, so multi-item carts collapse to the first match.
func FindSKU(items []order.OrderItem, genericSKU string) string {
	for _, it := range items {
		if it.SKU != "" {
			return it.SKU
		}
	}
	return genericSKU
}

// ItemDetails renders `"name" x qty` for every item with a quantity,
// joined by ", ".
func ItemDetails(items []order.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		parts = append(parts, `"`+it.Name+`" x `+strconv.Itoa(it.Quantity))
	}
	return strings.Join(parts, ", ")
}

func expandURL(tmpl string, o *order.Order) string {
	if tmpl == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{order_id}", strconv.FormatInt(o.ID, 10),
		"{order_key}", url.QueryEscape(o.Key),
	)
	return r.Replace(tmpl)
}

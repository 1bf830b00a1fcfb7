package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Confirmation request and response field names.
const (
	ConfirmStatusSuccess = "SUCCESS"

	fieldStatus    = "status"
	fieldInvoiceID = "invoiceID"
	fieldAmount    = "amount"
	fieldCurrency  = "currency"
)

// ConfirmRequest carries the values the payment party is asked to confirm.
type ConfirmRequest struct {
	UserKey      string
	Reference    string
	Amount       string
	Currency     string
	SKU          string
	Organization string
}

func (r ConfirmRequest) args() RequestArgs {
	return RequestArgs{
		{ArgUserKey, r.UserKey},
		{ArgPrice, r.Amount},
		{ArgCurrency, r.Currency},
		{ArgSKU, r.SKU},
		{ArgReference, r.Reference},
		{ArgOrganization, r.Organization},
	}
}

// Confirmation is the parsed answer of the confirmation endpoint.
type Confirmation struct {
	Status string
	Fields map[string]string
}

func (c *Confirmation) Succeeded() bool {
	return c != nil && c.Status == ConfirmStatusSuccess
}

// Confirmer asks the payment party whether a notification is genuine.
// Transport problems are returned wrapped in ErrConfirmationTransport.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error)
}

// ParseResponseBody parses the "&" delimited key=value answer. Pairs
// without "=" get an empty value, later keys override earlier ones and
// nothing is unescaped.
func ParseResponseBody(body string) map[string]string {
	fields := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(body), "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		fields[k] = v
	}
	return fields
}

func newConfirmation(fields map[string]string) *Confirmation {
	return &Confirmation{Status: fields[fieldStatus], Fields: fields}
}

// checkEcho verifies that the echoed invoice id, amount and currency match
// what was sent.
func checkEcho(req ConfirmRequest, c *Confirmation) error {
	if got := c.Fields[fieldInvoiceID]; got != req.UserKey {
		return fmt.Errorf("%w: invoiceID %q, sent %q", ErrConfirmationRejected, got, req.UserKey)
	}

	sent, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fmt.Errorf("%w: sent amount %q: %v", ErrConfirmationRejected, req.Amount, err)
	}
	got, err := decimal.NewFromString(c.Fields[fieldAmount])
	if err != nil || !got.Equal(sent) {
		return fmt.Errorf("%w: amount %q, sent %q", ErrConfirmationRejected, c.Fields[fieldAmount], req.Amount)
	}

	if !strings.EqualFold(c.Fields[fieldCurrency], req.Currency) {
		return fmt.Errorf("%w: currency %q, sent %q", ErrConfirmationRejected, c.Fields[fieldCurrency], req.Currency)
	}
	return nil
}

package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Protocol string

const (
	// ProtocolRoundTrip confirms a notification with a plain GET to the
	// confirmation endpoint.
	ProtocolRoundTrip Protocol = "roundtrip"
	// ProtocolEncrypted confirms with RSA encrypted fields (legacy).
	ProtocolEncrypted Protocol = "encrypted"
	// ProtocolDirect trusts the pushed amount and currency codes once the
	// order key matched. No outbound call.
	ProtocolDirect Protocol = "direct"
)

const (
	DefaultPrefix         = "ext-"
	DefaultOrganization   = "ben2"
	DefaultInstallments   = 3
	DefaultConfirmTimeout = 30 * time.Second
)

var DefaultSupportedCurrencies = []string{"USD", "ILS", "EUR"}

// Settings is the immutable merchant configuration of the gateway. It is
// passed by value; nothing in this package mutates it after construction.
type Settings struct {
	LiveURL             string
	ConfirmURL          string
	Organization        string
	Prefix              string
	InvoicePrefix       string
	GenericSKU          string
	TestMode            bool
	SupportedCurrencies []string
	StoreCurrency       string
	DefaultLocale       string
	Installments        int

	// URL templates; {order_id} and {order_key} are substituted.
	GoodURL    string
	CancelURL  string
	ReceiptURL string

	Protocol     Protocol
	StrictEcho   bool
	PublicKeyPEM string

	ConfirmTimeout time.Duration
	// InsecureSkipVerify disables TLS verification of the confirmation
	// endpoint. Legacy deployments only; it is logged as a warning.
	InsecureSkipVerify bool
}

func (s Settings) withDefaults() Settings {
	if s.Organization == "" {
		s.Organization = DefaultOrganization
	}
	if s.Protocol == "" {
		s.Protocol = ProtocolRoundTrip
	}
	if s.Installments <= 0 {
		s.Installments = DefaultInstallments
	}
	if s.ConfirmTimeout <= 0 {
		s.ConfirmTimeout = DefaultConfirmTimeout
	}
	if len(s.SupportedCurrencies) == 0 {
		s.SupportedCurrencies = DefaultSupportedCurrencies
	}
	s.StoreCurrency = strings.ToUpper(strings.TrimSpace(s.StoreCurrency))
	return s
}

// Validate reports the first missing required setting.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.LiveURL) == "" {
		return errors.New("payment: live URL is required")
	}
	switch s.Protocol {
	case ProtocolRoundTrip, ProtocolEncrypted:
		if strings.TrimSpace(s.ConfirmURL) == "" {
			return fmt.Errorf("payment: confirmation URL is required for protocol %q", s.Protocol)
		}
	case ProtocolDirect:
	default:
		return fmt.Errorf("payment: unknown protocol %q", s.Protocol)
	}
	if s.Protocol == ProtocolEncrypted && strings.TrimSpace(s.PublicKeyPEM) == "" {
		return errors.New("payment: public key is required for the encrypted protocol")
	}
	return nil
}

// IsSupportedCurrency reports whether the gateway may be offered for the currency.
func (s Settings) IsSupportedCurrency(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, c := range s.SupportedCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

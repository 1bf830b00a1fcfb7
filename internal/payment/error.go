package payment

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPayload          = errors.New("empty notification payload")
	ErrCorrelationDecode     = errors.New("correlation id could not be decoded")
	ErrOrderNotFound         = errors.New("order not found for notification")
	ErrKeyMismatch           = errors.New("order key does not match")
	ErrConfirmationTransport = errors.New("confirmation request failed")
	ErrConfirmationRejected  = errors.New("confirmation rejected")
	ErrAmountMismatch        = errors.New("amounts do not match")
	ErrCurrencyMismatch      = errors.New("currencies do not match")
	ErrUnsupportedCurrency   = errors.New("currency not supported by gateway")
)

// DecodeError describes a correlation identifier that does not identify an
// order. It matches ErrCorrelationDecode with errors.Is.
type DecodeError struct {
	Input  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode correlation id %q: %s", e.Input, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrCorrelationDecode
}

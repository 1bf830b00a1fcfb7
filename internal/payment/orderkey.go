package payment

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CorrelationID is the order identity carried through the payment party.
type CorrelationID struct {
	OrderID  int64
	OrderKey string
}

// OrderKeyCodec encodes and decodes correlation identifiers.
//
// Long form:  "{prefix}-{order_key}-{order_id}"  (UserKey, inbound user_key)
// Short form: "{prefix}{order_id}"               (Reference)
//
// Decoding the delimited forms is positional from the end and does not look
// at the prefix. An order key that itself contains "-" therefore decodes to
// the wrong key and fails the key check downstream. New integrations should
// use the structured form (DecodeStructured) instead.
type OrderKeyCodec struct {
	Prefix        string
	InvoicePrefix string
}

func NewOrderKeyCodec(prefix, invoicePrefix string) OrderKeyCodec {
	return OrderKeyCodec{Prefix: prefix, InvoicePrefix: invoicePrefix}
}

func (c OrderKeyCodec) Encode(orderID int64, orderKey string, short bool) string {
	id := strconv.FormatInt(orderID, 10)
	if short {
		return c.Prefix + id
	}
	return c.Prefix + "-" + orderKey + "-" + id
}

// Decode splits raw on "-": the last token is the order id and the one
// before it the order key. The key is empty when raw has a single token.
// For the short form the "key" is whatever precedes the id, typically the
// prefix itself.
func (c OrderKeyCodec) Decode(raw string) (CorrelationID, error) {
	if raw == "" {
		return CorrelationID{}, &DecodeError{Input: raw, Reason: "empty"}
	}

	parts := strings.Split(raw, "-")
	id, err := parseOrderID(parts[len(parts)-1])
	if err != nil {
		return CorrelationID{}, &DecodeError{Input: raw, Reason: err.Error()}
	}

	out := CorrelationID{OrderID: id}
	if len(parts) >= 2 {
		out.OrderKey = parts[len(parts)-2]
	}
	return out, nil
}

// DecodeStructured decodes the custom field of the secondary notification
// channel. invoice is the adjacent invoice field of the same notification.
//
//	numeric custom        -> order id = custom, key = invoice
//	string custom         -> order id = invoice without InvoicePrefix, key = custom
//	[id, "key"]           -> unpacked
//	{"order_id", "order_key"} -> unpacked
func (c OrderKeyCodec) DecodeStructured(custom, invoice string) (CorrelationID, error) {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return CorrelationID{}, &DecodeError{Input: custom, Reason: "empty"}
	}

	if id, err := parseOrderID(custom); err == nil {
		return CorrelationID{OrderID: id, OrderKey: invoice}, nil
	}

	switch custom[0] {
	case '[':
		return decodePair(custom)
	case '{':
		return decodeObject(custom)
	case '"':
		var s string
		if err := json.Unmarshal([]byte(custom), &s); err != nil {
			return CorrelationID{}, &DecodeError{Input: custom, Reason: "malformed string"}
		}
		custom = s
	}

	id, err := parseOrderID(strings.TrimPrefix(invoice, c.InvoicePrefix))
	if err != nil {
		return CorrelationID{}, &DecodeError{Input: invoice, Reason: "invoice: " + err.Error()}
	}
	return CorrelationID{OrderID: id, OrderKey: custom}, nil
}

func decodePair(raw string) (CorrelationID, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &pair); err != nil || len(pair) != 2 {
		return CorrelationID{}, &DecodeError{Input: raw, Reason: "expected [order_id, order_key]"}
	}

	id, err := parseOrderID(strings.Trim(string(pair[0]), `"`))
	if err != nil {
		return CorrelationID{}, &DecodeError{Input: raw, Reason: err.Error()}
	}
	var key string
	if err := json.Unmarshal(pair[1], &key); err != nil {
		return CorrelationID{}, &DecodeError{Input: raw, Reason: "order key must be a string"}
	}
	return CorrelationID{OrderID: id, OrderKey: key}, nil
}

func decodeObject(raw string) (CorrelationID, error) {
	var obj struct {
		OrderID  json.Number `json:"order_id"`
		OrderKey string      `json:"order_key"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return CorrelationID{}, &DecodeError{Input: raw, Reason: "malformed object"}
	}
	id, err := parseOrderID(obj.OrderID.String())
	if err != nil {
		return CorrelationID{}, &DecodeError{Input: raw, Reason: err.Error()}
	}
	return CorrelationID{OrderID: id, OrderKey: obj.OrderKey}, nil
}

type orderIDError string

func (e orderIDError) Error() string { return string(e) }

func parseOrderID(token string) (int64, error) {
	if token == "" {
		return 0, orderIDError("missing order id")
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, orderIDError("order id is not numeric")
	}
	if id <= 0 {
		return 0, orderIDError("order id must be positive")
	}
	return id, nil
}

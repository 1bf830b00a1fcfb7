package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderKeyCodec_Encode(t *testing.T) {
	codec := NewOrderKeyCodec("ext-", "")

	assert.Equal(t, "ext--abc123-1001", codec.Encode(1001, "abc123", false))
	assert.Equal(t, "ext-1001", codec.Encode(1001, "abc123", true))
}

func TestOrderKeyCodec_RoundTrip(t *testing.T) {
	cases := []struct {
		prefix string
		id     int64
		key    string
	}{
		{"ext-", 1001, "abc123"},
		{"shop", 1, "wc_order_5f1a2b"},
		{"", 987654321, "K"},
		{"a-b-c", 42, "zzz"},
	}

	for _, tc := range cases {
		t.Run(tc.prefix+tc.key, func(t *testing.T) {
			codec := NewOrderKeyCodec(tc.prefix, "")

			cid, err := codec.Decode(codec.Encode(tc.id, tc.key, false))
			require.NoError(t, err)
			assert.Equal(t, tc.id, cid.OrderID)
			assert.Equal(t, tc.key, cid.OrderKey)
		})
	}
}

func TestOrderKeyCodec_RoundTripShort(t *testing.T) {
	for _, prefix := range []string{"ext-", "", "a-b-"} {
		t.Run(prefix, func(t *testing.T) {
			codec := NewOrderKeyCodec(prefix, "")

			cid, err := codec.Decode(codec.Encode(1001, "abc123", true))
			require.NoError(t, err)
			assert.Equal(t, int64(1001), cid.OrderID)
			assert.NotEqual(t, "abc123", cid.OrderKey)
		})
	}

	t.Run("PrefixWithoutDelimiter", func(t *testing.T) {
		// "shop1001" carries no delimiter before the id.
		_, err := NewOrderKeyCodec("shop", "").Decode("shop1001")
		assert.ErrorIs(t, err, ErrCorrelationDecode)
	})
}

func TestOrderKeyCodec_Decode(t *testing.T) {
	codec := NewOrderKeyCodec("ext-", "")

	t.Run("ShortFormYieldsPrefixAsKey", func(t *testing.T) {
		cid, err := codec.Decode("ext-1001")
		require.NoError(t, err)
		assert.Equal(t, int64(1001), cid.OrderID)
		assert.Equal(t, "ext", cid.OrderKey)
	})

	t.Run("BareID", func(t *testing.T) {
		cid, err := codec.Decode("1001")
		require.NoError(t, err)
		assert.Equal(t, int64(1001), cid.OrderID)
		assert.Empty(t, cid.OrderKey)
	})

	t.Run("KeyContainingDelimiter", func(t *testing.T) {
		cid, err := codec.Decode(codec.Encode(7, "ab-cd", false))
		require.NoError(t, err)
		assert.Equal(t, int64(7), cid.OrderID)
		assert.Equal(t, "cd", cid.OrderKey)
	})

	for _, raw := range []string{"", "ext-", "ext--abc-", "ext--abc-x12", "ext--abc-0", "ext--abc-1.5"} {
		t.Run("Malformed "+raw, func(t *testing.T) {
			_, err := codec.Decode(raw)
			assert.ErrorIs(t, err, ErrCorrelationDecode)

			var de *DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}
}

func TestOrderKeyCodec_DecodeStructured(t *testing.T) {
	codec := NewOrderKeyCodec("ext-", "WC-")

	cases := []struct {
		name    string
		custom  string
		invoice string
		wantID  int64
		wantKey string
	}{
		{"Numeric", "1001", "abc123", 1001, "abc123"},
		{"String", "abc123", "WC-1001", 1001, "abc123"},
		{"JSONString", `"abc123"`, "WC-1001", 1001, "abc123"},
		{"Pair", `[1001,"abc123"]`, "", 1001, "abc123"},
		{"PairQuotedID", `["1001","abc123"]`, "", 1001, "abc123"},
		{"Object", `{"order_id":1001,"order_key":"abc123"}`, "", 1001, "abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cid, err := codec.DecodeStructured(tc.custom, tc.invoice)
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, cid.OrderID)
			assert.Equal(t, tc.wantKey, cid.OrderKey)
		})
	}

	malformed := []struct {
		name, custom, invoice string
	}{
		{"Empty", "", "WC-1"},
		{"StringWithBadInvoice", "abc123", "WC-x"},
		{"ShortPair", `[1001]`, ""},
		{"PairNonStringKey", `[1001, 5]`, ""},
		{"ObjectZeroID", `{"order_id":0,"order_key":"k"}`, ""},
		{"BrokenJSON", `{"order_id":`, ""},
	}
	for _, tc := range malformed {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.DecodeStructured(tc.custom, tc.invoice)
			assert.ErrorIs(t, err, ErrCorrelationDecode)
		})
	}
}

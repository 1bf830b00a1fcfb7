package payment

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoundTripper allows us to mock the HTTP response
type MockRoundTripper func(req *http.Request) (*http.Response, error)

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func sampleConfirmRequest() ConfirmRequest {
	return ConfirmRequest{
		UserKey:      "ext--abc123-1001",
		Reference:    "ext-1001",
		Amount:       "49.99",
		Currency:     "USD",
		SKU:          "BK-42",
		Organization: "ben2",
	}
}

func TestParseResponseBody(t *testing.T) {
	t.Run("Regular", func(t *testing.T) {
		f := ParseResponseBody("status=SUCCESS&invoiceID=ext--abc-1&amount=49.99")
		assert.Equal(t, "SUCCESS", f["status"])
		assert.Equal(t, "ext--abc-1", f["invoiceID"])
		assert.Equal(t, "49.99", f["amount"])
	})

	t.Run("Defensive", func(t *testing.T) {
		f := ParseResponseBody("\nflag&&status=FAIL&status=SUCCESS&note=a=b\n")
		assert.Equal(t, "", f["flag"])
		assert.Equal(t, "SUCCESS", f["status"])
		assert.Equal(t, "a=b", f["note"])
		_, present := f["currency"]
		assert.False(t, present)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, ParseResponseBody(""))
		assert.False(t, newConfirmation(ParseResponseBody("")).Succeeded())
	})
}

func TestCheckEcho(t *testing.T) {
	req := sampleConfirmRequest()
	conf := func(body string) *Confirmation { return newConfirmation(ParseResponseBody(body)) }

	assert.NoError(t, checkEcho(req, conf("status=SUCCESS&invoiceID=ext--abc123-1001&amount=49.990&currency=usd")))
	assert.ErrorIs(t, checkEcho(req, conf("status=SUCCESS&invoiceID=ext--other-1001&amount=49.99&currency=USD")), ErrConfirmationRejected)
	assert.ErrorIs(t, checkEcho(req, conf("status=SUCCESS&invoiceID=ext--abc123-1001&amount=40.00&currency=USD")), ErrConfirmationRejected)
	assert.ErrorIs(t, checkEcho(req, conf("status=SUCCESS&invoiceID=ext--abc123-1001&currency=USD")), ErrConfirmationRejected)
	assert.ErrorIs(t, checkEcho(req, conf("status=SUCCESS&invoiceID=ext--abc123-1001&amount=49.99&currency=EUR")), ErrConfirmationRejected)
}

func TestRoundTripConfirmer(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		client := &http.Client{Transport: MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodGet, req.Method)
			q := req.URL.Query()
			assert.Equal(t, "ext--abc123-1001", q.Get("UserKey"))
			assert.Equal(t, "49.99", q.Get("Price"))
			assert.Equal(t, "USD", q.Get("Currency"))
			assert.Equal(t, "BK-42", q.Get("SKU"))
			assert.Equal(t, "ext-1001", q.Get("Reference"))
			assert.Equal(t, "ben2", q.Get("Organization"))
			return textResponse(http.StatusOK, "status=SUCCESS&invoiceID=ext--abc123-1001"), nil
		})}

		c, err := NewRoundTripConfirmer("https://pay.example.com/confirm", client).Confirm(ctx, sampleConfirmRequest())
		require.NoError(t, err)
		assert.True(t, c.Succeeded())
		assert.Equal(t, "ext--abc123-1001", c.Fields["invoiceID"])
	})

	t.Run("ExistingQuery", func(t *testing.T) {
		client := &http.Client{Transport: MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "7", req.URL.Query().Get("site"))
			assert.Equal(t, "ben2", req.URL.Query().Get("Organization"))
			return textResponse(http.StatusOK, "status=SUCCESS"), nil
		})}

		_, err := NewRoundTripConfirmer("https://pay.example.com/confirm?site=7", client).Confirm(ctx, sampleConfirmRequest())
		require.NoError(t, err)
	})

	t.Run("Non2xx", func(t *testing.T) {
		client := &http.Client{Transport: MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			return textResponse(http.StatusInternalServerError, "status=SUCCESS"), nil
		})}

		_, err := NewRoundTripConfirmer("https://pay.example.com/confirm", client).Confirm(ctx, sampleConfirmRequest())
		assert.ErrorIs(t, err, ErrConfirmationTransport)
	})

	t.Run("TransportError", func(t *testing.T) {
		client := &http.Client{Transport: MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		})}

		_, err := NewRoundTripConfirmer("https://pay.example.com/confirm", client).Confirm(ctx, sampleConfirmRequest())
		assert.ErrorIs(t, err, ErrConfirmationTransport)
	})

	t.Run("Timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer srv.Close()

		client := &http.Client{Timeout: 50 * time.Millisecond}
		_, err := NewRoundTripConfirmer(srv.URL, client).Confirm(ctx, sampleConfirmRequest())
		assert.ErrorIs(t, err, ErrConfirmationTransport)
	})

	t.Run("Rejected", func(t *testing.T) {
		client := &http.Client{Transport: MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			return textResponse(http.StatusOK, "status=FAILURE"), nil
		})}

		c, err := NewRoundTripConfirmer("https://pay.example.com/confirm", client).Confirm(ctx, sampleConfirmRequest())
		require.NoError(t, err)
		assert.False(t, c.Succeeded())
		assert.Equal(t, "FAILURE", c.Status)
	})
}

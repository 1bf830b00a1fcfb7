package main

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"bbpayments-be/internal/config"
	"bbpayments-be/internal/lock"
	"bbpayments-be/internal/order"
	"bbpayments-be/internal/payment"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(confirmURL string) *config.Config {
	return &config.Config{
		AppPort:     "8080",
		AppEnv:      "test",
		StoreDriver: config.StoreDriverMemory,
		Gateway: config.GatewayConfig{
			LiveURL:             "https://pay.example.com/external",
			ConfirmURL:          confirmURL,
			Prefix:              "ext-",
			SupportedCurrencies: []string{"USD", "ILS"},
			StoreCurrency:       "USD",
			Protocol:            string(payment.ProtocolRoundTrip),
			ReceiptURL:          "https://shop.example.com/receipt/{order_id}",
		},
	}
}

func memoryDeps(orders *order.MemoryRepository) deps {
	return deps{
		Orders:        orders,
		Notifications: payment.NewMemoryLog(),
		Locker:        lock.NewKeyedMutex(),
	}
}

func pendingOrder() *order.Order {
	return &order.Order{
		ID:       1001,
		Key:      "abc123",
		Total:    decimal.RequireFromString("49.99"),
		Currency: "USD",
		Status:   order.StatusPending,
		Items:    []order.OrderItem{{Name: "Zohar", Quantity: 1}},
	}
}

func TestNewServer(t *testing.T) {
	orders := order.NewMemoryRepository()
	orders.Put(pendingOrder())

	handler, err := newServer(testConfig("https://pay.example.com/confirm"), memoryDeps(orders))
	require.NoError(t, err)

	t.Run("Health Check", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "OK")
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	})

	t.Run("Checkout redirects to the payment page", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout/1001?key=abc123", nil))

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "https://pay.example.com/external?"))
	})

	t.Run("Checkout unknown order", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout/42?key=abc123", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Empty notification", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook/bbpayments", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Legacy channel is POST only", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook/bbpayments/legacy", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "bbpayments_redirects_total")
	})
}

func TestNewServer_InvalidGateway(t *testing.T) {
	cfg := testConfig("")

	_, err := newServer(cfg, memoryDeps(order.NewMemoryRepository()))
	assert.Error(t, err)
}

func TestNewServer_NotificationCompletesOrder(t *testing.T) {
	var confirmQuery url.Values
	party := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		confirmQuery = r.URL.Query()
		_, _ = w.Write([]byte("status=SUCCESS&invoiceID=INV-1"))
	}))
	defer party.Close()

	orders := order.NewMemoryRepository()
	orders.Put(pendingOrder())

	handler, err := newServer(testConfig(party.URL), memoryDeps(orders))
	require.NoError(t, err)

	form := url.Values{
		payment.FieldUserKey:       {"ext--abc123-1001"},
		payment.FieldTransactionID: {"tx-77"},
		payment.FieldDebitTotal:    {"4999"},
		payment.FieldDebitCurrency: {"2"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/bbpayments", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, confirmQuery)
	assert.Equal(t, "ext--abc123-1001", confirmQuery.Get(payment.ArgUserKey))

	o, err := orders.GetByID(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, o.Status)
}

func TestNewServer_NotificationWithoutAmountIsHeld(t *testing.T) {
	party := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("status=SUCCESS&amount=1.00&currency=EUR"))
	}))
	defer party.Close()

	orders := order.NewMemoryRepository()
	orders.Put(pendingOrder())

	handler, err := newServer(testConfig(party.URL), memoryDeps(orders))
	require.NoError(t, err)

	form := url.Values{payment.FieldUserKey: {"ext--abc123-1001"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/bbpayments", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)

	o, err := orders.GetByID(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOnHold, o.Status)
}

func TestSetupRouter(t *testing.T) {
	cfg := testConfig("https://pay.example.com/confirm")
	handler, err := newServer(cfg, memoryDeps(order.NewMemoryRepository()))
	require.NoError(t, err)

	t.Run("Unknown path", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/query", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Checkout only answers GET", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/1001", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestBuildDeps(t *testing.T) {
	t.Run("Memory store", func(t *testing.T) {
		d, cleanup, err := buildDeps(context.Background(), testConfig(""))
		require.NoError(t, err)
		defer cleanup()

		assert.IsType(t, &order.MemoryRepository{}, d.Orders)
		assert.IsType(t, &payment.MemoryLog{}, d.Notifications)
		assert.IsType(t, &lock.KeyedMutex{}, d.Locker)
		assert.NotNil(t, d.Registry)
		assert.NotNil(t, d.Limiter)
	})

	t.Run("Postgres store", func(t *testing.T) {
		database, mock, err := sqlmock.New()
		require.NoError(t, err)
		mock.ExpectClose()

		origInitDB := initDBFunc
		defer func() { initDBFunc = origInitDB }()
		initDBFunc = func(cfg *config.Config) *sql.DB { return database }

		cfg := testConfig("")
		cfg.StoreDriver = config.StoreDriverPostgres

		d, cleanup, err := buildDeps(context.Background(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, d.Orders)
		assert.NotNil(t, d.Notifications)

		cleanup()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unreachable redis", func(t *testing.T) {
		cfg := testConfig("")
		cfg.RedisAddr = "127.0.0.1:1"

		_, _, err := buildDeps(context.Background(), cfg)
		assert.ErrorContains(t, err, "redis unavailable")
	})
}

func TestRun(t *testing.T) {
	origStartServer := startServerFunc
	defer func() { startServerFunc = origStartServer }()

	var gotAddr string
	startServerFunc = func(addr string, handler http.Handler) error {
		gotAddr = addr
		assert.NotNil(t, handler)
		return nil
	}

	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "")

	assert.NoError(t, run())
	assert.Equal(t, ":9090", gotAddr)
}

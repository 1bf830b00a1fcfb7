package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderColumns = []string{
	"id", "order_key", "total", "currency", "status", "locale",
	"billing_first_name", "billing_last_name", "billing_email", "billing_phone",
	"billing_address_1", "billing_address_2", "billing_city", "billing_postcode", "billing_country",
	"transaction_id", "payer_email", "payer_name", "created_at", "updated_at",
}

func newOrderRow(id int64, key, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orderColumns).AddRow(
		id, key, "49.99", "USD", status, "he_IL",
		"Dana", "Levi", "dana@example.com", "050-1234567",
		"1 Herzl St", "", "Tel Aviv", "6100000", "IL",
		"", "", "", now, now,
	)
}

func TestRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, order_key, .* FROM orders\s+WHERE id = \$1`).
			WithArgs(int64(1001)).
			WillReturnRows(newOrderRow(1001, "abc123", "pending"))

		mock.ExpectQuery(`SELECT name, quantity, sku\s+FROM order_items`).
			WithArgs(int64(1001)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "quantity", "sku"}).
				AddRow("Book A", 1, "").
				AddRow("Book B", 2, "BK-42"))

		o, err := repo.GetByID(ctx, 1001)
		require.NoError(t, err)
		assert.Equal(t, int64(1001), o.ID)
		assert.Equal(t, "abc123", o.Key)
		assert.True(t, decimal.RequireFromString("49.99").Equal(o.Total))
		assert.Equal(t, StatusPending, o.Status)
		assert.Equal(t, "Dana Levi", o.Billing.FullName())
		require.Len(t, o.Items, 2)
		assert.Equal(t, "BK-42", o.Items[1].SKU)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, order_key, .* FROM orders`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(orderColumns))

		_, err := repo.GetByID(ctx, 7)
		assert.ErrorIs(t, err, ErrOrderNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, order_key, .* FROM orders`).
			WithArgs(int64(8)).
			WillReturnError(errors.New("db down"))

		_, err := repo.GetByID(ctx, 8)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestRepository_GetByKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`FROM orders\s+WHERE order_key = \$1`).
			WithArgs("abc123").
			WillReturnRows(newOrderRow(1001, "abc123", "pending"))
		mock.ExpectQuery(`FROM order_items`).
			WithArgs(int64(1001)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "quantity", "sku"}))

		o, err := repo.GetByKey(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, int64(1001), o.ID)
		assert.Empty(t, o.Items)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := repo.GetByKey(ctx, "")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Complete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()
	details := PaymentDetails{TransactionID: "tx-1", PayerEmail: "dana@example.com", PayerName: "Dana Levi"}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders\s+SET status = \$2`).
			WithArgs(int64(1001), "completed", "tx-1", "dana@example.com", "Dana Levi").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_notes`).
			WithArgs(int64(1001), "IPN payment completed").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := repo.Complete(ctx, 1001, details, "IPN payment completed")
		assert.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyCompleted", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders`).
			WithArgs(int64(1001), "completed", "tx-1", "dana@example.com", "Dana Levi").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.Complete(ctx, 1001, details, "IPN payment completed")
		assert.ErrorIs(t, err, ErrAlreadyCompleted)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpdateError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders`).WillReturnError(errors.New("deadlock"))
		mock.ExpectRollback()

		err := repo.Complete(ctx, 1001, details, "note")
		assert.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_Hold(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders\s+SET status = \$2`).
			WithArgs(int64(1001), "on-hold", "completed").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_notes`).
			WithArgs(int64(1001), "amounts do not match").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.Hold(ctx, 1001, "amounts do not match"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CompletedOrderIsNotHeld", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.Hold(ctx, 1001, "late mismatch"), ErrAlreadyCompleted)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

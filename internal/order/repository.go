package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bbpayments-be/internal/logger"

	"go.uber.org/zap"
)

// Repository is the merchant order store. The payment flow only reads orders
// and moves them into completed or on-hold; it never creates or deletes them.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByKey(ctx context.Context, key string) (*Order, error)
	Complete(ctx context.Context, id int64, details PaymentDetails, note string) error
	Hold(ctx context.Context, id int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const selectOrder = `
	SELECT id, order_key, total, currency, status, locale,
		billing_first_name, billing_last_name, billing_email, billing_phone,
		billing_address_1, billing_address_2, billing_city, billing_postcode, billing_country,
		transaction_id, payer_email, payer_name, created_at, updated_at
	FROM orders
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.Key, &o.Total, &o.Currency, &o.Status, &o.Locale,
		&o.Billing.FirstName, &o.Billing.LastName, &o.Billing.Email, &o.Billing.Phone,
		&o.Billing.Address1, &o.Billing.Address2, &o.Billing.City, &o.Billing.Postcode, &o.Billing.Country,
		&o.TransactionID, &o.PayerEmail, &o.PayerName, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) GetByKey(ctx context.Context, key string) (*Order, error) {
	if key == "" {
		return nil, ErrOrderNotFound
	}
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE order_key = $1`, key))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, quantity, sku
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.Name, &it.Quantity, &it.SKU); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

// Complete moves the order into completed, records the payment metadata and
// appends the note in one transaction. The update is conditional on the
// current status so that only one caller can ever complete a given order;
// the losers get ErrAlreadyCompleted.
func (r *repository) Complete(ctx context.Context, id int64, details PaymentDetails, note string) error {
	log := logger.FromCtx(ctx).With(zap.Int64("order_id", id))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
			transaction_id = $3,
			payer_email = $4,
			payer_name = $5,
			updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`, id, StatusCompleted, details.TransactionID, details.PayerEmail, details.PayerName)
	if err != nil {
		log.Error("failed to complete order", zap.Error(err))
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		log.Info("order already completed, skipping")
		return ErrAlreadyCompleted
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_notes (order_id, note) VALUES ($1, $2)
	`, id, note); err != nil {
		return err
	}

	return tx.Commit()
}

// Hold puts the order on-hold for manual review with the reason as a note.
// A completed order is never moved back.
func (r *repository) Hold(ctx context.Context, id int64, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status <> $3
	`, id, StatusOnHold, StatusCompleted)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyCompleted
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_notes (order_id, note) VALUES ($1, $2)
	`, id, reason); err != nil {
		return err
	}

	return tx.Commit()
}

package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusOnHold    OrderStatus = "on-hold"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID       int64
	Key      string
	Total    decimal.Decimal
	Currency string
	Status   OrderStatus
	Locale   string
	Billing  Billing
	Items    []OrderItem

	TransactionID string
	PayerEmail    string
	PayerName     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	Name     string
	Quantity int
	SKU      string
}

type Billing struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address1  string
	Address2  string
	City      string
	Postcode  string
	Country   string
}

// PaymentDetails is the metadata recorded on an order when its payment completes.
type PaymentDetails struct {
	TransactionID string
	PayerEmail    string
	PayerName     string
}

type Note struct {
	OrderID   int64
	Body      string
	CreatedAt time.Time
}

func (b Billing) FullName() string {
	return strings.TrimSpace(b.FirstName + " " + b.LastName)
}

// FormattedAddress joins the non-empty address lines with ", ".
func (b Billing) FormattedAddress() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{b.FullName(), b.Address1, b.Address2, b.City, b.Postcode, b.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func (o *Order) IsCompleted() bool {
	return o.Status == StatusCompleted
}

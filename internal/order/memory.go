package order

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps orders in process memory. It backs the dev server
// (STORE_DRIVER=memory) and the payment flow tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[int64]*Order
	notes  map[int64][]Note
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[int64]*Order),
		notes:  make(map[int64][]Note),
	}
}

// Put stores a copy of the order, replacing any previous version.
func (r *MemoryRepository) Put(o *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = clone(o)
}

func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return clone(o), nil
}

func (r *MemoryRepository) GetByKey(_ context.Context, key string) (*Order, error) {
	if key == "" {
		return nil, ErrOrderNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.Key == key {
			return clone(o), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r *MemoryRepository) Complete(_ context.Context, id int64, details PaymentDetails, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	o.Status = StatusCompleted
	o.TransactionID = details.TransactionID
	o.PayerEmail = details.PayerEmail
	o.PayerName = details.PayerName
	o.UpdatedAt = time.Now().UTC()
	r.appendNote(id, note)
	return nil
}

func (r *MemoryRepository) Hold(_ context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	o.Status = StatusOnHold
	o.UpdatedAt = time.Now().UTC()
	r.appendNote(id, reason)
	return nil
}

// Notes returns the audit notes recorded for an order, oldest first.
func (r *MemoryRepository) Notes(id int64) []Note {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Note(nil), r.notes[id]...)
}

func (r *MemoryRepository) appendNote(id int64, body string) {
	r.notes[id] = append(r.notes[id], Note{OrderID: id, Body: body, CreatedAt: time.Now().UTC()})
}

func clone(o *Order) *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return &c
}

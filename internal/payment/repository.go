package payment

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"sync"
	"time"
)

// NotificationLog records every inbound notification for reconciliation.
// Logging never decides the outcome: duplicates are still verified, and the
// verifier's idempotency check keeps them harmless.
type NotificationLog interface {
	SaveNotification(
		ctx context.Context,
		channel Channel,
		correlationID string,
		payload []byte,
	) (notificationID int64, isDuplicate bool, err error)

	MarkProcessed(ctx context.Context, notificationID int64, state State) error
	MarkFailed(ctx context.Context, notificationID int64, state State, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) NotificationLog {
	return &repository{db: db}
}

func payloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (r *repository) SaveNotification(
	ctx context.Context,
	channel Channel,
	correlationID string,
	payload []byte,
) (int64, bool, error) {

	const q = `
	INSERT INTO payment_notifications (
		channel,
		correlation_id,
		payload_hash,
		payload
	)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (channel, payload_hash)
	DO UPDATE SET attempts = payment_notifications.attempts + 1, received_at = now()
	RETURNING id, attempts;
	`

	var (
		id       int64
		attempts int
	)
	err := r.db.QueryRowContext(
		ctx,
		q,
		string(channel),
		correlationID,
		payloadHash(payload),
		string(payload),
	).Scan(&id, &attempts)
	if err != nil {
		return 0, false, err
	}

	return id, attempts > 1, nil
}

func (r *repository) MarkProcessed(
	ctx context.Context,
	notificationID int64,
	state State,
) error {

	const q = `
	UPDATE payment_notifications
	SET processed_at = now(), state = $2, process_error = NULL
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, notificationID, string(state))
	return err
}

func (r *repository) MarkFailed(
	ctx context.Context,
	notificationID int64,
	state State,
	reason string,
) error {

	const q = `
	UPDATE payment_notifications
	SET processed_at = now(), state = $2, process_error = $3
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, notificationID, string(state), reason)
	return err
}

// LoggedNotification is an entry of the in-memory notification log.
type LoggedNotification struct {
	ID            int64
	Channel       Channel
	CorrelationID string
	Payload       []byte
	Attempts      int
	State         State
	Error         string
	ReceivedAt    time.Time
}

// MemoryLog is the in-process NotificationLog used with STORE_DRIVER=memory.
type MemoryLog struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*LoggedNotification
	byHash  map[string]int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		entries: make(map[int64]*LoggedNotification),
		byHash:  make(map[string]int64),
	}
}

func (m *MemoryLog) SaveNotification(_ context.Context, channel Channel, correlationID string, payload []byte) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(channel) + ":" + payloadHash(payload)
	if id, ok := m.byHash[key]; ok {
		e := m.entries[id]
		e.Attempts++
		e.ReceivedAt = time.Now().UTC()
		return id, true, nil
	}

	m.nextID++
	m.entries[m.nextID] = &LoggedNotification{
		ID:            m.nextID,
		Channel:       channel,
		CorrelationID: correlationID,
		Payload:       append([]byte(nil), payload...),
		Attempts:      1,
		ReceivedAt:    time.Now().UTC(),
	}
	m.byHash[key] = m.nextID
	return m.nextID, false, nil
}

func (m *MemoryLog) MarkProcessed(_ context.Context, id int64, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.State = state
		e.Error = ""
	}
	return nil
}

func (m *MemoryLog) MarkFailed(_ context.Context, id int64, state State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.State = state
		e.Error = reason
	}
	return nil
}

// Get returns a copy of a log entry.
func (m *MemoryLog) Get(id int64) (LoggedNotification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return LoggedNotification{}, false
	}
	return *e, true
}

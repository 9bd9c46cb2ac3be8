package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrOfferPending is returned when inserting an offer into a thread that
	// already holds a pending one. Enforced here, at the storage layer, so
	// concurrent submissions cannot both land.
	ErrOfferPending = errors.New("an offer is already pending in this thread")

	// ErrAlreadyResolved is returned by ResolveOffer when the offer was not
	// pending anymore: a competing accept or reject won the race.
	ErrAlreadyResolved = errors.New("offer already resolved")
)

const messageColumns = `id, thread_id, sender_wallet, body, type,
	COALESCE(price, ''), COALESCE(status, ''), COALESCE(read, 0), created_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ThreadID, &m.SenderWallet, &m.Body, &m.Type,
		&m.Price, &m.Status, &m.Read, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (db *DB) prepareInsert(m *Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
}

// InsertMessage appends a plain chat message to a thread.
func (db *DB) InsertMessage(m *Message) error {
	m.Type = TypeMessage
	m.Price = ""
	m.Status = ""
	db.prepareInsert(m)

	_, err := db.Exec(`
		INSERT INTO messages (id, thread_id, sender_wallet, body, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.SenderWallet, m.Body, m.Type, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	db.publish(KindMessageInsert, Change{Op: OpInsert, Message: m})
	return nil
}

// InsertOffer appends a pending offer, refusing when the thread already has
// one. The existence check and the insert are a single statement so two
// racing submissions cannot both observe an offer-free thread.
func (db *DB) InsertOffer(m *Message) error {
	m.Type = TypeOffer
	m.Status = OfferPending
	db.prepareInsert(m)

	res, err := db.Exec(`
		INSERT INTO messages (id, thread_id, sender_wallet, body, type, price, status, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM messages
			WHERE thread_id = ? AND type = ? AND status = ?
		)`,
		m.ID, m.ThreadID, m.SenderWallet, m.Body, m.Type, m.Price, m.Status, m.CreatedAt,
		m.ThreadID, TypeOffer, OfferPending)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOfferPending
	}

	db.publish(KindMessageInsert, Change{Op: OpInsert, Message: m})
	return nil
}

// ListMessages returns a thread's messages ordered by creation time, ties
// broken by insertion order.
func (db *DB) ListMessages(threadID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, rowid ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message by id, or nil when absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PendingOffer returns the thread's pending offer, or nil when none exists.
func (db *DB) PendingOffer(threadID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ? AND type = ? AND status = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		threadID, TypeOffer, OfferPending))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AcceptedOffer returns the thread's most recent accepted offer, or nil.
func (db *DB) AcceptedOffer(threadID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ? AND type = ? AND status = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		threadID, TypeOffer, OfferAccepted))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ResolveOffer moves an offer from pending to the given terminal status with
// a compare-and-swap on the previous status. A lost race surfaces as
// ErrAlreadyResolved rather than silently overwriting the winner.
func (db *DB) ResolveOffer(id, to string) (*Message, error) {
	if to != OfferAccepted && to != OfferRejected {
		return nil, fmt.Errorf("invalid offer resolution %q", to)
	}
	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE id = ? AND type = ? AND status = ?`,
		to, id, TypeOffer, OfferPending)
	if err != nil {
		return nil, fmt.Errorf("resolve offer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrAlreadyResolved
	}

	m, err := db.GetMessage(id)
	if err != nil {
		return nil, err
	}
	db.publish(KindMessageUpdate, Change{Op: OpUpdate, Message: m})
	return m, nil
}

// MarkThreadRead flags the wallet's unread counterparty messages in a thread
// as read. Read flags are session-local; no change event is emitted.
func (db *DB) MarkThreadRead(threadID, wallet string) error {
	_, err := db.Exec(`
		UPDATE messages SET read = 1
		WHERE thread_id = ? AND sender_wallet <> ? AND read IS NULL`,
		threadID, wallet)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrThreadNotOpen is returned by CloseThread when the thread does not exist
// or is already closed.
var ErrThreadNotOpen = errors.New("thread is not open")

// CreateThread persists a new open thread. The id and creation time are
// assigned here when unset.
func (db *DB) CreateThread(t *Thread) error {
	if t.BuyerWallet == t.SellerWallet {
		return fmt.Errorf("buyer and seller must differ")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	t.Status = ThreadOpen

	_, err := db.Exec(`
		INSERT INTO threads (id, buyer_wallet, seller_wallet, property_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.BuyerWallet, t.SellerWallet, t.PropertyID, t.Status, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}

	db.publish(KindThreadInsert, Change{Op: OpInsert, Thread: t})
	return nil
}

// GetThread returns a single thread by id, or nil when absent.
func (db *DB) GetThread(id string) (*Thread, error) {
	var t Thread
	err := db.QueryRow(`
		SELECT id, buyer_wallet, seller_wallet, property_id, status, created_at
		FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.BuyerWallet, &t.SellerWallet, &t.PropertyID, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListThreads returns all threads where the wallet participates as buyer or
// seller, newest first.
func (db *DB) ListThreads(wallet string) ([]Thread, error) {
	rows, err := db.Query(`
		SELECT id, buyer_wallet, seller_wallet, property_id, status, created_at
		FROM threads
		WHERE buyer_wallet = ? OR seller_wallet = ?
		ORDER BY created_at DESC`, wallet, wallet)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.BuyerWallet, &t.SellerWallet, &t.PropertyID, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// CloseThread marks a thread closed. The update is conditional on the thread
// still being open so a double close cannot fire a second change event.
func (db *DB) CloseThread(id string) error {
	res, err := db.Exec(`UPDATE threads SET status = ? WHERE id = ? AND status = ?`,
		ThreadClosed, id, ThreadOpen)
	if err != nil {
		return fmt.Errorf("close thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrThreadNotOpen
	}

	t, err := db.GetThread(id)
	if err != nil {
		return err
	}
	db.publish(KindThreadUpdate, Change{Op: OpUpdate, Thread: t})
	return nil
}

// UnreadThreads returns the ids of threads holding unread counterparty
// messages for the wallet.
func (db *DB) UnreadThreads(wallet string) (map[string]bool, error) {
	rows, err := db.Query(`
		SELECT DISTINCT m.thread_id
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE m.sender_wallet <> ? AND m.read IS NULL
		  AND (t.buyer_wallet = ? OR t.seller_wallet = ?)`,
		wallet, wallet, wallet)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	unread := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		unread[id] = true
	}
	return unread, rows.Err()
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/novaland/parley/internal/bus"
)

// DB wraps the SQLite connection holding the session's negotiation state.
// Every durable mutation is published on the bus as a change event, which is
// the change stream the reconciler consumes.
type DB struct {
	*sql.DB
	bus *bus.Bus
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// b may be nil, in which case no change events are published.
func Open(path string, b *bus.Bus) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, bus: b}, nil
}

func (db *DB) publish(kind string, c Change) {
	if db.bus == nil {
		return
	}
	db.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   c,
	})
}

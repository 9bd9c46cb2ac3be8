package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/novaland/parley/internal/bus"
	"github.com/novaland/parley/internal/identity"
	"github.com/novaland/parley/internal/property"
	"github.com/novaland/parley/internal/store"
)

// View-change event kinds published for the attached UI.
const (
	KindThreadsUpdated  = "view.threads_updated"
	KindMessagesUpdated = "view.messages_updated"
)

// Thread-list refetches triggered by offer resolutions are debounced so a
// burst of updates lands as one refetch.
const defaultDebounce = 100 * time.Millisecond

// Reconciler is the session's single-threaded consumer of the store change
// stream. Each event becomes a local refresh or an unread-flag mutation; on
// failure it logs and leaves state unchanged rather than guessing.
type Reconciler struct {
	db     *store.DB
	bus    *bus.Bus
	cache  *property.Cache
	names  *identity.Resolver
	wallet string
	logger *zap.Logger
	cancel context.CancelFunc

	debounce time.Duration

	mu       sync.Mutex
	active   string
	unread   map[string]bool
	threads  []store.Thread
	messages []store.Message
}

// NewReconciler creates a reconciler for the connected wallet.
func NewReconciler(db *store.DB, b *bus.Bus, cache *property.Cache, names *identity.Resolver, wallet string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:       db,
		bus:      b,
		cache:    cache,
		names:    names,
		wallet:   wallet,
		logger:   logger,
		debounce: defaultDebounce,
		unread:   make(map[string]bool),
	}
}

// Start loads the initial thread list and subscribes to the change stream.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.refetchThreads()

	ch, unsub := r.bus.Subscribe("change.", 256)

	go func() {
		defer unsub()
		timer := time.NewTimer(r.debounce)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case evt := <-ch:
				if r.handleChange(evt) {
					timer.Reset(r.debounce)
				}
			case <-timer.C:
				r.refetchThreads()
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// handleChange applies one change-stream event. The return value reports
// whether a debounced thread-list refetch should be armed.
func (r *Reconciler) handleChange(evt bus.Event) bool {
	c, ok := evt.Payload.(store.Change)
	if !ok {
		return false
	}

	switch {
	case c.Thread != nil:
		// Thread mutations (new contact, closure) refresh the list directly.
		r.refetchThreads()
		return false
	case c.Message != nil:
		return r.handleMessage(c.Op, c.Message)
	default:
		return false
	}
}

func (r *Reconciler) handleMessage(op string, msg *store.Message) bool {
	// Self-originated inserts are already reflected by the mutating call.
	if op == store.OpInsert && msg.SenderWallet == r.wallet {
		return false
	}

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active != "" && msg.ThreadID == active {
		r.refetchMessages(active)
		if err := r.db.MarkThreadRead(active, r.wallet); err != nil {
			r.logger.Error("mark read failed", zap.Error(err), zap.String("thread", active))
		}
	} else if op == store.OpInsert && msg.SenderWallet != r.wallet {
		// Counterparty message in an inactive thread: monotonic unread flag,
		// cleared only by activating the thread.
		r.mu.Lock()
		r.unread[msg.ThreadID] = true
		r.mu.Unlock()
		r.publish(KindThreadsUpdated)
	}

	// An offer resolution changes purchase eligibility wherever it happens.
	if msg.Type == store.TypeOffer &&
		(msg.Status == store.OfferAccepted || msg.Status == store.OfferRejected) {
		return true
	}
	return false
}

// Activate switches the active thread, refetches its messages and clears its
// unread flag.
func (r *Reconciler) Activate(threadID string) {
	r.mu.Lock()
	r.active = threadID
	delete(r.unread, threadID)
	r.mu.Unlock()

	r.refetchMessages(threadID)
	if err := r.db.MarkThreadRead(threadID, r.wallet); err != nil {
		r.logger.Error("mark read failed", zap.Error(err), zap.String("thread", threadID))
	}
	r.publish(KindThreadsUpdated)
}

// Deactivate clears the active thread pointer.
func (r *Reconciler) Deactivate() {
	r.mu.Lock()
	r.active = ""
	r.messages = nil
	r.mu.Unlock()
	r.publish(KindMessagesUpdated)
}

func (r *Reconciler) refetchThreads() {
	threads, err := r.db.ListThreads(r.wallet)
	if err != nil {
		r.logger.Error("thread refetch failed", zap.Error(err))
		return
	}
	stored, err := r.db.UnreadThreads(r.wallet)
	if err != nil {
		r.logger.Error("unread refetch failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.threads = threads
	for id := range stored {
		if id != r.active {
			r.unread[id] = true
		}
	}
	r.mu.Unlock()
	r.publish(KindThreadsUpdated)
}

func (r *Reconciler) refetchMessages(threadID string) {
	msgs, err := r.db.ListMessages(threadID)
	if err != nil {
		r.logger.Error("message refetch failed", zap.Error(err), zap.String("thread", threadID))
		return
	}
	r.mu.Lock()
	if r.active == threadID {
		r.messages = msgs
	}
	r.mu.Unlock()
	r.publish(KindMessagesUpdated)
}

func (r *Reconciler) publish(kind string) {
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
}

// Snapshot derives the current view: thread list (optionally filtered by
// role), counterparty names, property titles, unread flags, and the active
// thread's messages with its accepted-offer pointer.
func (r *Reconciler) Snapshot(ctx context.Context, role Role) Snapshot {
	r.mu.Lock()
	threads := make([]store.Thread, len(r.threads))
	copy(threads, r.threads)
	messages := make([]store.Message, len(r.messages))
	copy(messages, r.messages)
	active := r.active
	unread := make(map[string]bool, len(r.unread))
	for id := range r.unread {
		unread[id] = true
	}
	r.mu.Unlock()

	var wallets []string
	filtered := threads[:0]
	for _, t := range threads {
		switch role {
		case RoleBuyer:
			if t.BuyerWallet != r.wallet {
				continue
			}
		case RoleSeller:
			if t.SellerWallet != r.wallet {
				continue
			}
		}
		filtered = append(filtered, t)
		wallets = append(wallets, t.BuyerWallet, t.SellerWallet)
	}
	names := r.names.Resolve(ctx, wallets)

	snap := Snapshot{ActiveThread: active, Messages: messages}
	for _, t := range filtered {
		counterparty := t.SellerWallet
		if t.BuyerWallet != r.wallet {
			counterparty = t.BuyerWallet
		}
		title := ""
		if p, ok := r.cache.Get(t.PropertyID); ok {
			title = p.Title
		}
		snap.Threads = append(snap.Threads, ThreadView{
			Thread:        t,
			Counterparty:  names[counterparty],
			PropertyTitle: title,
			Unread:        unread[t.ID],
		})

		if t.ID == active && t.Status == store.ThreadOpen {
			for i := range messages {
				m := &messages[i]
				if m.Type != store.TypeOffer {
					continue
				}
				switch m.Status {
				case store.OfferAccepted:
					snap.AcceptedOffer = m
				case store.OfferPending:
					snap.HasPendingOffer = true
				}
			}
		}
	}
	return snap
}

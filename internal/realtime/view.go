package realtime

import "github.com/novaland/parley/internal/store"

// Role filters the thread list by the session wallet's side of the deal.
type Role int

const (
	RoleAny Role = iota
	RoleBuyer
	RoleSeller
)

// ThreadView is a thread decorated for display: counterparty name from the
// identity directory, property title from the chain cache, unread flag from
// the reconciler. Derived one-directionally from those sources on demand.
type ThreadView struct {
	Thread        store.Thread
	Counterparty  string
	PropertyTitle string
	Unread        bool
}

// Snapshot is the reconciler's current derived view of the session.
// AcceptedOffer is the purchase-eligibility pointer: the most recent accepted
// offer of the active thread while that thread is still open.
type Snapshot struct {
	Threads         []ThreadView
	ActiveThread    string
	Messages        []store.Message
	AcceptedOffer   *store.Message
	HasPendingOffer bool
}

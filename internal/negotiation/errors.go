package negotiation

import "errors"

// Precondition violations. These are rejected synchronously and never reach
// the store.
var (
	ErrNotBuyer     = errors.New("only the buyer can make an offer")
	ErrNotSeller    = errors.New("only the seller can act on an offer")
	ErrSelfDeal     = errors.New("cannot act on your own offer")
	ErrThreadClosed = errors.New("conversation is closed")
	ErrNotPending   = errors.New("offer is not pending")
	ErrInvalidPrice = errors.New("offer price must be a positive amount")
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoThread     = errors.New("thread not found")
)

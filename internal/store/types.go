package store

// Thread statuses.
const (
	ThreadOpen   = "open"
	ThreadClosed = "closed"
)

// Message types.
const (
	TypeMessage = "message"
	TypeOffer   = "offer"
)

// Offer statuses. Transitions are one-way: pending to accepted or rejected.
const (
	OfferPending  = "pending"
	OfferAccepted = "accepted"
	OfferRejected = "rejected"
)

// Thread is a conversation scoped to one (buyer, seller, property) triple.
// Threads are never deleted; status moves to closed exactly once, on
// purchase success.
type Thread struct {
	ID           string
	BuyerWallet  string
	SellerWallet string
	PropertyID   uint64
	Status       string
	CreatedAt    int64
}

// Message is an ordered event within a thread. Immutable once written except
// for Read (chat messages) and Status (offers). Price is a decimal ether
// string, set only for offers.
type Message struct {
	ID           string
	ThreadID     string
	SenderWallet string
	Body         string
	Type         string
	Price        string
	Status       string
	Read         bool
	CreatedAt    int64
}

// Profile maps a wallet to a display name in the identity directory.
type Profile struct {
	Wallet string
	Name   string
}

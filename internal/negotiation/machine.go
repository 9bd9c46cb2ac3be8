package negotiation

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/novaland/parley/internal/chain"
	"github.com/novaland/parley/internal/store"
)

// Machine enforces the legal transitions of offers within a thread: an offer
// moves pending to accepted or rejected exactly once, and a thread holds at
// most one pending offer. The machine itself is stateless; every transition
// is persisted through the store, whose conditional writes are the final
// arbiter under races.
type Machine struct {
	db     *store.DB
	logger *zap.Logger
}

// NewMachine creates an offer state machine over the store.
func NewMachine(db *store.DB, logger *zap.Logger) *Machine {
	return &Machine{db: db, logger: logger}
}

// SendMessage appends a plain chat message to an open thread.
func (m *Machine) SendMessage(thread *store.Thread, senderWallet, body string) (*store.Message, error) {
	if thread == nil {
		return nil, ErrNoThread
	}
	if thread.Status == store.ThreadClosed {
		return nil, ErrThreadClosed
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}

	msg := &store.Message{
		ThreadID:     thread.ID,
		SenderWallet: senderWallet,
		Body:         body,
	}
	if err := m.db.InsertMessage(msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// SubmitOffer appends a pending offer from the buyer. The pending-offer
// uniqueness precondition is checked here for a fast answer, then enforced
// again by the store's conditional insert, which wins under concurrency.
func (m *Machine) SubmitOffer(thread *store.Thread, senderWallet, price, note string) (*store.Message, error) {
	if thread == nil {
		return nil, ErrNoThread
	}
	if senderWallet != thread.BuyerWallet {
		return nil, ErrNotBuyer
	}
	if thread.Status == store.ThreadClosed {
		return nil, ErrThreadClosed
	}
	wei, err := chain.ParseEther(price)
	if err != nil || wei.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	pending, err := m.db.PendingOffer(thread.ID)
	if err != nil {
		return nil, fmt.Errorf("check pending offer: %w", err)
	}
	if pending != nil {
		return nil, store.ErrOfferPending
	}

	offer := &store.Message{
		ThreadID:     thread.ID,
		SenderWallet: senderWallet,
		Body:         note,
		Price:        price,
	}
	if err := m.db.InsertOffer(offer); err != nil {
		return nil, err
	}
	m.logger.Info("offer submitted",
		zap.String("thread", thread.ID),
		zap.String("price", price))
	return offer, nil
}

// AcceptOffer transitions a pending offer to accepted on behalf of the
// seller. A lost race against a concurrent resolution surfaces as
// store.ErrAlreadyResolved.
func (m *Machine) AcceptOffer(thread *store.Thread, offer *store.Message, actingWallet string) (*store.Message, error) {
	if err := m.guardResolution(thread, offer, actingWallet); err != nil {
		return nil, err
	}
	resolved, err := m.db.ResolveOffer(offer.ID, store.OfferAccepted)
	if err != nil {
		return nil, err
	}
	m.logger.Info("offer accepted",
		zap.String("thread", thread.ID),
		zap.String("offer", offer.ID))
	return resolved, nil
}

// RejectOffer transitions a pending offer to rejected on behalf of the
// seller.
func (m *Machine) RejectOffer(thread *store.Thread, offerID, actingWallet string) (*store.Message, error) {
	offer, err := m.db.GetMessage(offerID)
	if err != nil {
		return nil, fmt.Errorf("load offer: %w", err)
	}
	if offer == nil || offer.Type != store.TypeOffer {
		return nil, ErrNotPending
	}
	if err := m.guardResolution(thread, offer, actingWallet); err != nil {
		return nil, err
	}
	resolved, err := m.db.ResolveOffer(offer.ID, store.OfferRejected)
	if err != nil {
		return nil, err
	}
	m.logger.Info("offer rejected",
		zap.String("thread", thread.ID),
		zap.String("offer", offer.ID))
	return resolved, nil
}

func (m *Machine) guardResolution(thread *store.Thread, offer *store.Message, actingWallet string) error {
	if thread == nil {
		return ErrNoThread
	}
	if actingWallet != thread.SellerWallet {
		return ErrNotSeller
	}
	if offer.SenderWallet == actingWallet {
		return ErrSelfDeal
	}
	if thread.Status == store.ThreadClosed {
		return ErrThreadClosed
	}
	if offer.Status != store.OfferPending {
		return ErrNotPending
	}
	return nil
}

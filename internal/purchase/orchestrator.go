package purchase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/novaland/parley/internal/bus"
	"github.com/novaland/parley/internal/chain"
	"github.com/novaland/parley/internal/property"
	"github.com/novaland/parley/internal/store"
)

// Precondition violations. All of these are returned before anything is
// submitted to the chain; the thread and its offers are untouched.
var (
	ErrInFlight        = errors.New("a purchase for this conversation is already in progress")
	ErrNoThread        = errors.New("thread not found")
	ErrThreadClosed    = errors.New("conversation is closed")
	ErrNotBuyer        = errors.New("only the buyer can complete the purchase")
	ErrNoAcceptedOffer = errors.New("no accepted offer to settle")
	ErrNotListed       = errors.New("property is no longer listed")
	ErrOwnerMismatch   = errors.New("property owner no longer matches the seller")
)

// Post-submission outcomes.
var (
	// ErrReverted means the transaction was mined and rejected by the
	// contract. No currency moved and the thread stays open.
	ErrReverted = errors.New("purchase transaction reverted on-chain")

	// ErrUnconfirmed means the confirmation wait ended without a receipt.
	// The transaction may still confirm later; the thread is left open and
	// the returned receipt carries the hash for manual follow-up.
	ErrUnconfirmed = errors.New("purchase outcome unknown")
)

// Ledger is the chain surface the orchestrator drives. *chain.Registry
// implements it.
type Ledger interface {
	Purchase(ctx context.Context, productID uint64, buyer common.Address, payment *big.Int) (chain.PendingTx, error)
	Confirm(ctx context.Context, tx chain.PendingTx) (chain.TxStatus, error)
}

// Receipt reports a settled or in-doubt purchase attempt.
type Receipt struct {
	ThreadID   string
	PropertyID uint64
	TxHash     common.Hash

	// PaidWei is the live listing price at submission time, which is what
	// the contract charges. OfferWei is the accepted offer amount; when the
	// two differ PriceDivergence is set and the buyer paid the listing
	// price, not the negotiated one.
	PaidWei         *big.Int
	OfferWei        *big.Int
	PriceDivergence bool

	// StoreStale is set when the chain transfer confirmed but closing the
	// local thread failed. The purchase stands; only the session's view is
	// behind.
	StoreStale bool
}

// Orchestrator runs the multi-step settlement of an accepted offer: validate
// against live chain state, submit the value transfer, wait for confirmation,
// then close the thread locally. The chain is authoritative; once a transfer
// confirms, local bookkeeping failures never unwind it.
type Orchestrator struct {
	db          *store.DB
	cache       *property.Cache
	ledger      Ledger
	bus         *bus.Bus
	logger      *zap.Logger
	confirmWait time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator creates an orchestrator. confirmWait bounds how long a
// single attempt waits for a receipt before giving up with ErrUnconfirmed.
func NewOrchestrator(db *store.DB, cache *property.Cache, ledger Ledger, b *bus.Bus, logger *zap.Logger, confirmWait time.Duration) *Orchestrator {
	return &Orchestrator{
		db:          db,
		cache:       cache,
		ledger:      ledger,
		bus:         b,
		logger:      logger,
		confirmWait: confirmWait,
		inflight:    make(map[string]struct{}),
	}
}

// Proceed settles the accepted offer in a thread on behalf of actingWallet.
// At most one attempt per thread runs at a time; concurrent calls get
// ErrInFlight. On ErrUnconfirmed the returned receipt is non-nil and carries
// the transaction hash.
func (o *Orchestrator) Proceed(ctx context.Context, threadID, actingWallet string) (*Receipt, error) {
	if !o.begin(threadID) {
		return nil, ErrInFlight
	}
	defer o.end(threadID)

	track := newTracker(threadID, o.bus)
	if err := track.Transition(Validating); err != nil {
		return nil, err
	}

	th, offer, err := o.preconditions(threadID, actingWallet)
	if err != nil {
		return nil, o.abort(track, err)
	}

	prop, err := o.cache.Resolve(ctx, th.PropertyID)
	if err != nil {
		return nil, o.abort(track, fmt.Errorf("resolve property %d: %w", th.PropertyID, err))
	}
	if !prop.Listed {
		return nil, o.abort(track, ErrNotListed)
	}
	if prop.Owner != common.HexToAddress(th.SellerWallet) {
		return nil, o.abort(track, ErrOwnerMismatch)
	}
	if prop.Price == nil || prop.Price.Sign() <= 0 {
		return nil, o.abort(track, fmt.Errorf("property %d has no valid listing price", th.PropertyID))
	}

	// The contract charges the live listing price regardless of what was
	// negotiated. A divergence is surfaced, never silently absorbed.
	receipt := &Receipt{
		ThreadID:   th.ID,
		PropertyID: th.PropertyID,
		PaidWei:    new(big.Int).Set(prop.Price),
	}
	if offerWei, perr := chain.ParseEther(offer.Price); perr != nil {
		o.logger.Warn("accepted offer has unparseable price",
			zap.String("thread_id", th.ID), zap.String("price", offer.Price), zap.Error(perr))
		receipt.PriceDivergence = true
	} else {
		receipt.OfferWei = offerWei
		receipt.PriceDivergence = offerWei.Cmp(prop.Price) != 0
	}
	if receipt.PriceDivergence {
		o.logger.Warn("listing price diverged from accepted offer",
			zap.String("thread_id", th.ID),
			zap.String("listing_wei", prop.Price.String()),
			zap.String("offer_price", offer.Price))
	}

	buyer := common.HexToAddress(th.BuyerWallet)
	tx, err := o.ledger.Purchase(ctx, th.PropertyID, buyer, receipt.PaidWei)
	if err != nil {
		return nil, o.abort(track, fmt.Errorf("submit purchase: %w", err))
	}
	receipt.TxHash = tx.Hash
	_ = track.Transition(Submitted)
	_ = track.Transition(Confirming)

	cctx, cancel := context.WithTimeout(ctx, o.confirmWait)
	status, err := o.ledger.Confirm(cctx, tx)
	cancel()
	if err != nil {
		_ = track.Transition(Unsettled)
		o.logger.Error("purchase confirmation inconclusive",
			zap.String("thread_id", th.ID), zap.String("tx", tx.Hash.Hex()), zap.Error(err))
		return receipt, fmt.Errorf("%w: tx %s: %v", ErrUnconfirmed, tx.Hash.Hex(), err)
	}
	if status == chain.TxReverted {
		_ = track.Transition(Failed)
		return nil, fmt.Errorf("tx %s: %w", tx.Hash.Hex(), ErrReverted)
	}

	_ = track.Transition(Settling)
	if err := o.db.CloseThread(th.ID); err != nil {
		// The transfer already confirmed; the local view is stale, not
		// wrong. Report and move on.
		receipt.StoreStale = true
		o.logger.Error("purchase confirmed but closing thread failed",
			zap.String("thread_id", th.ID), zap.String("tx", tx.Hash.Hex()), zap.Error(err))
	}
	if err := o.cache.Refresh(ctx, th.PropertyID); err != nil {
		o.logger.Warn("property refresh after purchase failed",
			zap.Uint64("property_id", th.PropertyID), zap.Error(err))
	}
	_ = track.Transition(Done)

	o.logger.Info("purchase settled",
		zap.String("thread_id", th.ID),
		zap.Uint64("property_id", th.PropertyID),
		zap.String("tx", tx.Hash.Hex()),
		zap.String("paid_wei", receipt.PaidWei.String()))
	return receipt, nil
}

// preconditions loads the thread and its accepted offer and checks the caller
// may settle it.
func (o *Orchestrator) preconditions(threadID, actingWallet string) (*store.Thread, *store.Message, error) {
	th, err := o.db.GetThread(threadID)
	if err != nil {
		return nil, nil, err
	}
	if th == nil {
		return nil, nil, ErrNoThread
	}
	if th.Status != store.ThreadOpen {
		return nil, nil, ErrThreadClosed
	}
	if actingWallet != th.BuyerWallet {
		return nil, nil, ErrNotBuyer
	}
	offer, err := o.db.AcceptedOffer(threadID)
	if err != nil {
		return nil, nil, err
	}
	if offer == nil {
		return nil, nil, ErrNoAcceptedOffer
	}
	return th, offer, nil
}

func (o *Orchestrator) abort(t *tracker, err error) error {
	_ = t.Transition(Failed)
	return err
}

func (o *Orchestrator) begin(threadID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[threadID]; busy {
		return false
	}
	o.inflight[threadID] = struct{}{}
	return true
}

func (o *Orchestrator) end(threadID string) {
	o.mu.Lock()
	delete(o.inflight, threadID)
	o.mu.Unlock()
}

package purchase

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/novaland/parley/internal/bus"
	"github.com/novaland/parley/internal/chain"
	"github.com/novaland/parley/internal/negotiation"
	"github.com/novaland/parley/internal/property"
	"github.com/novaland/parley/internal/store"
)

const (
	buyer  = "0x1111111111111111111111111111111111111111"
	seller = "0x2222222222222222222222222222222222222222"
	other  = "0x3333333333333333333333333333333333333333"
)

func ether(t *testing.T, amount string) *big.Int {
	t.Helper()
	wei, err := chain.ParseEther(amount)
	if err != nil {
		t.Fatal(err)
	}
	return wei
}

// fakeSource serves a mutable listing set for the cache.
type fakeSource struct {
	mu    sync.Mutex
	props []chain.Property
}

func (f *fakeSource) Properties(_ context.Context) ([]chain.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chain.Property, len(f.props))
	copy(out, f.props)
	return out, nil
}

func (f *fakeSource) set(p chain.Property) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.props {
		if f.props[i].ID == p.ID {
			f.props[i] = p
			return
		}
	}
	f.props = append(f.props, p)
}

// fakeLedger records submissions and returns canned confirmations.
type fakeLedger struct {
	mu          sync.Mutex
	calls       int
	lastID      uint64
	lastBuyer   common.Address
	lastPayment *big.Int

	purchaseErr error
	status      chain.TxStatus
	confirmErr  error
	// onConfirmed runs after a successful submission, before Confirm
	// returns. Used to mimic the chain flipping ownership.
	onConfirmed func()
	// hold, when set, blocks Confirm until closed.
	hold chan struct{}
}

func (f *fakeLedger) Purchase(_ context.Context, productID uint64, buyer common.Address, payment *big.Int) (chain.PendingTx, error) {
	f.mu.Lock()
	f.calls++
	f.lastID = productID
	f.lastBuyer = buyer
	f.lastPayment = new(big.Int).Set(payment)
	f.mu.Unlock()
	if f.purchaseErr != nil {
		return chain.PendingTx{}, f.purchaseErr
	}
	return chain.PendingTx{Hash: common.HexToHash("0xabc123")}, nil
}

func (f *fakeLedger) Confirm(ctx context.Context, _ chain.PendingTx) (chain.TxStatus, error) {
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if f.confirmErr != nil {
		return 0, f.confirmErr
	}
	if f.status == chain.TxConfirmed && f.onConfirmed != nil {
		f.onConfirmed()
	}
	return f.status, nil
}

func (f *fakeLedger) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	db     *store.DB
	bus    *bus.Bus
	source *fakeSource
	ledger *fakeLedger
	orch   *Orchestrator
	thread *store.Thread
}

// newFixture builds an open thread over property 7, listed by the seller at
// 1 ether, with an accepted offer at offerPrice.
func newFixture(t *testing.T, offerPrice string) *fixture {
	t.Helper()

	b := bus.New()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), b)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	source := &fakeSource{}
	source.set(chain.Property{
		ID:     7,
		Owner:  common.HexToAddress(seller),
		Price:  ether(t, "1"),
		Title:  "Lakeside Cottage",
		Listed: true,
	})
	cache := property.NewCache(source, zap.NewNop())
	if err := cache.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}

	th := &store.Thread{BuyerWallet: buyer, SellerWallet: seller, PropertyID: 7}
	if err := db.CreateThread(th); err != nil {
		t.Fatal(err)
	}
	if offerPrice != "" {
		offer := &store.Message{ThreadID: th.ID, SenderWallet: buyer, Body: "offer", Price: offerPrice}
		if err := db.InsertOffer(offer); err != nil {
			t.Fatal(err)
		}
		if _, err := db.ResolveOffer(offer.ID, store.OfferAccepted); err != nil {
			t.Fatal(err)
		}
	}

	ledger := &fakeLedger{status: chain.TxConfirmed}
	orch := NewOrchestrator(db, cache, ledger, b, zap.NewNop(), time.Second)
	return &fixture{db: db, bus: b, source: source, ledger: ledger, orch: orch, thread: th}
}

func (f *fixture) threadStatus(t *testing.T) string {
	t.Helper()
	th, err := f.db.GetThread(f.thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	return th.Status
}

func TestProceedSettlesAcceptedOffer(t *testing.T) {
	f := newFixture(t, "1")
	// The chain transfers ownership and delists as part of the purchase.
	f.ledger.onConfirmed = func() {
		f.source.set(chain.Property{
			ID: 7, Owner: common.HexToAddress(buyer), Price: ether(t, "1"), Title: "Lakeside Cottage", Listed: false,
		})
	}

	receipt, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.PaidWei.Cmp(ether(t, "1")) != 0 {
		t.Errorf("paid %s wei, want 1 ether", receipt.PaidWei)
	}
	if receipt.PriceDivergence {
		t.Error("offer matched the listing, divergence should not be flagged")
	}
	if receipt.StoreStale {
		t.Error("store update succeeded, StoreStale should be false")
	}
	if f.ledger.lastID != 7 || f.ledger.lastBuyer != common.HexToAddress(buyer) {
		t.Errorf("submitted id=%d buyer=%s", f.ledger.lastID, f.ledger.lastBuyer)
	}
	if got := f.threadStatus(t); got != store.ThreadClosed {
		t.Errorf("thread status = %q, want closed", got)
	}
	// Cache refreshed to the post-purchase record.
	if p, ok := f.orch.cache.Get(7); !ok || p.Owner != common.HexToAddress(buyer) || p.Listed {
		t.Errorf("cache after purchase = %+v, want buyer-owned and delisted", p)
	}
}

func TestOfferRoundTripToSettlement(t *testing.T) {
	f := newFixture(t, "")
	f.source.set(chain.Property{
		ID: 7, Owner: common.HexToAddress(seller), Price: ether(t, "2.5"), Title: "Lakeside Cottage", Listed: true,
	})
	if err := f.orch.cache.Refresh(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	f.ledger.onConfirmed = func() {
		f.source.set(chain.Property{
			ID: 7, Owner: common.HexToAddress(buyer), Price: ether(t, "2.5"), Title: "Lakeside Cottage", Listed: false,
		})
	}

	machine := negotiation.NewMachine(f.db, zap.NewNop())
	offer, err := machine.SubmitOffer(f.thread, buyer, "2.5", "final offer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := machine.AcceptOffer(f.thread, offer, seller); err != nil {
		t.Fatal(err)
	}

	receipt, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.PaidWei.Cmp(ether(t, "2.5")) != 0 {
		t.Errorf("paid %s wei, want 2.5 ether", receipt.PaidWei)
	}
	if got := f.threadStatus(t); got != store.ThreadClosed {
		t.Errorf("thread status = %q, want closed", got)
	}
	if p, ok := f.orch.cache.Get(7); !ok || p.Owner != common.HexToAddress(buyer) {
		t.Errorf("cached owner = %s, want the buyer", p.Owner)
	}
}

func TestProceedPaysLiveListingPrice(t *testing.T) {
	f := newFixture(t, "1")
	// Seller repriced after accepting; the contract only honors the live price.
	f.source.set(chain.Property{
		ID: 7, Owner: common.HexToAddress(seller), Price: ether(t, "1.2"), Title: "Lakeside Cottage", Listed: true,
	})
	if err := f.orch.cache.Refresh(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	receipt, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if err != nil {
		t.Fatal(err)
	}
	if f.ledger.lastPayment.Cmp(ether(t, "1.2")) != 0 {
		t.Errorf("payment = %s wei, want the live 1.2 ether listing price", f.ledger.lastPayment)
	}
	if !receipt.PriceDivergence {
		t.Error("listing price differs from the offer, divergence should be flagged")
	}
	if receipt.OfferWei.Cmp(ether(t, "1")) != 0 {
		t.Errorf("offer wei = %s, want 1 ether", receipt.OfferWei)
	}
}

func TestProceedRejectsDelistedWithoutChainCall(t *testing.T) {
	f := newFixture(t, "1")
	f.source.set(chain.Property{
		ID: 7, Owner: common.HexToAddress(seller), Price: ether(t, "1"), Listed: false,
	})
	if err := f.orch.cache.Refresh(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	_, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if !errors.Is(err, ErrNotListed) {
		t.Fatalf("err = %v, want ErrNotListed", err)
	}
	if f.ledger.submissions() != 0 {
		t.Error("nothing should be submitted for a delisted property")
	}
	if got := f.threadStatus(t); got != store.ThreadOpen {
		t.Errorf("thread status = %q, want open", got)
	}
}

func TestProceedRejectsOwnerMismatch(t *testing.T) {
	f := newFixture(t, "1")
	f.source.set(chain.Property{
		ID: 7, Owner: common.HexToAddress(other), Price: ether(t, "1"), Listed: true,
	})
	if err := f.orch.cache.Refresh(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	_, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("err = %v, want ErrOwnerMismatch", err)
	}
	if f.ledger.submissions() != 0 {
		t.Error("nothing should be submitted when the owner changed")
	}
}

func TestProceedRequiresAcceptedOffer(t *testing.T) {
	f := newFixture(t, "")
	// A pending offer is not enough.
	if err := f.db.InsertOffer(&store.Message{ThreadID: f.thread.ID, SenderWallet: buyer, Price: "1"}); err != nil {
		t.Fatal(err)
	}

	_, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if !errors.Is(err, ErrNoAcceptedOffer) {
		t.Fatalf("err = %v, want ErrNoAcceptedOffer", err)
	}
	if f.ledger.submissions() != 0 {
		t.Error("nothing should be submitted without an accepted offer")
	}
}

func TestProceedRequiresBuyer(t *testing.T) {
	f := newFixture(t, "1")
	_, err := f.orch.Proceed(context.Background(), f.thread.ID, seller)
	if !errors.Is(err, ErrNotBuyer) {
		t.Fatalf("err = %v, want ErrNotBuyer", err)
	}
}

func TestProceedRejectsClosedThread(t *testing.T) {
	f := newFixture(t, "1")
	if err := f.db.CloseThread(f.thread.ID); err != nil {
		t.Fatal(err)
	}
	_, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if !errors.Is(err, ErrThreadClosed) {
		t.Fatalf("err = %v, want ErrThreadClosed", err)
	}
}

func TestProceedUnknownThread(t *testing.T) {
	f := newFixture(t, "1")
	_, err := f.orch.Proceed(context.Background(), "no-such-thread", buyer)
	if !errors.Is(err, ErrNoThread) {
		t.Fatalf("err = %v, want ErrNoThread", err)
	}
}

func TestRevertLeavesThreadOpen(t *testing.T) {
	f := newFixture(t, "1")
	f.ledger.status = chain.TxReverted

	_, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("err = %v, want ErrReverted", err)
	}
	if got := f.threadStatus(t); got != store.ThreadOpen {
		t.Errorf("thread status = %q, want open after a revert", got)
	}
	// The accepted offer survives; the buyer can retry.
	offer, err := f.db.AcceptedOffer(f.thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if offer == nil {
		t.Error("accepted offer should survive a reverted purchase")
	}
}

func TestAmbiguousConfirmationKeepsThreadOpen(t *testing.T) {
	f := newFixture(t, "1")
	f.ledger.confirmErr = context.DeadlineExceeded

	receipt, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if !errors.Is(err, ErrUnconfirmed) {
		t.Fatalf("err = %v, want ErrUnconfirmed", err)
	}
	if receipt == nil {
		t.Fatal("an unconfirmed attempt must still return a receipt")
	}
	if receipt.TxHash == (common.Hash{}) {
		t.Error("receipt should carry the transaction hash for follow-up")
	}
	if got := f.threadStatus(t); got != store.ThreadOpen {
		t.Errorf("thread status = %q, want open while the outcome is unknown", got)
	}
}

func TestConfirmedPurchaseSurvivesStoreFailure(t *testing.T) {
	f := newFixture(t, "1")
	// Break the local store after validation would have passed.
	f.ledger.onConfirmed = func() {
		if _, err := f.db.Exec(`DROP TABLE threads`); err != nil {
			t.Error(err)
		}
	}

	receipt, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
	if err != nil {
		t.Fatalf("a confirmed transfer must not be reported as failed: %v", err)
	}
	if !receipt.StoreStale {
		t.Error("StoreStale should be set when the thread could not be closed")
	}
}

func TestProceedSingleFlight(t *testing.T) {
	f := newFixture(t, "1")
	f.ledger.hold = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer)
		done <- err
	}()

	// Wait until the first attempt is inside the confirmation hold.
	deadline := time.After(time.Second)
	for f.ledger.submissions() == 0 {
		select {
		case <-deadline:
			t.Fatal("first attempt never submitted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer); !errors.Is(err, ErrInFlight) {
		t.Fatalf("second attempt err = %v, want ErrInFlight", err)
	}

	close(f.ledger.hold)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if f.ledger.submissions() != 1 {
		t.Errorf("submissions = %d, want 1", f.ledger.submissions())
	}
}

func TestPhaseEventsOnHappyPath(t *testing.T) {
	f := newFixture(t, "1")
	events, unsub := f.bus.Subscribe("purchase.", 16)
	defer unsub()

	if _, err := f.orch.Proceed(context.Background(), f.thread.ID, buyer); err != nil {
		t.Fatal(err)
	}

	want := []Phase{Validating, Submitted, Confirming, Settling, Done}
	for _, phase := range want {
		select {
		case ev := <-events:
			change, ok := ev.Payload.(PhaseChange)
			if !ok {
				t.Fatalf("payload %T, want PhaseChange", ev.Payload)
			}
			if change.To != phase {
				t.Fatalf("phase = %s, want %s", change.To, phase)
			}
		case <-time.After(time.Second):
			t.Fatalf("no event for phase %s", phase)
		}
	}
}

func TestTrackerRejectsInvalidTransition(t *testing.T) {
	track := newTracker("t1", nil)
	if err := track.Transition(Done); err == nil {
		t.Fatal("IDLE to DONE should be rejected")
	}
	if err := track.Transition(Validating); err != nil {
		t.Fatal(err)
	}
	if got := track.Current(); got != Validating {
		t.Errorf("current = %s, want VALIDATING", got)
	}
}

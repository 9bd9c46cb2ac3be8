package property

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/novaland/parley/internal/chain"
)

type fakeSource struct {
	props  []chain.Property
	err    error
	fetches int
}

func (s *fakeSource) Properties(context.Context) ([]chain.Property, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.props, nil
}

func prop(id uint64, listed bool) chain.Property {
	return chain.Property{
		ID:     id,
		Owner:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Price:  big.NewInt(1e18),
		Title:  "Test Property",
		Listed: listed,
	}
}

func TestPrimeAndGet(t *testing.T) {
	src := &fakeSource{props: []chain.Property{prop(1, true), prop(2, false)}}
	c := NewCache(src, zap.NewNop())

	if err := c.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}
	p, ok := c.Get(1)
	if !ok || p.Title != "Test Property" {
		t.Fatalf("Get(1) = %+v, %v", p, ok)
	}
	if _, ok := c.Get(99); ok {
		t.Error("Get(99) should miss")
	}
}

func TestResolveTopUpOnMiss(t *testing.T) {
	src := &fakeSource{props: []chain.Property{prop(5, true)}}
	c := NewCache(src, zap.NewNop())

	p, err := c.Resolve(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != 5 {
		t.Errorf("ID = %d, want 5", p.ID)
	}
	if src.fetches != 1 {
		t.Errorf("fetches = %d, want 1", src.fetches)
	}

	// Cached now; no second fetch.
	if _, err := c.Resolve(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if src.fetches != 1 {
		t.Errorf("fetches = %d, want 1 (cached)", src.fetches)
	}
}

func TestResolveUnknownProperty(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(src, zap.NewNop())

	if _, err := c.Resolve(context.Background(), 42); err == nil {
		t.Error("Resolve of unknown property should fail")
	}
}

func TestResolveSourceFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("rpc down")}
	c := NewCache(src, zap.NewNop())

	if _, err := c.Resolve(context.Background(), 1); err == nil {
		t.Error("Resolve should propagate source failure")
	}
}

func TestRefreshReplacesEntry(t *testing.T) {
	src := &fakeSource{props: []chain.Property{prop(1, true)}}
	c := NewCache(src, zap.NewNop())
	if err := c.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Ownership transferred on chain.
	updated := prop(1, false)
	updated.Owner = common.HexToAddress("0x1111111111111111111111111111111111111111")
	src.props = []chain.Property{updated}

	if err := c.Refresh(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	p, ok := c.Get(1)
	if !ok {
		t.Fatal("entry missing after refresh")
	}
	if p.Listed {
		t.Error("refresh kept stale listed flag")
	}
	if p.Owner != updated.Owner {
		t.Error("refresh kept stale owner")
	}
}

package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Property is the on-chain listing record as projected for this client.
// Price is in wei; the owner address is canonical (checksummed) form.
type Property struct {
	ID          uint64
	Owner       common.Address
	Price       *big.Int
	Title       string
	Category    string
	Images      []string
	Location    []string
	Documents   []string
	Description string
	NFTID       string
	Listed      bool
}

// PendingTx is a handle to a submitted, not yet confirmed transaction.
type PendingTx struct {
	Hash common.Hash
}

// TxStatus is the confirmed outcome of a submitted transaction.
type TxStatus int

const (
	TxConfirmed TxStatus = iota
	TxReverted
)

func (s TxStatus) String() string {
	switch s {
	case TxConfirmed:
		return "confirmed"
	case TxReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

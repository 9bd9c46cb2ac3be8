package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// marketABI covers the two entry points this client uses. The contract has
// no per-id getter; FetchProperties returns the full listing set.
const marketABI = `[
	{"inputs":[],"name":"FetchProperties","outputs":[{"components":[{"internalType":"uint256","name":"productID","type":"uint256"},{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"string","name":"propertyTitle","type":"string"},{"internalType":"string","name":"category","type":"string"},{"internalType":"string[]","name":"images","type":"string[]"},{"internalType":"string[]","name":"location","type":"string[]"},{"internalType":"string[]","name":"documents","type":"string[]"},{"internalType":"string","name":"description","type":"string"},{"internalType":"string","name":"nftId","type":"string"},{"internalType":"bool","name":"isListed","type":"bool"}],"internalType":"struct Novaland.Property[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"id","type":"uint256"},{"internalType":"address","name":"buyer","type":"address"}],"name":"PurchaseProperty","outputs":[],"stateMutability":"payable","type":"function"}
]`

// marketProperty mirrors the contract's Property tuple for ABI decoding.
type marketProperty struct {
	ProductID     *big.Int
	Owner         common.Address
	Price         *big.Int
	PropertyTitle string
	Category      string
	Images        []string
	Location      []string
	Documents     []string
	Description   string
	NftId         string
	IsListed      bool
}

const receiptPollInterval = 2 * time.Second

// Registry talks to the marketplace contract over an Ethereum RPC peer. The
// purchase entry point reverts atomically on-chain when its preconditions
// fail; this client only submits and observes.
type Registry struct {
	contract *bind.BoundContract
	backend  *ethclient.Client
	signer   *bind.TransactOpts
	address  common.Address
	logger   *zap.Logger
}

// Dial connects to the chain RPC endpoint and binds the marketplace contract.
// keyFile holds the session's hex-encoded ECDSA key used to sign purchases.
func Dial(ctx context.Context, rpcURL, contractAddr, keyFile string, logger *zap.Logger) (*Registry, error) {
	endpoint := strings.TrimSpace(rpcURL)
	if endpoint == "" {
		return nil, fmt.Errorf("chain rpc endpoint required")
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(marketABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parse market abi: %w", err)
	}

	key, err := gethcrypto.LoadECDSA(keyFile)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	addr := common.HexToAddress(contractAddr)
	return &Registry{
		contract: bind.NewBoundContract(addr, parsed, client, client, client),
		backend:  client,
		signer:   signer,
		address:  addr,
		logger:   logger,
	}, nil
}

// Properties returns the contract's full listing set.
func (r *Registry) Properties(ctx context.Context) ([]Property, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "FetchProperties"); err != nil {
		return nil, fmt.Errorf("fetch properties: %w", err)
	}
	raw := *abi.ConvertType(out[0], new([]marketProperty)).(*[]marketProperty)

	props := make([]Property, 0, len(raw))
	for _, p := range raw {
		if p.ProductID == nil || !p.ProductID.IsUint64() {
			r.logger.Warn("skipping property with invalid id")
			continue
		}
		props = append(props, Property{
			ID:          p.ProductID.Uint64(),
			Owner:       p.Owner,
			Price:       p.Price,
			Title:       p.PropertyTitle,
			Category:    p.Category,
			Images:      p.Images,
			Location:    p.Location,
			Documents:   p.Documents,
			Description: p.Description,
			NFTID:       p.NftId,
			Listed:      p.IsListed,
		})
	}
	return props, nil
}

// Purchase submits the value-transfer call for a property. The payment is
// attached as the transaction value; the contract reverts unless it equals
// the live listing price.
func (r *Registry) Purchase(ctx context.Context, productID uint64, buyer common.Address, payment *big.Int) (PendingTx, error) {
	if payment == nil || payment.Sign() <= 0 {
		return PendingTx{}, fmt.Errorf("payment must be positive")
	}
	opts := *r.signer
	opts.Context = ctx
	opts.Value = payment

	tx, err := r.contract.Transact(&opts, "PurchaseProperty", new(big.Int).SetUint64(productID), buyer)
	if err != nil {
		return PendingTx{}, fmt.Errorf("submit purchase: %w", err)
	}
	r.logger.Info("purchase transaction submitted",
		zap.Uint64("product_id", productID),
		zap.String("tx", tx.Hash().Hex()),
		zap.String("value_wei", payment.String()))
	return PendingTx{Hash: tx.Hash()}, nil
}

// Confirm waits for the transaction's receipt by polling. A submitted
// transaction is never retracted; the caller bounds the wait via ctx and must
// treat a returned error as an unknown outcome, not a failure.
func (r *Registry) Confirm(ctx context.Context, tx PendingTx) (TxStatus, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.backend.TransactionReceipt(ctx, tx.Hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == gethtypes.ReceiptStatusSuccessful {
				return TxConfirmed, nil
			}
			return TxReverted, nil
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet, keep polling.
		case err != nil:
			return 0, fmt.Errorf("fetch receipt for %s: %w", tx.Hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the RPC connection.
func (r *Registry) Close() {
	r.backend.Close()
}

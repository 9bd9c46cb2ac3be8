package session

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeWallet validates a hex wallet address and returns its canonical
// lowercase form. Threads and messages store wallets lowercased, so every
// address entering the system goes through here first.
func NormalizeWallet(wallet string) (string, error) {
	trimmed := strings.TrimSpace(wallet)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("invalid wallet address %q", wallet)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}

package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Directory is the external lookup from wallet address to display name.
// Wallets without a name may be absent from the result.
type Directory interface {
	Lookup(ctx context.Context, wallets []string) (map[string]string, error)
}

// Resolver memoizes directory lookups for the lifetime of the session.
// Unknown wallets resolve to a truncated-address label so callers always get
// something displayable.
type Resolver struct {
	dir    Directory
	logger *zap.Logger

	mu    sync.RWMutex
	names map[string]string
}

// NewResolver creates a resolver over the given directory.
func NewResolver(dir Directory, logger *zap.Logger) *Resolver {
	return &Resolver{
		dir:    dir,
		logger: logger,
		names:  make(map[string]string),
	}
}

// Resolve returns display names for the given wallets, batching a single
// directory lookup for the ones not yet cached. Lookup failures degrade to
// the fallback label; they are logged, never propagated.
func (r *Resolver) Resolve(ctx context.Context, wallets []string) map[string]string {
	result := make(map[string]string, len(wallets))
	seen := make(map[string]bool, len(wallets))
	var missing []string

	r.mu.RLock()
	for _, w := range wallets {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		if name, ok := r.names[w]; ok {
			result[w] = name
		} else {
			missing = append(missing, w)
		}
	}
	r.mu.RUnlock()

	if len(missing) > 0 {
		found, err := r.dir.Lookup(ctx, missing)
		if err != nil {
			r.logger.Warn("identity lookup failed", zap.Error(err), zap.Int("wallets", len(missing)))
			found = nil
		}
		r.mu.Lock()
		for _, w := range missing {
			name, ok := found[w]
			if !ok || name == "" {
				name = Shorten(w)
			}
			r.names[w] = name
			result[w] = name
		}
		r.mu.Unlock()
	}

	return result
}

// Shorten renders a wallet as its deterministic fallback label, e.g.
// "0x1234…abcd".
func Shorten(wallet string) string {
	if len(wallet) <= 10 {
		return wallet
	}
	return wallet[:6] + "…" + wallet[len(wallet)-4:]
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfirmTimeout bounds the wait for purchase transaction
// confirmation. A bounded wait keeps the "transaction submitted, outcome
// unknown" window finite for the user.
const DefaultConfirmTimeout = 3 * time.Minute

// Config represents a session's config.toml.
type Config struct {
	Wallet          string `toml:"wallet"`
	ChainRPC        string `toml:"chain_rpc"`
	ContractAddress string `toml:"contract_address"`
	KeyFile         string `toml:"key_file"`
	ConfirmTimeout  string `toml:"confirm_timeout"`
}

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ConfirmWait parses the configured confirmation timeout, falling back to
// DefaultConfirmTimeout when unset.
func (c *Config) ConfirmWait() (time.Duration, error) {
	if c.ConfirmTimeout == "" {
		return DefaultConfirmTimeout, nil
	}
	d, err := time.ParseDuration(c.ConfirmTimeout)
	if err != nil {
		return 0, fmt.Errorf("confirm_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("confirm_timeout must be positive, got %s", c.ConfirmTimeout)
	}
	return d, nil
}

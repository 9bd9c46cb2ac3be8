package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.parley.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".parley")
}

// Dir returns the session directory for a wallet.
func Dir(wallet string) string {
	return filepath.Join(BaseDir(), "sessions", wallet)
}

// LockPath returns the lock file path for a session.
func LockPath(wallet string) string {
	return filepath.Join(Dir(wallet), "LOCK")
}

// DBPath returns the negotiation store path for a session.
func DBPath(wallet string) string {
	return filepath.Join(Dir(wallet), "parley.db")
}

// LogDir returns the log directory for a session.
func LogDir(wallet string) string {
	return filepath.Join(Dir(wallet), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(wallet string) string {
	return filepath.Join(LogDir(wallet), "parleyd.log")
}

// ConfigPath returns the session config file path.
func ConfigPath(wallet string) string {
	return filepath.Join(Dir(wallet), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(wallet string) error {
	dirs := []string{
		Dir(wallet),
		LogDir(wallet),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

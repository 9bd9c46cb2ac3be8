package store

import (
	"context"
	"fmt"
	"strings"
)

// UpsertProfile records a wallet's display name in the identity directory.
func (db *DB) UpsertProfile(p *Profile) error {
	_, err := db.Exec(`
		INSERT INTO profiles (wallet, name) VALUES (?, ?)
		ON CONFLICT(wallet) DO UPDATE SET name = excluded.name`,
		p.Wallet, p.Name)
	return err
}

// Lookup implements the identity directory over the profiles table.
func (db *DB) Lookup(_ context.Context, wallets []string) (map[string]string, error) {
	return db.LookupProfiles(wallets)
}

// LookupProfiles returns display names for the given wallets. Wallets without
// a profile are simply absent from the result.
func (db *DB) LookupProfiles(wallets []string) (map[string]string, error) {
	if len(wallets) == 0 {
		return map[string]string{}, nil
	}

	placeholders := strings.Repeat("?,", len(wallets)-1) + "?"
	args := make([]any, len(wallets))
	for i, w := range wallets {
		args[i] = w
	}

	rows, err := db.Query(
		fmt.Sprintf(`SELECT wallet, name FROM profiles WHERE wallet IN (%s) AND name <> ''`, placeholders),
		args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := make(map[string]string)
	for rows.Next() {
		var wallet, name string
		if err := rows.Scan(&wallet, &name); err != nil {
			return nil, err
		}
		names[wallet] = name
	}
	return names, rows.Err()
}

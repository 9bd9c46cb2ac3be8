package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/novaland/parley/internal/config"
	"github.com/novaland/parley/internal/daemon"
	"github.com/novaland/parley/internal/session"
)

func main() {
	walletFlag := flag.String("wallet", "", "wallet address of the session to run")
	configFlag := flag.String("config", "", "config path (default: the session's config.toml)")
	flag.Parse()

	wallet, err := session.NormalizeWallet(*walletFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = session.ConfigPath(wallet)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config %s: %v\n", configPath, err)
		fmt.Fprintf(os.Stderr, "hint: the config needs chain_rpc, contract_address and key_file\n")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Wallet: wallet, Config: cfg}),
	)

	app.Run()
}

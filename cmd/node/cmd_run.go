package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"hotledger/config"
	"hotledger/logs"
	"hotledger/node"
	"hotledger/utils"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start a validator node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.Node.DataDir = dataDir
		}
		level := cfg.Node.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		logs.SetLevel(logs.ParseLevel(level))

		g, err := config.LoadGenesis(genesisFile)
		if err != nil {
			return err
		}

		path := keyFile
		if path == "" {
			path = cfg.Node.KeyFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(filepath.Dir(cfgFile), path)
			}
		}
		km, err := utils.LoadKeyFile(path)
		if err != nil {
			return err
		}

		n, err := node.New(node.Options{Config: cfg, Genesis: g, Key: km})
		if err != nil {
			return fmt.Errorf("create node: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		n.Start()
		defer n.Stop()
		logs.Info("node %s serving on %s", n.Address(), cfg.Server.ListenAddr)
		return node.NewServer(n, cfg.Server.RateLimit).ListenAndServe(ctx)
	},
}

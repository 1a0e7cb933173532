package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	genesisFile string
	keyFile     string
	dataDir     string
	logLevel    string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "trace|debug|verbose|info|warn|error, overrides config")

	runCmd.Flags().StringVarP(&cfgFile, "config", "c", "config.json", "config file path")
	runCmd.Flags().StringVarP(&genesisFile, "genesis", "g", "genesis.json", "genesis file path")
	runCmd.Flags().StringVarP(&keyFile, "key", "k", "", "private key file, defaults to config node.keyFile")
	runCmd.Flags().StringVarP(&dataDir, "data", "d", "", "data directory, overrides config")

	rootCmd.AddCommand(runCmd, keygenCmd, genesisCmd, simulateCmd)
}

var rootCmd = &cobra.Command{
	Use:           "hotledger",
	Short:         "hotledger is a permissioned proof-of-stake ledger node",
	SilenceUsage:  true,
	SilenceErrors: true,
}

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"hotledger/config"
	"hotledger/node"
	"hotledger/types"
	"hotledger/utils"

	"github.com/spf13/cobra"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "generate a node key and print its address",
	RunE: func(cmd *cobra.Command, args []string) error {
		km, err := utils.GenerateKeyManager()
		if err != nil {
			return err
		}
		if err := km.SaveKeyFile(keygenOut); err != nil {
			return err
		}
		fmt.Printf("address:    %s\n", types.AddressFromPubKey(km.PublicKeyBytes()))
		fmt.Printf("pubkey:     %x\n", km.PublicKeyBytes())
		fmt.Printf("bls pubkey: %x\n", km.BLSPublicKeyBytes())
		fmt.Printf("key file:   %s\n", keygenOut)
		return nil
	},
}

var (
	genNodes    int
	genOut      string
	genChainID  string
	genStake    uint64
	genBalance  uint64
	genDenom    string
	genHost     string
	genBasePort int
)

// genesisCmd 生成本地测试网：每个验证者一个目录，含私钥与配置，外加共享的 genesis.json
var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "generate keys, configs and a genesis file for a local testnet",
	RunE: func(cmd *cobra.Command, args []string) error {
		if genNodes <= 0 {
			return fmt.Errorf("--nodes must be positive")
		}
		keys := make([]*utils.KeyManager, genNodes)
		for i := range keys {
			km, err := utils.GenerateKeyManager()
			if err != nil {
				return err
			}
			keys[i] = km
		}
		g := node.LocalGenesis(genChainID, keys, genStake, genDenom, genBalance)
		urls := make(map[string]string, genNodes)
		for i := range g.Validators {
			addr := net.JoinHostPort(genHost, strconv.Itoa(genBasePort+i))
			g.Validators[i].URL = "https://" + addr
			urls[g.Validators[i].Address] = g.Validators[i].URL
		}
		if err := g.Validate(); err != nil {
			return err
		}
		if err := os.MkdirAll(genOut, 0o755); err != nil {
			return err
		}
		if err := g.SaveToFile(filepath.Join(genOut, "genesis.json")); err != nil {
			return err
		}

		for i, km := range keys {
			dir := filepath.Join(genOut, fmt.Sprintf("node%d", i))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			cfg := config.DefaultConfig()
			cfg.Node.DataDir = filepath.Join(dir, "data")
			cfg.Server.ListenAddr = net.JoinHostPort(genHost, strconv.Itoa(genBasePort+i))
			for addr, url := range urls {
				if addr != g.Validators[i].Address {
					cfg.Network.Peers[addr] = url
				}
			}
			if err := km.SaveKeyFile(filepath.Join(dir, cfg.Node.KeyFile)); err != nil {
				return err
			}
			if err := cfg.SaveToFile(filepath.Join(dir, "config.json")); err != nil {
				return err
			}
			fmt.Printf("node%d %s %s\n", i, g.Validators[i].Address, g.Validators[i].URL)
		}
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "node.key", "key file to write")

	genesisCmd.Flags().IntVarP(&genNodes, "nodes", "n", 4, "number of validators")
	genesisCmd.Flags().StringVarP(&genOut, "out", "o", "testnet", "output directory")
	genesisCmd.Flags().StringVar(&genChainID, "chain-id", "hotledger-local", "chain id")
	genesisCmd.Flags().Uint64Var(&genStake, "stake", 10, "stake per validator")
	genesisCmd.Flags().Uint64Var(&genBalance, "balance", 1_000_000, "initial balance per validator account")
	genesisCmd.Flags().StringVar(&genDenom, "denom", "X", "denomination of the initial balances")
	genesisCmd.Flags().StringVar(&genHost, "host", "127.0.0.1", "listen host written into configs")
	genesisCmd.Flags().IntVar(&genBasePort, "base-port", 6000, "first listen port")
}

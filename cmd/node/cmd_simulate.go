package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"hotledger/config"
	"hotledger/consensus"
	"hotledger/logs"
	"hotledger/node"

	"github.com/spf13/cobra"
)

var (
	simNodes     int
	simByzantine int
	simLatency   time.Duration
	simLoss      float64
	simTarget    uint64
	simDeadline  time.Duration
	simTimeout   time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "run an in-process cluster over a simulated network and check agreement",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logLevel != "" {
			logs.SetLevel(logs.ParseLevel(logLevel))
		} else {
			logs.SetLevel(logs.LevelWarning)
		}
		sim := consensus.DefaultSimConfig()
		sim.Network.NumNodes = simNodes
		sim.Network.NumByzantineNodes = simByzantine
		sim.Network.NetworkLatency = simLatency
		sim.Network.PacketLossRate = simLoss
		sim.TargetHeight = simTarget
		sim.Deadline = simDeadline

		cfg := config.DefaultConfig()
		cfg.Consensus.BaseTimeout = simTimeout
		cfg.Consensus.MaxTimeout = 10 * simTimeout

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := node.Simulate(ctx, sim, cfg)
		if res != nil {
			addrs := make([]string, 0, len(res.Heights))
			for a := range res.Heights {
				addrs = append(addrs, a)
			}
			sort.Strings(addrs)
			for _, a := range addrs {
				fmt.Printf("%s height=%d\n", a, res.Heights[a])
			}
			fmt.Printf("checked=%d agreed=%v elapsed=%s\n", res.Checked, res.Agreed, res.Elapsed.Round(time.Millisecond))
			if !res.Agreed {
				return fmt.Errorf("nodes disagree on committed blocks")
			}
		}
		return err
	},
}

func init() {
	simulateCmd.Flags().IntVarP(&simNodes, "nodes", "n", 4, "validators in genesis")
	simulateCmd.Flags().IntVarP(&simByzantine, "byzantine", "b", 1, "validators that never start")
	simulateCmd.Flags().DurationVar(&simLatency, "latency", 20*time.Millisecond, "per message latency")
	simulateCmd.Flags().Float64Var(&simLoss, "loss", 0, "packet loss rate in [0,1)")
	simulateCmd.Flags().Uint64VarP(&simTarget, "height", "t", 10, "target committed height")
	simulateCmd.Flags().DurationVar(&simDeadline, "deadline", 2*time.Minute, "give up after")
	simulateCmd.Flags().DurationVar(&simTimeout, "base-timeout", 500*time.Millisecond, "pacemaker base timeout")
}

package node

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"hotledger/config"
	"hotledger/consensus"
	"hotledger/types"
	"hotledger/utils"

	"github.com/holiman/uint256"
)

var ErrSimulationTimeout = errors.New("simulation deadline reached")

// SimResult 模拟结束时各节点的高度与一致性检查
type SimResult struct {
	Heights map[string]uint64
	// Agreed 所有诚实节点在共同高度上的区块哈希一致
	Agreed bool
	// Checked 参与比较的最高共同高度
	Checked uint64
	Elapsed time.Duration
}

// LocalGenesis 为给定密钥生成 N 验证者创世配置，每个账户持有 balance 个 denom
func LocalGenesis(chainID string, keys []*utils.KeyManager, stake uint64, denom string, balance uint64) *config.Genesis {
	g := config.DefaultGenesis()
	if chainID != "" {
		g.ChainID = chainID
	}
	for i, km := range keys {
		addr := types.AddressFromPubKey(km.PublicKeyBytes()).String()
		g.Validators = append(g.Validators, config.GenesisValidator{
			Address:    addr,
			PubKey:     hex.EncodeToString(km.PublicKeyBytes()),
			BLSPubKey:  hex.EncodeToString(km.BLSPublicKeyBytes()),
			Stake:      stake,
			Moniker:    fmt.Sprintf("validator-%d", i),
			Commission: "0.1",
		})
		if balance > 0 {
			g.Balances = append(g.Balances, config.GenesisBalance{
				Address: addr,
				Denom:   denom,
				Amount:  fmt.Sprintf("%d", balance),
			})
		}
	}
	return g
}

// Simulate 在进程内运行多节点网络，拜占庭节点在创世中登记但从不启动
func Simulate(ctx context.Context, sim *consensus.SimConfig, base *config.Config) (*SimResult, error) {
	if sim == nil {
		sim = consensus.DefaultSimConfig()
	}
	if base == nil {
		base = config.DefaultConfig()
	}
	total := sim.Network.NumNodes
	honest := total - sim.Network.NumByzantineNodes
	if total <= 0 || honest <= 0 {
		return nil, fmt.Errorf("simulation needs at least one honest node (nodes=%d byzantine=%d)", total, sim.Network.NumByzantineNodes)
	}

	keys := make([]*utils.KeyManager, total)
	for i := range keys {
		km, err := utils.GenerateKeyManager()
		if err != nil {
			return nil, err
		}
		keys[i] = km
	}
	g := LocalGenesis("hotledger-sim", keys, 10, "X", 1_000_000)

	nm := consensus.NewNetworkManager(sim.Network)
	defer nm.Close()

	nodes := make([]*Node, 0, honest)
	defer func() {
		for _, n := range nodes {
			n.Stop()
		}
	}()
	for i := 0; i < honest; i++ {
		cfg := *base
		cfg.Database.InMemory = true
		cfg.Node.DataDir = ""
		addr := types.AddressFromPubKey(keys[i].PublicKeyBytes())
		n, err := New(Options{Config: &cfg, Genesis: g, Key: keys[i], Transport: nm.Join(addr)})
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}

	// 每个发送者排几笔转账，所有诚实节点都收到，谁当领导者谁打包
	for i := 0; i < honest; i++ {
		to := types.AddressFromPubKey(keys[(i+1)%total].PublicKeyBytes())
		for nonce := uint64(0); nonce < 5; nonce++ {
			tx := &types.Transaction{
				Kind:   types.TxTransfer,
				From:   types.AddressFromPubKey(keys[i].PublicKeyBytes()),
				To:     to,
				Denom:  "X",
				Amount: uint256.NewInt(10 + nonce),
				Fee:    uint256.NewInt(1),
				Nonce:  nonce,
			}
			if err := tx.Sign(keys[i]); err != nil {
				return nil, err
			}
			for _, n := range nodes {
				if _, err := n.SubmitTransaction(tx); err != nil {
					n.Logger.Warn("[Sim] submit tx: %v", err)
				}
			}
		}
	}

	start := time.Now()
	for _, n := range nodes {
		n.Start()
	}

	deadline := sim.Deadline
	if deadline <= 0 {
		deadline = 2 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var waitErr error
wait:
	for {
		done := true
		for _, n := range nodes {
			if n.height() < sim.TargetHeight {
				done = false
				break
			}
		}
		if done {
			break
		}
		select {
		case <-waitCtx.Done():
			waitErr = ErrSimulationTimeout
			break wait
		case <-ticker.C:
		}
	}

	res := &SimResult{Heights: make(map[string]uint64, len(nodes)), Agreed: true, Elapsed: time.Since(start)}
	minHeight := nodes[0].height()
	for _, n := range nodes {
		h := n.height()
		res.Heights[n.address.String()] = h
		if h < minHeight {
			minHeight = h
		}
	}
	res.Checked = minHeight
	for h := uint64(1); h <= minHeight; h++ {
		ref, err := nodes[0].GetBlock(h)
		if err != nil {
			return res, fmt.Errorf("height %d: %w", h, err)
		}
		for _, n := range nodes[1:] {
			b, err := n.GetBlock(h)
			if err != nil {
				return res, fmt.Errorf("height %d on %s: %w", h, n.address.Short(), err)
			}
			if b.Hash() != ref.Hash() {
				res.Agreed = false
				nodes[0].Logger.Error("[Sim] fork at height %d: %s vs %s", h, ref.Hash().Short(), b.Hash().Short())
			}
		}
	}
	return res, waitErr
}

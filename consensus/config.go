package consensus

import "time"

// ============================================
// 模拟网络配置
// ============================================

type SimConfig struct {
	Network NetworkConfig
	// 所有诚实节点都提交到该高度后结束
	TargetHeight uint64
	// 整个模拟的时限
	Deadline time.Duration
}

type NetworkConfig struct {
	NumNodes int
	// 拜占庭节点在模拟中保持静默（崩溃故障）
	NumByzantineNodes int
	NetworkLatency    time.Duration
	PacketLossRate    float64 //丢包率，范围 0.0 到 1.0
	InboxSize         int
}

func DefaultSimConfig() *SimConfig {
	return &SimConfig{
		Network: NetworkConfig{
			NumNodes:          4,
			NumByzantineNodes: 1,
			NetworkLatency:    20 * time.Millisecond,
			PacketLossRate:    0.0,
			InboxSize:         4096,
		},
		TargetHeight: 10,
		Deadline:     2 * time.Minute,
	}
}

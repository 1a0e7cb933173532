// config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Config 主配置结构
type Config struct {
	Node      NodeConfig      `json:"node"`
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Network   NetworkConfig   `json:"network"`
	TxPool    TxPoolConfig    `json:"txpool"`
	Consensus ConsensusConfig `json:"consensus"`
	Ledger    LedgerConfig    `json:"ledger"`
	Slashing  SlashingConfig  `json:"slashing"`
}

// NodeConfig 节点本地配置
type NodeConfig struct {
	DataDir        string `json:"dataDir"`        // "data"
	KeyFile        string `json:"keyFile"`        // "node.key"
	LogLevel       string `json:"logLevel"`       // "info"
	LogBufferLines int    `json:"logBufferLines"` // 2000
}

// ServerConfig HTTP/3服务器配置
type ServerConfig struct {
	ListenAddr string `json:"listenAddr"` // "127.0.0.1:6000"

	// QUIC配置
	QUICKeepAlivePeriod time.Duration `json:"quicKeepAlivePeriod"` // 10 * time.Second
	QUICMaxIdleTimeout  time.Duration `json:"quicMaxIdleTimeout"`  // 5 * time.Minute

	// HTTP配置
	HTTPTimeout        time.Duration `json:"httpTimeout"`        // 30 * time.Second
	MaxRequestBodySize int64         `json:"maxRequestBodySize"` // 10 << 20 (10MB)
	RateLimit          int           `json:"rateLimit"`          // 每 IP 每秒请求数，0 不限

	// 证书配置
	CertValidityDays int `json:"certValidityDays"` // 365
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// BadgerDB配置
	ValueLogFileSize int64         `json:"valueLogFileSize"` // 64 << 20 (64MB)
	MaxBatchSize     int           `json:"maxBatchSize"`     // 100
	FlushInterval    time.Duration `json:"flushInterval"`    // 200 * time.Millisecond
	InMemory         bool          `json:"inMemory"`         // false

	// 写队列配置
	WriteQueueSize int `json:"writeQueueSize"` // 10000

	// 缓存配置
	BlockCacheSize int `json:"blockCacheSize"` // 256
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	// Peers 验证者地址 -> https 基地址
	Peers map[string]string `json:"peers"`

	InboxSize   int           `json:"inboxSize"`   // 20000
	SendTimeout time.Duration `json:"sendTimeout"` // 2 * time.Second

	// 仅模拟网络使用
	NetworkLatency time.Duration `json:"networkLatency"` // 20 * time.Millisecond
	PacketLossRate float64       `json:"packetLossRate"` // 0
}

// TxPoolConfig 交易池配置
type TxPoolConfig struct {
	MaxPendingTxs    int `json:"maxPendingTxs"`    // 10000
	SeenCacheSize    int `json:"seenCacheSize"`    // 100000
	MessageQueueSize int `json:"messageQueueSize"` // 10000
	MaxTxsPerBlock   int `json:"maxTxsPerBlock"`   // 10000
}

// ConsensusConfig 共识配置
type ConsensusConfig struct {
	// Pacemaker
	BaseTimeout       time.Duration `json:"baseTimeout"`       // 3 * time.Second
	TimeoutMultiplier float64       `json:"timeoutMultiplier"` // 1.5
	MaxTimeout        time.Duration `json:"maxTimeout"`        // 30 * time.Second

	// 空块提案与父块的最小间隔，有交易或证据时立即提案；上限为 BaseTimeout/4
	ProposalInterval time.Duration `json:"proposalInterval"` // 500 * time.Millisecond

	// 视图跳跃窗口，超过 current+MaxViewJump 的视图直接拒绝
	MaxViewJump uint64 `json:"maxViewJump"` // 100

	// "round_robin" 或 "weighted"
	LeaderSchedule string `json:"leaderSchedule"` // "round_robin"

	// 每多少个已决高度切换一次 epoch
	EpochLength uint64 `json:"epochLength"` // 100

	// 签名验证工作池
	VerifierWorkers   int `json:"verifierWorkers"`   // 8
	VerifierQueueSize int `json:"verifierQueueSize"` // 4096
}

// LedgerConfig 账本配置
type LedgerConfig struct {
	MaxDenomsPerAccount int `json:"maxDenomsPerAccount"` // 16
	MaxDenomLength      int `json:"maxDenomLength"`      // 32
}

// SlashingConfig 惩罚配置
type SlashingConfig struct {
	SlashRatio          string `json:"slashRatio"`          // "0.05"
	ReputationPenalty   string `json:"reputationPenalty"`   // "0.25"
	EvidenceWindow      int    `json:"evidenceWindow"`      // 4096
	MaxEvidencePerBlock int    `json:"maxEvidencePerBlock"` // 16
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir:        "data",
			KeyFile:        "node.key",
			LogLevel:       "info",
			LogBufferLines: 2000,
		},
		Server: ServerConfig{
			ListenAddr:          "127.0.0.1:6000",
			QUICKeepAlivePeriod: 10 * time.Second,
			QUICMaxIdleTimeout:  5 * time.Minute,
			HTTPTimeout:         30 * time.Second,
			MaxRequestBodySize:  10 << 20,
			RateLimit:           200,
			CertValidityDays:    365,
		},
		Database: DatabaseConfig{
			ValueLogFileSize: 64 << 20,
			MaxBatchSize:     100,
			FlushInterval:    200 * time.Millisecond,
			WriteQueueSize:   10000,
			BlockCacheSize:   256,
		},
		Network: NetworkConfig{
			Peers:          map[string]string{},
			InboxSize:      20000,
			SendTimeout:    2 * time.Second,
			NetworkLatency: 20 * time.Millisecond,
		},
		TxPool: TxPoolConfig{
			MaxPendingTxs:    10000,
			SeenCacheSize:    100000,
			MessageQueueSize: 10000,
			MaxTxsPerBlock:   10000,
		},
		Consensus: ConsensusConfig{
			BaseTimeout:       3 * time.Second,
			TimeoutMultiplier: 1.5,
			MaxTimeout:        30 * time.Second,
			ProposalInterval:  500 * time.Millisecond,
			MaxViewJump:       100,
			LeaderSchedule:    "round_robin",
			EpochLength:       100,
			VerifierWorkers:   8,
			VerifierQueueSize: 4096,
		},
		Ledger: LedgerConfig{
			MaxDenomsPerAccount: 16,
			MaxDenomLength:      32,
		},
		Slashing: SlashingConfig{
			SlashRatio:          "0.05",
			ReputationPenalty:   "0.25",
			EvidenceWindow:      4096,
			MaxEvidencePerBlock: 16,
		},
	}
}

// LoadFromFile 从 JSON 文件加载配置，缺省字段沿用默认值
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveToFile 写出配置
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate 验证配置合法性
func (c *Config) Validate() error {
	cc := c.Consensus
	if cc.BaseTimeout <= 0 {
		return fmt.Errorf("BaseTimeout must be positive")
	}
	if cc.TimeoutMultiplier < 1 {
		return fmt.Errorf("TimeoutMultiplier must be >= 1, got %v", cc.TimeoutMultiplier)
	}
	if cc.MaxTimeout < cc.BaseTimeout {
		return fmt.Errorf("MaxTimeout %v below BaseTimeout %v", cc.MaxTimeout, cc.BaseTimeout)
	}
	if cc.ProposalInterval < 0 {
		return fmt.Errorf("ProposalInterval must not be negative")
	}
	if cc.MaxViewJump == 0 {
		return fmt.Errorf("MaxViewJump must be positive")
	}
	if cc.LeaderSchedule != "round_robin" && cc.LeaderSchedule != "weighted" {
		return fmt.Errorf("unknown leader schedule %q", cc.LeaderSchedule)
	}
	if cc.EpochLength == 0 {
		return fmt.Errorf("EpochLength must be positive")
	}
	if cc.VerifierWorkers <= 0 {
		return fmt.Errorf("VerifierWorkers must be positive")
	}
	if c.Ledger.MaxDenomsPerAccount <= 0 {
		return fmt.Errorf("MaxDenomsPerAccount must be positive")
	}
	if c.TxPool.MaxTxsPerBlock <= 0 {
		return fmt.Errorf("MaxTxsPerBlock must be positive")
	}
	if c.Slashing.EvidenceWindow <= 0 {
		return fmt.Errorf("EvidenceWindow must be positive")
	}
	if c.Slashing.MaxEvidencePerBlock < 0 {
		return fmt.Errorf("MaxEvidencePerBlock must not be negative")
	}
	ratio, err := decimal.NewFromString(c.Slashing.SlashRatio)
	if err != nil {
		return fmt.Errorf("invalid SlashRatio: %w", err)
	}
	if ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("SlashRatio must be within [0, 1]")
	}
	if _, err := decimal.NewFromString(c.Slashing.ReputationPenalty); err != nil {
		return fmt.Errorf("invalid ReputationPenalty: %w", err)
	}
	return nil
}

// SlashRatio 解析后的惩罚比例
func (c *Config) SlashRatio() decimal.Decimal {
	d, err := decimal.NewFromString(c.Slashing.SlashRatio)
	if err != nil {
		return decimal.NewFromFloat(0.05)
	}
	return d
}

// ReputationPenalty 解析后的信誉扣减
func (c *Config) ReputationPenalty() decimal.Decimal {
	d, err := decimal.NewFromString(c.Slashing.ReputationPenalty)
	if err != nil {
		return decimal.NewFromFloat(0.25)
	}
	return d
}

package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"hotledger/config"
	"hotledger/consensus"
	"hotledger/db"
	"hotledger/handlers"
	"hotledger/interfaces"
	"hotledger/logs"
	"hotledger/network"
	"hotledger/slashing"
	"hotledger/stats"
	"hotledger/txpool"
	"hotledger/types"
	"hotledger/utils"
	"hotledger/validator"
	"hotledger/vm"

	"github.com/shopspring/decimal"
)

// Options 构造节点所需的输入
type Options struct {
	Config  *config.Config
	Genesis *config.Genesis
	Key     *utils.KeyManager
	// Transport 为 nil 时按配置创建 HTTP/3 传输
	Transport interfaces.Transport
	Logger    logs.Logger
}

// Node 一个验证者节点的全部组件
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	key     *utils.KeyManager
	address types.Address

	Logger     logs.Logger
	DB         *db.Manager
	Exec       *vm.Executor
	Validators *validator.Manager
	Slashing   *slashing.Monitor
	Stats      *stats.Stats
	TxPool     *txpool.TxPool
	Queue      *vm.CommitQueue
	Events     *consensus.EventBus
	Transport  interfaces.Transport
	Engine     *consensus.Engine
	Handlers   *handlers.HandlerManager

	// 只有真实网络下才有，用于交易转发
	http *network.HTTPTransport

	startOnce sync.Once
	stopOnce  sync.Once
}

// New 打开数据库、写入创世状态并装配共识引擎，不启动任何 goroutine
func New(opts Options) (*Node, error) {
	if opts.Config == nil || opts.Genesis == nil || opts.Key == nil {
		return nil, errors.New("node: config, genesis and key are required")
	}
	cfg := opts.Config
	n := &Node{
		cfg:     cfg,
		genesis: opts.Genesis,
		key:     opts.Key,
		address: types.AddressFromPubKey(opts.Key.PublicKeyBytes()),
		Logger:  opts.Logger,
	}
	if n.Logger == nil {
		n.Logger = logs.NewNodeLogger(n.address.String(), cfg.Node.LogBufferLines)
	}

	ok := false
	defer func() {
		if !ok && n.DB != nil {
			n.DB.Close()
		}
	}()

	// 1. 数据库
	mgr, err := db.NewManager(cfg.Node.DataDir, n.Logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	n.DB = mgr
	mgr.InitWriteQueue(cfg.Database.MaxBatchSize, cfg.Database.FlushInterval)

	// 2. 账本
	issuer := types.ZeroAddress
	if opts.Genesis.Issuer != "" {
		if issuer, err = types.ParseAddress(opts.Genesis.Issuer); err != nil {
			return nil, fmt.Errorf("genesis issuer: %w", err)
		}
	}
	n.Exec, err = vm.NewExecutor(mgr, issuer, cfg.Ledger, n.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init executor: %w", err)
	}
	genesisBlock, err := n.Exec.ApplyGenesis(opts.Genesis)
	if err != nil {
		return nil, fmt.Errorf("failed to apply genesis: %w", err)
	}

	// 3. 验证者集合
	initial, err := validator.SetFromGenesis(opts.Genesis)
	if err != nil {
		return nil, err
	}
	n.Validators, err = validator.NewManager(mgr, initial, validator.ManagerConfig{
		Schedule:          cfg.Consensus.LeaderSchedule,
		SlashRatio:        decimal.RequireFromString(cfg.Slashing.SlashRatio),
		ReputationPenalty: decimal.RequireFromString(cfg.Slashing.ReputationPenalty),
	}, n.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init validator manager: %w", err)
	}

	// 4. 指标与惩罚监控
	n.Stats = stats.NewStats(n.address.String())
	n.Stats.SetEpoch(n.Validators.Epoch())
	n.Slashing, err = slashing.NewMonitor(slashing.Config{
		Window:      cfg.Slashing.EvidenceWindow,
		MaxViewJump: cfg.Consensus.MaxViewJump,
	}, mgr, n.Stats, n.Logger)
	if err != nil {
		return nil, err
	}

	// 5. 交易池
	n.TxPool, err = txpool.NewTxPool(mgr, n.Exec, n.Exec, cfg.TxPool, n.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create TxPool: %w", err)
	}

	// 6. 提交队列
	n.Queue = vm.NewCommitQueue(n.Exec, 0, n.Logger)
	n.Queue.OnCommit(n.onCommit)

	// 7. 网络
	n.Transport = opts.Transport
	if n.Transport == nil {
		if n.http, err = n.newHTTPTransport(); err != nil {
			return nil, err
		}
		n.Transport = n.http
	}

	// 8. 共识
	n.Events = consensus.NewEventBus()
	n.Engine, err = consensus.NewEngine(consensus.EngineConfig{
		Consensus:   cfg.Consensus,
		MaxBlockTxs: cfg.TxPool.MaxTxsPerBlock,
		MaxEvidence: cfg.Slashing.MaxEvidencePerBlock,
		Genesis:     genesisBlock,
	}, consensus.Deps{
		Signer:     n.key,
		Transport:  n.Transport,
		Validators: n.Validators,
		Epochs:     n.Validators,
		Executor:   n.Exec,
		TxSource:   n.TxPool,
		Committer:  n.Queue,
		Evidence:   n.Slashing,
		Safety:     mgr,
		Blocks:     mgr,
		Events:     n.Events,
		Metrics:    n.Stats,
		Latency:    n.Stats.Latency,
		Logger:     n.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init consensus: %w", err)
	}

	// 9. HTTP 处理器
	var inbox interfaces.ConsensusInbox
	if in, isInbox := n.Transport.(interfaces.ConsensusInbox); isInbox {
		inbox = in
	}
	var peers handlers.PeerDirectory
	if n.http != nil {
		peers = n.http
	}
	n.Handlers = handlers.NewHandlerManager(n, inbox, n, peers, n.Stats, n.Logger.Name(), n.Logger)

	n.Stats.WatchQueues(n.DB, n.TxPool, n.Queue, n.Events)
	if n.http != nil {
		n.Stats.WatchQueues(n.http)
	}

	ok = true
	return n, nil
}

// newHTTPTransport 路由表取配置中的 peers 加上创世验证者登记的 URL
func (n *Node) newHTTPTransport() (*network.HTTPTransport, error) {
	peers, err := network.NewNetwork(n.address, n.cfg.Network.Peers)
	if err != nil {
		return nil, err
	}
	for _, gv := range n.genesis.Validators {
		if gv.URL == "" {
			continue
		}
		addr, err := types.ParseAddress(gv.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis validator %s: %w", gv.Address, err)
		}
		if !peers.IsKnownNode(addr) {
			peers.AddOrUpdateNode(addr, gv.URL)
		}
	}
	client := network.NewHTTP3Client(n.cfg.Server, n.cfg.Network.SendTimeout)
	return network.NewHTTPTransport(n.address, peers, client, n.cfg.Network, n.Logger), nil
}

func (n *Node) Address() types.Address { return n.address }

// Start 启动提交队列、交易池、网络与共识引擎
func (n *Node) Start() {
	n.startOnce.Do(func() {
		n.Queue.Start()
		n.TxPool.Start()
		if n.http != nil {
			n.http.Start()
		}
		n.Engine.Start()
		n.Logger.Info("[Node] %s started at height %d", n.address.Short(), n.height())
	})
}

// Stop 先停共识再停下游，最后关闭数据库
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.Engine.Stop()
		n.Events.Close()
		if n.http != nil {
			n.http.Stop()
		}
		n.Queue.Stop()
		n.TxPool.Stop()
		n.DB.Close()
		n.Logger.Info("[Node] %s stopped", n.address.Short())
	})
}

func (n *Node) height() uint64 {
	head, _ := n.Exec.Head()
	if head == nil {
		return 0
	}
	return head.Height
}

// onCommit 在提交 goroutine 中执行：清理交易池与证据池，发布决议事件
func (n *Node) onCommit(b *types.Block, res *vm.SpecResult) {
	removed := n.TxPool.RemoveIncluded(b.Txs)
	for _, r := range res.Receipts {
		n.Stats.TxExecuted(r.Status)
	}

	// 惩罚登记与 epoch 切换由引擎在决议时完成，这里只清理本地证据池
	if len(b.Evidence) > 0 {
		n.Slashing.MarkIncluded(b.Evidence)
	}
	n.Stats.SetHeight(b.Height)

	n.Events.PublishAsync(types.BaseEvent{
		EventType: types.EventBlockDecided,
		EventData: &types.BlockDecidedData{Block: b, Receipts: res.Receipts, StateRoot: res.StateRoot},
	})
	n.Logger.Debug("[Node] committed height=%d txs=%d pool_removed=%d", b.Height, len(b.Txs), removed)
}

// WaitForHeight 等待 block.decided 事件直到提交高度达到 h
func (n *Node) WaitForHeight(h uint64, timeout time.Duration) bool {
	reached := make(chan struct{})
	var once sync.Once
	cancel := n.Events.Subscribe(types.EventBlockDecided, func(e interfaces.Event) {
		if d, ok := e.Data().(*types.BlockDecidedData); ok && d.Block.Height >= h {
			once.Do(func() { close(reached) })
		}
	})
	defer cancel()
	if n.height() >= h {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-reached:
		return true
	case <-timer.C:
		// 异步队列满时事件可能被丢弃，以实际高度为准
		return n.height() >= h
	}
}

package consensus

import (
	"context"
	"sort"
	"sync"

	"hotledger/types"
)

// ============================================
// 网络管理器
// ============================================

// NetworkManager 模拟网络中所有节点的传输层与分区状态
type NetworkManager struct {
	config     NetworkConfig
	transports map[types.Address]*SimulatedTransport
	isolated   map[types.Address]bool
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
}

func NewNetworkManager(config NetworkConfig) *NetworkManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &NetworkManager{
		config:     config,
		transports: make(map[types.Address]*SimulatedTransport),
		isolated:   make(map[types.Address]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Join 为 addr 创建传输层，重复调用返回同一个
func (nm *NetworkManager) Join(addr types.Address) *SimulatedTransport {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if t, ok := nm.transports[addr]; ok {
		return t
	}
	t := newSimulatedTransport(nm.ctx, addr, nm)
	nm.transports[addr] = t
	return t
}

func (nm *NetworkManager) transport(addr types.Address) *SimulatedTransport {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.transports[addr]
}

// Peers 除 exclude 之外的所有节点，按地址排序
func (nm *NetworkManager) Peers(exclude types.Address) []types.Address {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	peers := make([]types.Address, 0, len(nm.transports))
	for addr := range nm.transports {
		if addr != exclude {
			peers = append(peers, addr)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].String() < peers[j].String() })
	return peers
}

// Isolate 切断 addr 与其他节点的全部连接
func (nm *NetworkManager) Isolate(addr types.Address) {
	nm.mu.Lock()
	nm.isolated[addr] = true
	nm.mu.Unlock()
}

func (nm *NetworkManager) Heal(addr types.Address) {
	nm.mu.Lock()
	delete(nm.isolated, addr)
	nm.mu.Unlock()
}

func (nm *NetworkManager) connected(from, to types.Address) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return !nm.isolated[from] && !nm.isolated[to]
}

// Close 丢弃所有在途消息
func (nm *NetworkManager) Close() {
	nm.cancel()
}

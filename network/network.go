package network

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"hotledger/types"
)

// PeerInfo 对等节点信息
type PeerInfo struct {
	Address  types.Address `json:"address"`
	URL      string        `json:"url"`
	IsOnline bool          `json:"isOnline"`
	LastSeen time.Time     `json:"lastSeen"`
	Failures int           `json:"failures"`
}

// Network 负责维护对等节点列表（验证者地址 -> https 基地址）
type Network struct {
	self  types.Address
	mu    sync.RWMutex
	nodes map[types.Address]*PeerInfo
}

// NewNetwork 从配置中的 bech32 地址 -> URL 表创建路由表，自己不进表
func NewNetwork(self types.Address, peers map[string]string) (*Network, error) {
	n := &Network{
		self:  self,
		nodes: make(map[types.Address]*PeerInfo, len(peers)),
	}
	for s, url := range peers {
		addr, err := types.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", s, err)
		}
		n.AddOrUpdateNode(addr, url)
	}
	return n, nil
}

// AddOrUpdateNode 更新或新增节点信息
func (n *Network) AddOrUpdateNode(addr types.Address, url string) {
	if addr == n.self || url == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if info, ok := n.nodes[addr]; ok {
		info.URL = url
		return
	}
	n.nodes[addr] = &PeerInfo{Address: addr, URL: url}
}

// MarkResult 记录一次发送结果
func (n *Network) MarkResult(addr types.Address, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	info, found := n.nodes[addr]
	if !found {
		return
	}
	info.IsOnline = ok
	if ok {
		info.LastSeen = time.Now()
		info.Failures = 0
	} else {
		info.Failures++
	}
}

// GetNode 获取某个地址对应的节点信息副本
func (n *Network) GetNode(addr types.Address) (PeerInfo, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	info, ok := n.nodes[addr]
	if !ok {
		return PeerInfo{}, false
	}
	return *info, true
}

// GetAllNodes 按地址排序返回所有节点信息
func (n *Network) GetAllNodes() []PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]PeerInfo, 0, len(n.nodes))
	for _, info := range n.nodes {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Addresses 排序后的对等节点地址
func (n *Network) Addresses() []types.Address {
	nodes := n.GetAllNodes()
	out := make([]types.Address, len(nodes))
	for i, info := range nodes {
		out[i] = info.Address
	}
	return out
}

// IsKnownNode 判断节点是否在本地路由表里
func (n *Network) IsKnownNode(addr types.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.nodes[addr]
	return ok
}

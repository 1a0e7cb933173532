package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"hotledger/config"
	"hotledger/logs"
	"hotledger/stats"
	"hotledger/types"
)

const (
	ConsensusPath = "/consensus"
	TxPath        = "/tx"
	// GossipHeader 标记节点间转发的交易，接收方走异步队列
	GossipHeader = "X-Hotledger-Gossip"
)

var (
	ErrUnknownPeer = errors.New("unknown peer")
	ErrInboxFull   = errors.New("consensus inbox full")
)

type httpStatusError struct {
	path       string
	statusCode int
	body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.path, e.statusCode, e.body)
}

// HTTPTransport 通过 HTTP/3 POST 收发共识消息与交易
type HTTPTransport struct {
	self   types.Address
	peers  *Network
	client *http.Client
	queue  *MessageQueue
	inbox  chan types.Message
	cfg    config.NetworkConfig

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once

	Logger logs.Logger
}

// NewHTTPTransport client 为 nil 时使用 http.DefaultClient
func NewHTTPTransport(self types.Address, peers *Network, client *http.Client, cfg config.NetworkConfig, logger logs.Logger) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 20000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = logs.NewNodeLogger("network", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPTransport{
		self:   self,
		peers:  peers,
		client: client,
		queue:  NewMessageQueue(cfg.InboxSize/4, 4*cfg.SendTimeout, logger),
		inbox:  make(chan types.Message, cfg.InboxSize),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		Logger: logger,
	}
}

func (t *HTTPTransport) Start() {
	t.startOnce.Do(func() {
		t.queue.Start(8, t.post)
	})
}

func (t *HTTPTransport) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		t.queue.Stop()
		if c, ok := t.client.Transport.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

// Send 编码后进入控制面队列
func (t *HTTPTransport) Send(to types.Address, msg types.Message) error {
	if !t.peers.IsKnownNode(to) {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to.Short())
	}
	body, err := types.EncodeMessage(msg)
	if err != nil {
		return err
	}
	t.queue.Enqueue(&Message{To: to, Path: ConsensusPath, Body: body, Retry: 1, Priority: PriorityControl})
	return nil
}

// Broadcast 只编码一次
func (t *HTTPTransport) Broadcast(msg types.Message, peers []types.Address) {
	body, err := types.EncodeMessage(msg)
	if err != nil {
		t.Logger.Warn("[Transport] encode %s failed: %v", msg.Type(), err)
		return
	}
	for _, p := range peers {
		if p == t.self || !t.peers.IsKnownNode(p) {
			continue
		}
		t.queue.Enqueue(&Message{To: p, Path: ConsensusPath, Body: body, Retry: 1, Priority: PriorityControl})
	}
}

func (t *HTTPTransport) Receive() <-chan types.Message {
	return t.inbox
}

func (t *HTTPTransport) Peers() []types.Address {
	return t.peers.Addresses()
}

// Deliver 入站消息交给引擎，收件箱满时拒绝
func (t *HTTPTransport) Deliver(msg types.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", types.ErrMalformedMessage)
	}
	select {
	case t.inbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// GossipTx 将交易转发给所有对等节点（数据面）
func (t *HTTPTransport) GossipTx(tx *types.Transaction) {
	body, err := json.Marshal(tx)
	if err != nil {
		t.Logger.Warn("[Transport] encode tx failed: %v", err)
		return
	}
	for _, p := range t.peers.Addresses() {
		t.queue.Enqueue(&Message{To: p, Path: TxPath, Body: body, Gossip: true, Priority: PriorityData})
	}
}

// PeerInfos 对外展示路由表
func (t *HTTPTransport) PeerInfos() []PeerInfo {
	return t.peers.GetAllNodes()
}

func (t *HTTPTransport) QueueStats() []stats.QueueStat {
	return append(t.queue.QueueStats(), stats.QueueOf("network", "inbox", t.inbox))
}

func (t *HTTPTransport) post(msg *Message) error {
	info, ok := t.peers.GetNode(msg.To)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, msg.To.Short())
	}
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.SendTimeout)
	defer cancel()

	url := strings.TrimRight(info.URL, "/") + msg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(msg.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.Gossip {
		req.Header.Set(GossipHeader, t.self.String())
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.peers.MarkResult(msg.To, false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.peers.MarkResult(msg.To, false)
		return &httpStatusError{path: msg.Path, statusCode: resp.StatusCode, body: string(data)}
	}
	// 读完 body 以便连接复用
	_, _ = io.Copy(io.Discard, resp.Body)
	t.peers.MarkResult(msg.To, true)
	return nil
}

package consensus

import (
	"context"
	"math/rand"
	"time"

	"hotledger/interfaces"
	"hotledger/types"
)

// SimulatedTransport 进程内传输，消息经过编解码，带延迟和丢包
type SimulatedTransport struct {
	self           types.Address
	inbox          chan types.Message
	network        *NetworkManager
	ctx            context.Context
	networkLatency time.Duration
	packetLossRate float64 // 丢包率
}

var _ interfaces.Transport = (*SimulatedTransport)(nil)

func newSimulatedTransport(ctx context.Context, self types.Address, network *NetworkManager) *SimulatedTransport {
	size := network.config.InboxSize
	if size <= 0 {
		size = 4096
	}
	return &SimulatedTransport{
		self:           self,
		inbox:          make(chan types.Message, size),
		network:        network,
		ctx:            ctx,
		networkLatency: network.config.NetworkLatency,
		packetLossRate: network.config.PacketLossRate,
	}
}

func (t *SimulatedTransport) Send(to types.Address, msg types.Message) error {
	data, err := types.EncodeMessage(msg)
	if err != nil {
		return err
	}
	// 模拟网络丢包，发送方不知道丢包
	if t.packetLossRate > 0 && rand.Float64() < t.packetLossRate {
		return nil
	}
	if !t.network.connected(t.self, to) {
		return nil
	}
	go func() {
		delay := t.networkLatency
		if delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay/2) + 1))
			select {
			case <-time.After(delay):
			case <-t.ctx.Done():
				return
			}
		}
		receiver := t.network.transport(to)
		if receiver == nil {
			return
		}
		m, err := types.DecodeMessage(data)
		if err != nil {
			return
		}
		select {
		case receiver.inbox <- m:
		case <-time.After(100 * time.Millisecond):
		case <-t.ctx.Done():
		}
	}()
	return nil
}

func (t *SimulatedTransport) Receive() <-chan types.Message {
	return t.inbox
}

func (t *SimulatedTransport) Broadcast(msg types.Message, peers []types.Address) {
	for _, peer := range peers {
		t.Send(peer, msg)
	}
}

func (t *SimulatedTransport) Peers() []types.Address {
	return t.network.Peers(t.self)
}

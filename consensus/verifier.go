package consensus

import (
	"context"
	"fmt"

	"hotledger/logs"
	"hotledger/types"

	"golang.org/x/sync/errgroup"
)

// Verifier 并行验证入站消息的签名与 QC，通过验证的消息串行交给引擎
type Verifier struct {
	vals    ValidatorSource
	genesis types.Hash
	sigs    *SigCache
	workers int
	out     chan types.Message
	metrics Metrics
	Logger  logs.Logger
}

func NewVerifier(vals ValidatorSource, genesis types.Hash, sigs *SigCache, workers, queue int, metrics Metrics, logger logs.Logger) *Verifier {
	if workers <= 0 {
		workers = 8
	}
	if queue <= 0 {
		queue = 1024
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Verifier{
		vals:    vals,
		genesis: genesis,
		sigs:    sigs,
		workers: workers,
		out:     make(chan types.Message, queue),
		metrics: metrics,
		Logger:  logger,
	}
}

// Out 验证通过的消息
func (v *Verifier) Out() <-chan types.Message { return v.out }

// Run 消费 in 直到 ctx 取消或 in 关闭。SetLimit 限制同时验签的数量
func (v *Verifier) Run(ctx context.Context, in <-chan types.Message) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-in:
			if !ok {
				break loop
			}
			g.Go(func() error {
				if err := v.Verify(msg); err != nil {
					v.metrics.MessageDropped(dropReason(err))
					v.Logger.Debug("[Verifier] drop %s: %v", msg.Type(), err)
					return nil
				}
				select {
				case v.out <- msg:
				case <-gctx.Done():
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}

// Verify 与引擎状态无关的检查：签名、作者身份、所带 QC
func (v *Verifier) Verify(msg types.Message) error {
	set, _ := v.vals.Schedule()
	switch m := msg.(type) {
	case *types.Proposal:
		if m.Block == nil || m.JustifyQC == nil {
			return fmt.Errorf("%w: incomplete proposal", types.ErrMalformedMessage)
		}
		if err := m.VerifySignature(); err != nil {
			return err
		}
		if !set.IsActive(m.Proposer) {
			return fmt.Errorf("%w: proposer %s", ErrNotValidator, m.Proposer.Short())
		}
		if m.Block.Proposer != m.Proposer || m.Block.View != m.View {
			return fmt.Errorf("%w: block header does not match proposal", types.ErrMalformedMessage)
		}
		if m.Block.JustifyQC == nil || m.Block.JustifyQC.Hash() != m.JustifyQC.Hash() {
			return fmt.Errorf("%w: block justify differs from proposal justify", types.ErrMalformedMessage)
		}
		return VerifyQC(m.JustifyQC, v.vals, v.genesis)
	case *types.Vote:
		return VerifyVote(m, set, v.sigs)
	case *types.QCMessage:
		return VerifyQC(m.QC, v.vals, v.genesis)
	case *types.NewView:
		if m.HighQC == nil {
			return fmt.Errorf("%w: new-view without qc", types.ErrMalformedMessage)
		}
		if err := m.VerifySignature(); err != nil {
			return err
		}
		if !set.IsActive(m.Sender) {
			return fmt.Errorf("%w: sender %s", ErrNotValidator, m.Sender.Short())
		}
		return VerifyQC(m.HighQC, v.vals, v.genesis)
	default:
		return fmt.Errorf("%w: unexpected message %T", types.ErrMalformedMessage, msg)
	}
}

package consensus

import (
	"errors"
	"fmt"

	"hotledger/types"
)

// ErrNonSequentialView 本节点自身推进视图只能 +1
var ErrNonSequentialView = errors.New("own view advance must be sequential")

// ViewTracker 当前视图与跳跃窗口。只由引擎 goroutine 访问
type ViewTracker struct {
	current uint64
	maxJump uint64
}

func NewViewTracker(start, maxJump uint64) *ViewTracker {
	if maxJump == 0 {
		maxJump = 100
	}
	return &ViewTracker{current: start, maxJump: maxJump}
}

func (t *ViewTracker) Current() uint64 { return t.current }

// Classify 对比对端消息的视图：<0 过期，0 当前，>0 可快进
func (t *ViewTracker) Classify(view uint64) (int, error) {
	switch {
	case view < t.current:
		return -1, fmt.Errorf("%w: view %d, current %d", types.ErrStaleView, view, t.current)
	case view == t.current:
		return 0, nil
	case view-t.current > t.maxJump:
		return 1, fmt.Errorf("%w: view %d, current %d, window %d", types.ErrSuspiciousViewJump, view, t.current, t.maxJump)
	}
	return 1, nil
}

// Advance 本节点自身推进：只接受 current+1
func (t *ViewTracker) Advance(next uint64) error {
	if next <= t.current {
		return fmt.Errorf("%w: view %d, current %d", types.ErrStaleView, next, t.current)
	}
	if next-t.current > t.maxJump {
		return fmt.Errorf("%w: view %d, current %d, window %d", types.ErrSuspiciousViewJump, next, t.current, t.maxJump)
	}
	if next != t.current+1 {
		return fmt.Errorf("%w: %d -> %d", ErrNonSequentialView, t.current, next)
	}
	t.current = next
	return nil
}

// FastForward 按对端证明的视图逐步推进到 target，返回推进的步数
func (t *ViewTracker) FastForward(target uint64) (uint64, error) {
	if _, err := t.Classify(target); err != nil {
		return 0, err
	}
	var steps uint64
	for t.current < target {
		if err := t.Advance(t.current + 1); err != nil {
			return steps, err
		}
		steps++
	}
	return steps, nil
}

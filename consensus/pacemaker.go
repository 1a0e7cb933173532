package consensus

import (
	"math"
	"time"
)

// Pacemaker 视图超时。第 k 次连续超时的时长为 base*multiplier^k，封顶 max
type Pacemaker struct {
	base       time.Duration
	multiplier float64
	max        time.Duration

	failures int
	view     uint64
	timer    *time.Timer
}

func NewPacemaker(base time.Duration, multiplier float64, max time.Duration) *Pacemaker {
	if base <= 0 {
		base = 3 * time.Second
	}
	if multiplier < 1 {
		multiplier = 1.5
	}
	if max < base {
		max = base
	}
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &Pacemaker{base: base, multiplier: multiplier, max: max, timer: t}
}

// Duration 连续失败 k 次之后的超时时长
func (p *Pacemaker) Duration(k int) time.Duration {
	d := float64(p.base) * math.Pow(p.multiplier, float64(k))
	if d >= float64(p.max) || math.IsInf(d, 0) {
		return p.max
	}
	return time.Duration(d)
}

// Start 为 view 重新计时
func (p *Pacemaker) Start(view uint64) time.Duration {
	p.view = view
	d := p.Duration(p.failures)
	p.timer.Reset(d)
	return d
}

// C 超时通道，触发时对应 View()
func (p *Pacemaker) C() <-chan time.Time { return p.timer.C }

func (p *Pacemaker) View() uint64 { return p.view }

// OnTimeout 记一次失败，下次超时变长
func (p *Pacemaker) OnTimeout() { p.failures++ }

// OnProgress 区块决议后恢复基础超时
func (p *Pacemaker) OnProgress() { p.failures = 0 }

func (p *Pacemaker) Failures() int { return p.failures }

func (p *Pacemaker) Stop() { p.timer.Stop() }

package slashing

import (
	"errors"
	"fmt"
	"sync"

	"hotledger/logs"
	"hotledger/types"
	"hotledger/utils"
	"hotledger/validator"

	lru "github.com/hashicorp/golang-lru"
)

var (
	ErrUnknownValidator = errors.New("evidence names unknown validator")
	ErrAlreadyCommitted = errors.New("evidence already committed")
	ErrDuplicateInBlock = errors.New("duplicate evidence in block")
)

// EvidenceStore 证据存档（db.Manager 实现）
type EvidenceStore interface {
	SaveEvidence(ev *types.Evidence) error
	HasEvidence(ev *types.Evidence) bool
}

// Metrics 证据计数（stats.Stats 实现）
type Metrics interface {
	EvidenceObserved(kind string)
}

// Config 监控参数
type Config struct {
	Window      int    // 证据窗口容量
	MaxViewJump uint64 // 超过 current+MaxViewJump 的 NewView 记为可疑跳跃
}

// voteRecord 某验证者在某视图下每个阶段的第一张投票
type voteRecord struct {
	validator types.Address
	view      uint64
	votes     [3]*types.Vote
}

// Monitor 观察投票与 NewView，发现双签和视图回退后排队等待打包
type Monitor struct {
	mu       sync.Mutex
	window   *lru.Cache // MurmurHashPair(validator, view) -> *voteRecord
	reported *lru.Cache // evidenceKey -> struct{}
	highest  map[types.Address]uint64
	topVote  map[types.Address]*types.Vote // 每个验证者签过的最高视图投票
	pending  []*types.Evidence

	maxViewJump uint64
	store       EvidenceStore
	metrics     Metrics
	Logger      logs.Logger
}

func NewMonitor(cfg Config, store EvidenceStore, metrics Metrics, logger logs.Logger) (*Monitor, error) {
	if cfg.Window <= 0 {
		cfg.Window = 4096
	}
	if logger == nil {
		logger = logs.NewNodeLogger("slashing", 0)
	}
	window, err := lru.New(cfg.Window)
	if err != nil {
		return nil, err
	}
	reported, err := lru.New(cfg.Window)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		window:      window,
		reported:    reported,
		highest:     make(map[types.Address]uint64),
		topVote:     make(map[types.Address]*types.Vote),
		maxViewJump: cfg.MaxViewJump,
		store:       store,
		metrics:     metrics,
		Logger:      logger,
	}, nil
}

func evidenceKey(ev *types.Evidence) string {
	return fmt.Sprintf("%s/%d/%d", ev.Validator, ev.View, ev.Kind)
}

// ObserveVote 记录已验签的投票；与窗口内同 (view, phase) 的投票冲突时返回双签证据
func (m *Monitor) ObserveVote(v *types.Vote) *types.Evidence {
	if v == nil || !v.Phase.Votable() {
		return nil
	}
	m.mu.Lock()
	if v.View > m.highest[v.Voter] {
		m.highest[v.Voter] = v.View
	}
	top := m.topVote[v.Voter]
	if top == nil || v.View > top.View {
		m.topVote[v.Voter] = v
	} else if v.View < top.View {
		m.mu.Unlock()
		return m.voteRegression(top, v)
	}
	key := utils.MurmurHashPair(v.Voter[:], v.View)
	var rec *voteRecord
	if cached, ok := m.window.Get(key); ok {
		rec = cached.(*voteRecord)
		if rec.validator != v.Voter || rec.view != v.View {
			rec = nil // 哈希碰撞，覆盖旧记录
		}
	}
	if rec == nil {
		rec = &voteRecord{validator: v.Voter, view: v.View}
		m.window.Add(key, rec)
	}
	slot := int(v.Phase) - 1
	first := rec.votes[slot]
	if first == nil {
		rec.votes[slot] = v
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	if !first.ConflictsWith(v) {
		return nil
	}
	return m.ReportEquivocation(first, v)
}

// voteRegression 投票视图低于该验证者已签过的视图。
// 两张票的签名顺序无法从到达顺序证明，所以只在本地记录，不打包
func (m *Monitor) voteRegression(top, v *types.Vote) *types.Evidence {
	ev := &types.Evidence{
		Kind:      types.EvidenceViewRegression,
		Validator: v.Voter,
		View:      v.View,
		VoteA:     top,
		VoteB:     v,
	}
	if !m.recordLocal(ev) {
		return nil
	}
	m.Logger.Warn("[Slashing] view regression by %s: vote for view %d after signing view %d",
		v.Voter.Short(), v.View, top.View)
	return ev
}

// ReportEquivocation 排队一份双签证据，同一 (验证者, 视图) 只排一次
func (m *Monitor) ReportEquivocation(a, b *types.Vote) *types.Evidence {
	ev := &types.Evidence{
		Kind:      types.EvidenceEquivocation,
		Validator: a.Voter,
		View:      a.View,
		VoteA:     a,
		VoteB:     b,
	}
	if err := ev.ValidateBasic(); err != nil {
		m.Logger.Debug("[Slashing] ignore equivocation report: %v", err)
		return nil
	}
	if !m.enqueue(ev) {
		return nil
	}
	m.Logger.Warn("[Slashing] equivocation by %s at view %d phase %s (%s vs %s)",
		a.Voter.Short(), a.View, a.Phase, a.BlockHash.Short(), b.BlockHash.Short())
	return ev
}

// ObserveNewView 检查已验签的 NewView。
// 声称视图不高于所带 QC 的视图是可证明的回退；超出跳跃窗口只在本地记录
func (m *Monitor) ObserveNewView(nv *types.NewView, currentView uint64) *types.Evidence {
	if nv == nil || nv.HighQC == nil {
		return nil
	}
	if nv.HighQC.View >= nv.View {
		ev := &types.Evidence{
			Kind:      types.EvidenceViewRegression,
			Validator: nv.Sender,
			View:      nv.View,
			NewView:   nv,
		}
		if !m.enqueue(ev) {
			return nil
		}
		m.Logger.Warn("[Slashing] view regression by %s: new-view %d carries qc of view %d",
			nv.Sender.Short(), nv.View, nv.HighQC.View)
		return ev
	}
	if m.maxViewJump > 0 && nv.View > currentView+m.maxViewJump {
		ev := &types.Evidence{Kind: types.EvidenceViewJump, Validator: nv.Sender, View: nv.View}
		if !m.recordLocal(ev) {
			return nil
		}
		m.Logger.Warn("[Slashing] suspicious view jump from %s: %d while at %d", nv.Sender.Short(), nv.View, currentView)
		return ev
	}
	m.mu.Lock()
	if nv.View > m.highest[nv.Sender] {
		m.highest[nv.Sender] = nv.View
	}
	m.mu.Unlock()
	return nil
}

// ObserveUnsafeExtension 提案违反锁定规则。单条提案不足以证明作恶，只计数和记录
func (m *Monitor) ObserveUnsafeExtension(proposer types.Address, view uint64, justifyView, lockedView uint64) {
	if m.metrics != nil {
		m.metrics.EvidenceObserved("unsafe_extension")
	}
	m.Logger.Warn("[Slashing] unsafe extension by %s at view %d: justify view %d below locked view %d",
		proposer.Short(), view, justifyView, lockedView)
}

// HighestView 验证者投票或 NewView 中出现过的最高视图
func (m *Monitor) HighestView(addr types.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highest[addr]
}

func (m *Monitor) enqueue(ev *types.Evidence) bool {
	key := evidenceKey(ev)
	m.mu.Lock()
	if ok, _ := m.reported.ContainsOrAdd(key, struct{}{}); ok {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()
	if m.store != nil && m.store.HasEvidence(ev) {
		return false
	}
	m.mu.Lock()
	m.pending = append(m.pending, ev)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.EvidenceObserved(ev.Kind.String())
	}
	return true
}

// recordLocal 只记录不打包的证据，首次出现时返回 true
func (m *Monitor) recordLocal(ev *types.Evidence) bool {
	key := evidenceKey(ev)
	m.mu.Lock()
	seen, _ := m.reported.ContainsOrAdd(key, struct{}{})
	m.mu.Unlock()
	if seen {
		return false
	}
	if m.metrics != nil {
		m.metrics.EvidenceObserved(ev.Kind.String())
	}
	if m.store != nil {
		if err := m.store.SaveEvidence(ev); err != nil {
			m.Logger.Error("[Slashing] save local evidence: %v", err)
		}
	}
	return true
}

// Pending 待打包证据的前 max 条，不移出队列
func (m *Monitor) Pending(max int) []*types.Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.pending)
	if max >= 0 && max < n {
		n = max
	}
	out := make([]*types.Evidence, n)
	copy(out, m.pending[:n])
	return out
}

func (m *Monitor) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Drain 取出全部待打包证据
func (m *Monitor) Drain() []*types.Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

// MarkIncluded 区块提交后移除已打包的证据，其他节点打包的同一证据也不再排队
func (m *Monitor) MarkIncluded(evs []*types.Evidence) {
	if len(evs) == 0 {
		return
	}
	included := make(map[string]struct{}, len(evs))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range evs {
		k := evidenceKey(ev)
		included[k] = struct{}{}
		m.reported.Add(k, struct{}{})
	}
	kept := m.pending[:0]
	for _, ev := range m.pending {
		if _, ok := included[evidenceKey(ev)]; !ok {
			kept = append(kept, ev)
		}
	}
	m.pending = kept
}

// CheckBlockEvidence 验证提案中的证据：签名有效、未提交过、块内不重复
func (m *Monitor) CheckBlockEvidence(evs []*types.Evidence, set *validator.Set) error {
	seen := make(map[string]struct{}, len(evs))
	for _, ev := range evs {
		if err := VerifyEvidence(ev, set); err != nil {
			return err
		}
		k := evidenceKey(ev)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateInBlock, ev)
		}
		seen[k] = struct{}{}
		if m.store != nil && m.store.HasEvidence(ev) {
			return fmt.Errorf("%w: %s", ErrAlreadyCommitted, ev)
		}
	}
	return nil
}

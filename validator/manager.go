package validator

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"hotledger/logs"
	"hotledger/types"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownValidator = errors.New("unknown validator")
	ErrUnknownEpoch     = errors.New("unknown epoch")
)

// Store 验证者快照的持久化（db.Manager 实现）
type Store interface {
	SaveValidatorSet(epoch uint64, vals []*types.ValidatorInfo) error
	LoadValidatorSet(epoch uint64) ([]*types.ValidatorInfo, error)
	GetLatestEpoch() (uint64, error)
}

// ChangeKind 暂存的验证者变更类型
type ChangeKind uint8

const (
	ChangeAdd ChangeKind = iota + 1
	ChangeRemove
	ChangeSlash
	ChangeStake
	ChangeJail
	ChangeUnjail
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeRemove:
		return "remove"
	case ChangeSlash:
		return "slash"
	case ChangeStake:
		return "stake"
	case ChangeJail:
		return "jail"
	case ChangeUnjail:
		return "unjail"
	}
	return fmt.Sprintf("change(%d)", uint8(k))
}

// Change 在下一个 epoch 边界生效的变更
type Change struct {
	Kind      ChangeKind
	Address   types.Address
	Validator *types.ValidatorInfo // ChangeAdd
	Stake     uint64               // ChangeStake
	Reason    string
}

// ManagerConfig 管理器参数
type ManagerConfig struct {
	Schedule          string
	SlashRatio        decimal.Decimal
	ReputationPenalty decimal.Decimal
	HistorySize       int
}

type snapshot struct {
	set   *Set
	sched LeaderSchedule
}

// Manager 持有当前 epoch 的验证者快照，变更只在 AdvanceEpoch 时生效
type Manager struct {
	current atomic.Pointer[snapshot]

	mu      sync.Mutex
	staged  []Change
	history *lru.Cache // epoch -> *Set
	store   Store
	cfg     ManagerConfig

	Logger logs.Logger
}

// NewManager 从存储恢复最新 epoch；存储为空时持久化 initial
func NewManager(store Store, initial *Set, cfg ManagerConfig, logger logs.Logger) (*Manager, error) {
	if logger == nil {
		logger = logs.NewNodeLogger("validator", 0)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 16
	}
	history, err := lru.New(cfg.HistorySize)
	if err != nil {
		return nil, err
	}
	m := &Manager{history: history, store: store, cfg: cfg, Logger: logger}

	set := initial
	if store != nil {
		if latest, err := store.GetLatestEpoch(); err == nil {
			vals, err := store.LoadValidatorSet(latest)
			if err != nil {
				return nil, fmt.Errorf("load validator set %d: %w", latest, err)
			}
			if set, err = NewSet(latest, vals); err != nil {
				return nil, err
			}
			logger.Info("[Validator] restored epoch %d with %d validators", latest, set.Len())
		} else if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		} else if initial != nil {
			if err := store.SaveValidatorSet(initial.Epoch(), initial.Validators()); err != nil {
				return nil, err
			}
		}
	}
	if set == nil {
		return nil, ErrEmptySet
	}
	if err := m.install(set); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) install(set *Set) error {
	sched, err := NewSchedule(m.cfg.Schedule, set)
	if err != nil {
		return err
	}
	m.current.Store(&snapshot{set: set, sched: sched})
	m.history.Add(set.Epoch(), set)
	return nil
}

// Current 当前快照，可被任意 goroutine 并发读取
func (m *Manager) Current() *Set {
	return m.current.Load().set
}

func (m *Manager) Epoch() uint64 {
	return m.Current().Epoch()
}

// Schedule 同一快照下的集合与领导者调度
func (m *Manager) Schedule() (*Set, LeaderSchedule) {
	snap := m.current.Load()
	return snap.set, snap.sched
}

// Leader 当前 epoch 下 view 的领导者
func (m *Manager) Leader(view uint64) types.Address {
	return m.current.Load().sched.Leader(view)
}

// SetForEpoch 历史快照，QC 按其签名时的 epoch 验证
func (m *Manager) SetForEpoch(epoch uint64) (*Set, error) {
	if cur := m.Current(); cur.Epoch() == epoch {
		return cur, nil
	}
	if v, ok := m.history.Get(epoch); ok {
		return v.(*Set), nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEpoch, epoch)
	}
	vals, err := m.store.LoadValidatorSet(epoch)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %v", ErrUnknownEpoch, epoch, err)
	}
	set, err := NewSet(epoch, vals)
	if err != nil {
		return nil, err
	}
	m.history.Add(epoch, set)
	return set, nil
}

// Stage 记录变更，等到下一个 epoch 边界
func (m *Manager) Stage(c Change) error {
	switch c.Kind {
	case ChangeAdd:
		if c.Validator == nil {
			return fmt.Errorf("add change without validator")
		}
		c.Address = c.Validator.Address
		c.Validator = c.Validator.Clone()
	case ChangeRemove, ChangeSlash, ChangeStake, ChangeJail, ChangeUnjail:
		if _, ok := m.Current().IndexOf(c.Address); !ok && !m.stagedAdd(c.Address) {
			return fmt.Errorf("%w: %s", ErrUnknownValidator, c.Address)
		}
	default:
		return fmt.Errorf("unknown change kind %d", c.Kind)
	}
	m.mu.Lock()
	m.staged = append(m.staged, c)
	m.mu.Unlock()
	m.Logger.Debug("[Validator] staged %s for %s %s", c.Kind, c.Address.Short(), c.Reason)
	return nil
}

func (m *Manager) stagedAdd(addr types.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.staged {
		if c.Kind == ChangeAdd && c.Address == addr {
			return true
		}
	}
	return false
}

// StagedCount 尚未生效的变更数
func (m *Manager) StagedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.staged)
}

// AdvanceEpoch 应用暂存变更生成 epoch+1 快照，持久化后原子替换
func (m *Manager) AdvanceEpoch() (*Set, error) {
	m.mu.Lock()
	staged := m.staged
	m.staged = nil
	m.mu.Unlock()

	cur := m.Current()
	byAddr := make(map[types.Address]*types.ValidatorInfo, cur.Len())
	order := make([]types.Address, 0, cur.Len())
	for _, v := range cur.Validators() {
		byAddr[v.Address] = v
		order = append(order, v.Address)
	}

	slashedNow := make(map[types.Address]struct{})
	for _, c := range staged {
		v := byAddr[c.Address]
		switch c.Kind {
		case ChangeAdd:
			if v == nil {
				order = append(order, c.Address)
			}
			byAddr[c.Address] = c.Validator
		case ChangeRemove:
			delete(byAddr, c.Address)
		case ChangeSlash:
			if v == nil {
				continue
			}
			// 同一 epoch 内多份证据只惩罚一次
			if _, done := slashedNow[c.Address]; done {
				continue
			}
			slashedNow[c.Address] = struct{}{}
			m.slash(v)
			m.Logger.Warn("[Validator] slashed %s stake=%d reputation=%s (%s)", c.Address.Short(), v.Stake, v.Reputation, c.Reason)
		case ChangeStake:
			if v != nil {
				v.Stake = c.Stake
			}
		case ChangeJail:
			if v != nil {
				v.Jailed = true
			}
		case ChangeUnjail:
			if v != nil {
				v.Jailed = false
			}
		}
	}

	vals := make([]*types.ValidatorInfo, 0, len(byAddr))
	for _, addr := range order {
		if v, ok := byAddr[addr]; ok {
			vals = append(vals, v)
			delete(byAddr, addr)
		}
	}
	next, err := NewSet(cur.Epoch()+1, vals)
	if err != nil {
		return nil, err
	}
	if next.TotalStake() == 0 {
		return nil, fmt.Errorf("epoch %d would have no active stake", next.Epoch())
	}
	if m.store != nil {
		if err := m.store.SaveValidatorSet(next.Epoch(), next.Validators()); err != nil {
			return nil, fmt.Errorf("persist validator set %d: %w", next.Epoch(), err)
		}
	}
	if err := m.install(next); err != nil {
		return nil, err
	}
	m.Logger.Info("[Validator] advanced to %s (%d changes)", next, len(staged))
	return next, nil
}

// slash 按比例扣减权益并标记，信誉下降但不低于 0
func (m *Manager) slash(v *types.ValidatorInfo) {
	stake := decimal.NewFromBigInt(new(big.Int).SetUint64(v.Stake), 0)
	penalty := stake.Mul(m.cfg.SlashRatio).Floor().BigInt()
	if penalty.IsUint64() && penalty.Uint64() <= v.Stake {
		v.Stake -= penalty.Uint64()
	}
	v.Slashed = true
	v.Reputation = v.Reputation.Sub(m.cfg.ReputationPenalty)
	if v.Reputation.IsNegative() {
		v.Reputation = decimal.Zero
	}
}

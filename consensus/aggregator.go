package consensus

import (
	"errors"
	"fmt"
	"sync"

	"hotledger/types"
	"hotledger/utils"
	"hotledger/validator"

	"github.com/RoaringBitmap/roaring"
	lru "github.com/hashicorp/golang-lru"
)

var ErrNotValidator = errors.New("not an active validator")

// SigCache 已验证投票签名的缓存，验证器与聚合器共享，避免重复做配对运算
type SigCache struct {
	cache *lru.Cache
}

func NewSigCache(size int) *SigCache {
	if size <= 0 {
		size = 8192
	}
	c, _ := lru.New(size)
	return &SigCache{cache: c}
}

func voteSigKey(v *types.Vote) uint64 {
	data := append(v.SigningBytes(), v.Voter[:]...)
	return utils.MurmurHash(append(data, v.Signature...))
}

func (c *SigCache) add(v *types.Vote) {
	if c != nil {
		c.cache.Add(voteSigKey(v), struct{}{})
	}
}

func (c *SigCache) has(v *types.Vote) bool {
	return c != nil && c.cache.Contains(voteSigKey(v))
}

// VerifyVote 用集合中登记的 BLS 公钥验证投票
func VerifyVote(v *types.Vote, set *validator.Set, cache *SigCache) error {
	info, ok := set.Get(v.Voter)
	if !ok || !info.Active() {
		return fmt.Errorf("%w: %s", ErrNotValidator, v.Voter)
	}
	if !v.Phase.Votable() {
		return fmt.Errorf("%w: vote phase %s", types.ErrMalformedMessage, v.Phase)
	}
	if cache.has(v) {
		return nil
	}
	if err := utils.BLSVerifySignature(info.BLSPubKey, v.SigningBytes(), v.Signature); err != nil {
		return fmt.Errorf("%w: vote from %s: %v", types.ErrInvalidSignature, v.Voter.Short(), err)
	}
	cache.add(v)
	return nil
}

type batchKey struct {
	view  uint64
	phase types.Phase
}

type voteBatch struct {
	block   types.Hash
	votes   map[types.Address]*types.Vote
	signers *roaring.Bitmap
	sigs    [][]byte
	stake   uint64
	done    bool
}

// EquivocationReporter 双签上报（slashing.Monitor 实现）
type EquivocationReporter interface {
	ReportEquivocation(a, b *types.Vote) *types.Evidence
}

// VoteAggregator 按 (view, phase) 收集投票，权益严格超过 2/3 时产生一次 QC
type VoteAggregator struct {
	mu       sync.Mutex
	batches  map[batchKey]*voteBatch
	setFn    func() *validator.Set
	reporter EquivocationReporter
	sigs     *SigCache
}

func NewVoteAggregator(setFn func() *validator.Set, reporter EquivocationReporter, sigs *SigCache) *VoteAggregator {
	return &VoteAggregator{
		batches:  make(map[batchKey]*voteBatch),
		setFn:    setFn,
		reporter: reporter,
		sigs:     sigs,
	}
}

func newBatch(block types.Hash) *voteBatch {
	return &voteBatch{
		block:   block,
		votes:   make(map[types.Address]*types.Vote),
		signers: roaring.New(),
	}
}

// Begin 领导者声明 (view, phase) 要收集的区块；未声明时以第一张票为准
func (a *VoteAggregator) Begin(view uint64, phase types.Phase, block types.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := batchKey{view, phase}
	if _, ok := a.batches[key]; !ok {
		a.batches[key] = newBatch(block)
	}
}

// AddVote 加入一张投票。达到法定权益时返回 QC，之后同批次的投票返回 (nil, nil)
func (a *VoteAggregator) AddVote(v *types.Vote) (*types.QuorumCertificate, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil vote", types.ErrMalformedMessage)
	}
	set := a.setFn()
	if err := VerifyVote(v, set, a.sigs); err != nil {
		return nil, err
	}
	idx, _ := set.IndexOf(v.Voter)

	a.mu.Lock()
	defer a.mu.Unlock()
	key := batchKey{v.View, v.Phase}
	batch, ok := a.batches[key]
	if !ok {
		batch = newBatch(v.BlockHash)
		a.batches[key] = batch
	}
	if prior, seen := batch.votes[v.Voter]; seen {
		if prior.BlockHash == v.BlockHash {
			return nil, fmt.Errorf("%w: %s at view %d %s", types.ErrDuplicateVote, v.Voter.Short(), v.View, v.Phase)
		}
		if a.reporter != nil {
			a.reporter.ReportEquivocation(prior, v)
		}
		return nil, fmt.Errorf("%w: %s at view %d %s", types.ErrEquivocation, v.Voter.Short(), v.View, v.Phase)
	}
	batch.votes[v.Voter] = v
	if v.BlockHash != batch.block {
		return nil, fmt.Errorf("%w: vote for %s, batch collects %s", types.ErrMalformedMessage, v.BlockHash.Short(), batch.block.Short())
	}
	if batch.done {
		return nil, nil
	}

	batch.signers.Add(uint32(idx))
	batch.sigs = append(batch.sigs, v.Signature)
	batch.stake += set.StakeOf(v.Voter)
	if !set.HasQuorum(batch.stake) {
		return nil, nil
	}
	agg, err := utils.AggregateBLS(batch.sigs)
	if err != nil {
		return nil, err
	}
	batch.done = true
	return &types.QuorumCertificate{
		View:      v.View,
		BlockHash: batch.block,
		Phase:     v.Phase,
		Epoch:     set.Epoch(),
		Stake:     batch.stake,
		Signers:   batch.signers.Clone(),
		AggSig:    agg,
	}, nil
}

// Reset 丢弃早于 view 的全部批次
func (a *VoteAggregator) Reset(view uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.batches {
		if k.view < view {
			delete(a.batches, k)
		}
	}
}

// Size 活跃批次数
func (a *VoteAggregator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

// VerifyQC 用签名时 epoch 的验证者集合验证 QC
func VerifyQC(qc *types.QuorumCertificate, vals ValidatorSource, genesis types.Hash) error {
	if qc == nil {
		return fmt.Errorf("%w: nil qc", types.ErrMalformedMessage)
	}
	if qc.IsGenesis() {
		if qc.BlockHash != genesis || (qc.Signers != nil && !qc.Signers.IsEmpty()) {
			return fmt.Errorf("%w: bogus genesis qc", types.ErrMalformedMessage)
		}
		return nil
	}
	if !qc.Phase.Votable() {
		return fmt.Errorf("%w: qc phase %s", types.ErrMalformedMessage, qc.Phase)
	}
	if qc.Signers == nil || qc.Signers.IsEmpty() {
		return fmt.Errorf("%w: qc without signers", types.ErrMalformedMessage)
	}
	set, err := vals.SetForEpoch(qc.Epoch)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedMessage, err)
	}
	pubs := make([][]byte, 0, qc.Signers.GetCardinality())
	var stake uint64
	it := qc.Signers.Iterator()
	for it.HasNext() {
		info, ok := set.ByIndex(int(it.Next()))
		if !ok || !info.Active() {
			return fmt.Errorf("%w: qc signer is not an active validator", types.ErrMalformedMessage)
		}
		stake += info.Stake
		pubs = append(pubs, info.BLSPubKey)
	}
	if stake != qc.Stake || !set.HasQuorum(stake) {
		return fmt.Errorf("%w: qc stake %d below quorum of %d", types.ErrMalformedMessage, stake, set.TotalStake())
	}
	if err := utils.BLSVerifyAggregate(pubs, qc.SigningBytes(), qc.AggSig); err != nil {
		return fmt.Errorf("%w: qc aggregate: %v", types.ErrInvalidSignature, err)
	}
	return nil
}

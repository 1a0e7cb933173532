package stats

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "hotledger"

// Stats 单个节点的指标集合，每个节点独立的 prometheus.Registry
type Stats struct {
	registry *prometheus.Registry
	started  time.Time

	view      prometheus.Gauge
	height    prometheus.Gauge
	epoch     prometheus.Gauge
	timeouts  prometheus.Counter
	decided   prometheus.Counter
	qcs       *prometheus.CounterVec
	txs       *prometheus.CounterVec
	evidence  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	apiCalls  *prometheus.CounterVec
	phaseTime *prometheus.HistogramVec
	queues    *queueCollector

	statsLock     sync.RWMutex
	apiCallCounts map[string]uint64

	Latency *LatencyRecorder
}

func NewStats(nodeID string) *Stats {
	labels := prometheus.Labels{"node": nodeID}
	s := &Stats{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		view: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "current_view", Help: "current consensus view", ConstLabels: labels,
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "committed_height", Help: "height of the last committed block", ConstLabels: labels,
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "epoch", Help: "current validator set epoch", ConstLabels: labels,
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "view_timeouts_total", Help: "pacemaker timeouts", ConstLabels: labels,
		}),
		decided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_decided_total", Help: "blocks decided by commit qc", ConstLabels: labels,
		}),
		qcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "qcs_formed_total", Help: "quorum certificates formed", ConstLabels: labels,
		}, []string{"phase"}),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "txs_executed_total", Help: "committed transactions by receipt status", ConstLabels: labels,
		}, []string{"status"}),
		evidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "slashing_evidence_total", Help: "misbehaviour observed", ConstLabels: labels,
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dropped_total", Help: "consensus messages rejected", ConstLabels: labels,
		}, []string{"reason"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total", Help: "HTTP API requests", ConstLabels: labels,
		}, []string{"route"}),
		phaseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "phase_latency_seconds", Help: "time from proposal to qc per phase", ConstLabels: labels,
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"phase"}),
		queues:        newQueueCollector(labels),
		apiCallCounts: make(map[string]uint64),
	}
	s.registry.MustRegister(s.view, s.height, s.epoch, s.timeouts, s.decided,
		s.qcs, s.txs, s.evidence, s.dropped, s.apiCalls, s.phaseTime, s.queues)
	s.Latency = NewLatencyRecorder(0, func(name string, d time.Duration) {
		s.phaseTime.WithLabelValues(name).Observe(d.Seconds())
	})
	return s
}

// Registry 供 /metrics 使用
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Stats) SetView(v uint64)   { s.view.Set(float64(v)) }
func (s *Stats) SetHeight(h uint64) { s.height.Set(float64(h)) }
func (s *Stats) SetEpoch(e uint64)  { s.epoch.Set(float64(e)) }
func (s *Stats) Timeout()           { s.timeouts.Inc() }
func (s *Stats) Decided()           { s.decided.Inc() }

func (s *Stats) QCFormed(phase string) { s.qcs.WithLabelValues(phase).Inc() }

func (s *Stats) TxExecuted(status string) { s.txs.WithLabelValues(status).Inc() }

func (s *Stats) EvidenceObserved(kind string) { s.evidence.WithLabelValues(kind).Inc() }

func (s *Stats) MessageDropped(reason string) { s.dropped.WithLabelValues(reason).Inc() }

func (s *Stats) Uptime() time.Duration { return time.Since(s.started) }

// WatchQueues 登记队列来源，/metrics 抓取时导出 queue_depth 与 queue_capacity
func (s *Stats) WatchQueues(src ...QueueSource) { s.queues.add(src...) }

// Queues 全部已登记队列的当前深度
func (s *Stats) Queues() []QueueStat { return s.queues.stats() }

// 记录API调用
func (s *Stats) RecordAPICall(apiName string) {
	s.apiCalls.WithLabelValues(apiName).Inc()
	s.statsLock.Lock()
	s.apiCallCounts[apiName]++
	s.statsLock.Unlock()
}

// 获取API调用统计
func (s *Stats) GetAPICallStats() map[string]uint64 {
	s.statsLock.RLock()
	defer s.statsLock.RUnlock()
	out := make(map[string]uint64, len(s.apiCallCounts))
	for api, count := range s.apiCallCounts {
		out[api] = count
	}
	return out
}

// Snapshot 把计数器和仪表展开为 "name{label=value}" -> 值
func (s *Stats) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	families, err := s.registry.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		name := strings.TrimPrefix(mf.GetName(), namespace+"_")
		for _, m := range mf.GetMetric() {
			var v float64
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				v = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				v = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				v = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out[metricKey(name, m.GetLabel())] = uint64(v)
		}
	}
	return out
}

func metricKey(name string, labels []*dto.LabelPair) string {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		if l.GetName() == "node" {
			continue
		}
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	if len(parts) == 0 {
		return name
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

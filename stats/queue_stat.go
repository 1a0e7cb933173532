package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueStat 某个模块内一条有界队列的瞬时深度
type QueueStat struct {
	Module string `json:"module"`
	Queue  string `json:"queue"`
	Len    int    `json:"len"`
	Cap    int    `json:"cap"`
}

// Usage len/cap，无界或未初始化的队列为 0
func (q QueueStat) Usage() float64 {
	if q.Cap <= 0 {
		return 0
	}
	return float64(q.Len) / float64(q.Cap)
}

// QueueOf 取 channel 的长度和容量
func QueueOf[T any](module, queue string, ch chan T) QueueStat {
	return QueueStat{Module: module, Queue: queue, Len: len(ch), Cap: cap(ch)}
}

// QueueSource 由持有队列的模块实现
type QueueSource interface {
	QueueStats() []QueueStat
}

// queueCollector 抓取时才向各模块读取队列深度
type queueCollector struct {
	depth    *prometheus.Desc
	capacity *prometheus.Desc

	mu      sync.RWMutex
	sources []QueueSource
}

func newQueueCollector(labels prometheus.Labels) *queueCollector {
	return &queueCollector{
		depth: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "queue_depth"),
			"current length of a bounded queue", []string{"module", "queue"}, labels),
		capacity: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "queue_capacity"),
			"capacity of a bounded queue", []string{"module", "queue"}, labels),
	}
}

func (c *queueCollector) add(src ...QueueSource) {
	c.mu.Lock()
	c.sources = append(c.sources, src...)
	c.mu.Unlock()
}

func (c *queueCollector) stats() []QueueStat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []QueueStat
	for _, src := range c.sources {
		out = append(out, src.QueueStats()...)
	}
	return out
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.capacity
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	for _, q := range c.stats() {
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(q.Len), q.Module, q.Queue)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(q.Cap), q.Module, q.Queue)
	}
}

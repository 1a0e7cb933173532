package logs

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Logger 每个节点持有一个 Logger，除了输出到 zap 之外还保留最近的日志行
type Logger interface {
	Trace(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Verbose(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	GetLogs() []string
	Name() string
}

// NodeLogger 带环形缓冲的节点日志器
type NodeLogger struct {
	name  string
	z     *zap.SugaredLogger
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*NodeLogger)
)

// NewNodeLogger 创建节点日志器，capacity 为保留的最近日志行数（0 表示不保留）
func NewNodeLogger(name string, capacity int) *NodeLogger {
	if capacity < 0 {
		capacity = 0
	}
	l := &NodeLogger{
		name:  name,
		z:     base.Named(name),
		lines: make([]string, capacity),
	}
	registryMu.Lock()
	registry[name] = l
	registryMu.Unlock()
	return l
}

func (l *NodeLogger) Name() string { return l.name }

func (l *NodeLogger) record(level string, msg string) {
	if msg == "" || len(l.lines) == 0 {
		return
	}
	line := time.Now().Format("15:04:05.000") + " " + level + " " + msg
	l.mu.Lock()
	l.lines[l.next] = line
	l.next = (l.next + 1) % len(l.lines)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

func (l *NodeLogger) Trace(format string, v ...interface{}) {
	l.record("TRACE", emit(l.z, LevelTrace, format, v...))
}

func (l *NodeLogger) Debug(format string, v ...interface{}) {
	l.record("DEBUG", emit(l.z, LevelDebug, format, v...))
}

func (l *NodeLogger) Verbose(format string, v ...interface{}) {
	l.record("VERBOSE", emit(l.z, LevelVerbose, format, v...))
}

func (l *NodeLogger) Info(format string, v ...interface{}) {
	l.record("INFO", emit(l.z, LevelInfo, format, v...))
}

func (l *NodeLogger) Warn(format string, v ...interface{}) {
	l.record("WARN", emit(l.z, LevelWarning, format, v...))
}

func (l *NodeLogger) Error(format string, v ...interface{}) {
	l.record("ERROR", emit(l.z, LevelError, format, v...))
}

// GetLogs 按时间顺序返回缓冲中的日志
func (l *NodeLogger) GetLogs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]string, l.next)
		copy(out, l.lines[:l.next])
		return out
	}
	out := make([]string, 0, len(l.lines))
	out = append(out, l.lines[l.next:]...)
	out = append(out, l.lines[:l.next]...)
	return out
}

// GetLogsForNode 返回指定节点的最近日志
func GetLogsForNode(name string) []string {
	registryMu.RLock()
	l, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return l.GetLogs()
}

// GetAllLoggedNodes 返回所有已注册的节点名
func GetAllLoggedNodes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

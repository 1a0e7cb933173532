package logs

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 定义日志级别常量（数值越大，级别越高）
const (
	LevelTrace   = iota // 0（最低，最详细）
	LevelDebug          // 1
	LevelVerbose        // 2
	LevelInfo           // 3
	LevelWarning        // 4
	LevelError          // 5（最高，最严重）
)

var logLevel atomic.Int32

// 全局 zap 实例，包级别函数和 NodeLogger 共用
var base *zap.SugaredLogger

func init() {
	logLevel.Store(LevelInfo)
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(zapcore.DebugLevel),
	)
	base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
}

// SetLevel 设置全局日志级别
func SetLevel(level int) {
	if level < LevelTrace {
		level = LevelTrace
	}
	if level > LevelError {
		level = LevelError
	}
	logLevel.Store(int32(level))
}

// ParseLevel converts a config string into a level constant. Unknown names map to info.
func ParseLevel(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "verbose":
		return LevelVerbose
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func enabled(level int) bool {
	return int32(level) >= logLevel.Load()
}

func emit(z *zap.SugaredLogger, level int, format string, v ...interface{}) string {
	if !enabled(level) {
		return ""
	}
	msg := fmt.Sprintf(format, v...)
	switch level {
	case LevelTrace, LevelDebug, LevelVerbose:
		z.Debug(msg)
	case LevelInfo:
		z.Info(msg)
	case LevelWarning:
		z.Warn(msg)
	default:
		z.Error(msg)
	}
	return msg
}

// 包级别的日志方法
func Trace(format string, v ...interface{})   { emit(base, LevelTrace, format, v...) }
func Debug(format string, v ...interface{})   { emit(base, LevelDebug, format, v...) }
func Verbose(format string, v ...interface{}) { emit(base, LevelVerbose, format, v...) }
func Info(format string, v ...interface{})    { emit(base, LevelInfo, format, v...) }
func Warn(format string, v ...interface{})    { emit(base, LevelWarning, format, v...) }
func Error(format string, v ...interface{})   { emit(base, LevelError, format, v...) }

// Sync flushes buffered zap output.
func Sync() {
	_ = base.Sync()
}

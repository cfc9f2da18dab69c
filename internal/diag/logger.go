package diag

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options 控制日志级别、编码与落盘位置。
//   - Level: debug|info|warn|error（默认 info）
//   - Format: json|console（默认 json）
//   - Dir: 非空时写入 Dir 下的轮转文件，否则写 stderr
//   - MaxBytes: 轮转阈值（<=0 取 10 MiB）
type Options struct {
	Level    string
	Format   string
	Dir      string
	MaxBytes int64
}

// Logger 为组件化的结构化日志器：start/finish/error 事件，统一字段
// corr_id/comp/stage/code/dur_ms/count。nil *Logger 是合法的空实现。
type Logger struct {
	z      *zap.Logger
	corrID string
	sink   *RotatingFile
}

// NewLogger 按 Options 构造底层 zap core。
func NewLogger(corrID string, opts Options) (*Logger, error) {
	var lvl zapcore.Level
	level := strings.TrimSpace(opts.Level)
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", opts.Format)
	}

	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	var sink *RotatingFile
	if strings.TrimSpace(opts.Dir) != "" {
		sink = NewRotatingFile(opts.Dir, opts.MaxBytes)
		ws = sink
	}
	core := zapcore.NewCore(enc, ws, zap.NewAtomicLevelAt(lvl))
	l := NewWithCore(core, corrID)
	l.sink = sink
	return l, nil
}

// NewWithCore 以现成 core 构造（测试中配合 zaptest/observer 使用）。
func NewWithCore(core zapcore.Core, corrID string) *Logger {
	return &Logger{z: zap.New(core), corrID: corrID}
}

// Nop 返回丢弃所有事件的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// With 返回共享底层 core、但携带新 corr_id 的日志器（每次分析一个）。
func (l *Logger) With(corrID string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{z: l.z, corrID: corrID, sink: l.sink}
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Sync 刷新缓冲并关闭轮转文件。
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// event 为标准事件的字段集合。
type event struct {
	comp  string
	stage string // start|finish|error
	code  string
	dur   time.Duration
	count int64
	kv    map[string]string
}

func (l *Logger) log(lv zapcore.Level, msg string, ev event) {
	if l == nil || l.z == nil {
		return
	}
	ce := l.z.Check(lv, msg)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, 7)
	fields = append(fields, zap.String("corr_id", l.corrID), zap.String("comp", ev.comp), zap.String("stage", ev.stage))
	if ev.code != "" {
		fields = append(fields, zap.String("code", ev.code))
	}
	if ev.dur > 0 {
		fields = append(fields, zap.Int64("dur_ms", ev.dur.Milliseconds()))
	}
	if ev.count != 0 {
		fields = append(fields, zap.Int64("count", ev.count))
	}
	if len(ev.kv) > 0 {
		fields = append(fields, zap.Any("kv", ev.kv))
	}
	ce.Write(fields...)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start"})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWithKV 记录带键值的 start。
func (l *Logger) StartWithKV(comp, msg string, kv map[string]string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start", kv: kv})
	return &Timer{l: l, comp: comp, kv: kv, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, kv map[string]string) {
	var dur time.Duration
	if durSince != nil {
		dur = time.Since(*durSince)
	}
	l.log(zapcore.ErrorLevel, msg, event{comp: comp, stage: "error", code: code, dur: dur, kv: kv})
}

// Warn 记录可降级的问题（例如洞察不可用）。
func (l *Logger) Warn(comp, code, msg string, kv map[string]string) {
	l.log(zapcore.WarnLevel, msg, event{comp: comp, stage: "warn", code: code, kv: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "finish", dur: time.Since(start), count: count})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg string, kv map[string]string) {
	l.log(zapcore.DebugLevel, msg, event{comp: comp, stage: "start", kv: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l    *Logger
	comp string
	kv   map[string]string
	t0   time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(zapcore.InfoLevel, msg, event{comp: t.comp, stage: "finish", dur: time.Since(t.t0), count: count, kv: t.kv})
	ObserveDuration(t.comp, "finish", time.Since(t.t0).Milliseconds())
}

// Elapsed 返回自 start 起的耗时。
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

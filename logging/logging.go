// Package logging implements the non-blocking push(record) logging sink
// named in §1/§9 as an external collaborator. Hot-path producers call
// Push, which only copies a Record into a ring queue slot and returns;
// a single background goroutine drains the queue and does the actual
// formatting and I/O, the same split chycee-cryptoGo's logger.go makes
// between its async channel and its slog+lumberjack writer, generalized
// here to zap and a pre-built struct instead of free-text messages.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"lowlatency-exchange/ringqueue"
)

// Level mirrors the handful of severities the core ever reports at.
type Level int8

const (
	Info Level = iota
	Warn
	Error
	Fatal
)

// Record is the tagged-variant log element described in §9 ("union-based
// log records"): a closed, fixed-layout payload cheap enough to copy by
// value into a ring queue slot.
type Record struct {
	Level     Level
	Component string
	Message   string
	Ticker    int64
	Client    int64
	OrderID   int64
	SeqNum    int64
}

// Logger is the push(record) sink, injected at construction rather than
// held as a global. Construct with New. The backing queue is
// single-producer, so Push is only safe from one goroutine at a time per
// Logger.
type Logger struct {
	queue *ringqueue.Queue[Record]
	zl    *zap.Logger
	done  chan struct{}
}

// Config controls where the background writer sends formatted records.
type Config struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      Level
}

// New constructs a Logger backed by a capacity-sized ring queue and
// starts its background drain goroutine. Capacity should exceed the
// burst rate of log calls between drain cycles; overrun here is not a
// matching-engine invariant violation, so it is handled by blocking the
// rare slow caller rather than by Fatalf — logging is explicitly
// "external collaborator" territory per §1, not core hot-path contract.
func New(capacity int, cfg Config) *Logger {
	writer := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(writer), zapLevel(cfg.Level)),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stdout), zapLevel(cfg.Level)),
	)

	l := &Logger{
		queue: ringqueue.New[Record](capacity),
		zl:    zap.New(core),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case Warn:
		return zapcore.WarnLevel
	case Error, Fatal:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Push enqueues rec for asynchronous formatting/writing. Non-blocking in
// the steady state (the queue rarely approaches capacity); spins briefly
// under extreme burst rather than dropping, since dropping log lines that
// diagnose a fatal condition is worse than a few nanoseconds of
// backpressure on a non-latency-critical caller.
func (l *Logger) Push(rec Record) {
	for l.queue.Size() == l.queue.Capacity() {
	}
	*l.queue.WriteSlot() = rec
	l.queue.CommitWrite()
}

// Fatal implements common.Fataler: it writes straight to zap, bypassing
// the queue, and flushes, because a process that's about to panic can't wait for the background
// drain loop's next iteration.
func (l *Logger) Fatal(msg string, fields map[string]any) {
	l.zl.Error(msg, mapToFields(fields)...)
	_ = l.zl.Sync()
}

func mapToFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *Logger) run() {
	for {
		select {
		case <-l.done:
			return
		default:
		}
		slot := l.queue.ReadSlot()
		if slot == nil {
			continue
		}
		l.emit(*slot)
		l.queue.CommitRead()
	}
}

func (l *Logger) emit(rec Record) {
	fields := []zap.Field{
		zap.String("component", rec.Component),
		zap.Int64("ticker", rec.Ticker),
		zap.Int64("client", rec.Client),
		zap.Int64("orderId", rec.OrderID),
		zap.Int64("seqNum", rec.SeqNum),
	}
	switch rec.Level {
	case Warn:
		l.zl.Warn(rec.Message, fields...)
	case Error, Fatal:
		l.zl.Error(rec.Message, fields...)
	default:
		l.zl.Info(rec.Message, fields...)
	}
}

// Close stops the background drain goroutine and flushes the zap core.
func (l *Logger) Close() error {
	close(l.done)
	return l.zl.Sync()
}

// Package notify delivers streaming alerts to places outside the process.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/insight/internal/reasoning"
)

// LogSink writes each alert as a structured log record. Critical alerts
// log at error level, warnings at warn, the rest at info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or slog.Default() if nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish implements reasoning.AlertSink.
func (s *LogSink) Publish(ctx context.Context, a reasoning.Alert) error {
	level := slog.LevelInfo
	switch a.Severity {
	case reasoning.SeverityCritical:
		level = slog.LevelError
	case reasoning.SeverityWarning:
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "alert",
		"alert_id", a.ID,
		"alert_type", a.Type.String(),
		"severity", a.Severity.String(),
		"source_pattern", a.SourcePattern,
		"auto_escalated", a.AutoEscalated,
		"message", a.Message,
	)
	return nil
}

// Stream defaults.
const (
	DefaultStream = "insight:alerts"
	DefaultMaxLen = 10000
)

// RedisSink appends each alert to a Redis stream with XADD, trimming the
// stream to about MaxLen entries.
type RedisSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithStream sets the stream key. Default: DefaultStream.
func WithStream(name string) RedisOption {
	return func(s *RedisSink) {
		if name != "" {
			s.stream = name
		}
	}
}

// WithMaxLen sets the approximate stream length cap. Zero disables
// trimming. Default: DefaultMaxLen.
func WithMaxLen(n int64) RedisOption {
	return func(s *RedisSink) {
		if n >= 0 {
			s.maxLen = n
		}
	}
}

// NewRedisSink returns a sink publishing through client.
func NewRedisSink(client redis.Cmdable, opts ...RedisOption) *RedisSink {
	s := &RedisSink{client: client, stream: DefaultStream, maxLen: DefaultMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream returns the stream key alerts are appended to.
func (s *RedisSink) Stream() string {
	return s.stream
}

// Publish implements reasoning.AlertSink.
func (s *RedisSink) Publish(ctx context.Context, a reasoning.Alert) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: alertFields(a),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish alert %s to %s: %w", a.ID, s.stream, err)
	}
	return nil
}

// alertFields is the flat field list of a stream entry.
func alertFields(a reasoning.Alert) map[string]any {
	return map[string]any{
		"id":             a.ID,
		"timestamp":      a.Timestamp.UTC().Format(time.RFC3339Nano),
		"alert_type":     a.Type.String(),
		"severity":       a.Severity.String(),
		"message":        a.Message,
		"source_pattern": a.SourcePattern,
		"auto_escalated": strconv.FormatBool(a.AutoEscalated),
	}
}

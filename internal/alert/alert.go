// Package alert delivers security and reconciliation alerts.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	KindSignatureInvalid = "webhook_signature_invalid"
	KindAmountMismatch   = "payment_amount_mismatch"
)

type Alert struct {
	Kind       string            `json:"kind"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

type Sink interface {
	Send(ctx context.Context, a Alert) error
}

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("kind", a.Kind),
		zap.String("severity", a.Severity),
		zap.Time("at", a.At),
	}
	for k, v := range a.Attributes {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Warn(a.Message, fields...)
	return nil
}

// RedisSink publishes alerts on "alerts:<kind>" and "alerts:all".
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Send(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.client.Publish(ctx, "alerts:"+a.Kind, payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	if err := s.client.Publish(ctx, "alerts:all", payload).Err(); err != nil {
		return fmt.Errorf("publish alert to all channel: %w", err)
	}
	return nil
}

// Fanout sends to every sink and returns the first error.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, a Alert) error {
	var firstErr error
	for _, sink := range f {
		if err := sink.Send(ctx, a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

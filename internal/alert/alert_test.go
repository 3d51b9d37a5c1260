package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingSink struct{ calls int }

func (f *failingSink) Send(_ context.Context, _ Alert) error {
	f.calls++
	return errors.New("sink down")
}

func TestLogSinkWritesWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Send(context.Background(), Alert{
		Kind:       KindSignatureInvalid,
		Severity:   "high",
		Message:    "webhook signature rejected",
		Attributes: map[string]string{"reason": "Mismatch"},
		At:         time.Now().UTC(),
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "webhook signature rejected", entry.Message)
	assert.Equal(t, "Mismatch", entry.ContextMap()["reason"])
}

func TestFanoutReachesEverySink(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	failing := &failingSink{}
	fan := Fanout{failing, NewLogSink(zap.New(core))}

	err := fan.Send(context.Background(), Alert{Kind: KindAmountMismatch, Message: "amount mismatch"})
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, logs.Len())
}

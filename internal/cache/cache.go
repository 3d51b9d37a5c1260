package cache

import (
	"context"
	"time"
)

// EventCache remembers processed webhook event ids so that redeliveries can
// be acknowledged without a database round trip. It is never authoritative.
type EventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string, ttl time.Duration) error
}

type NoopEventCache struct{}

func (NoopEventCache) Seen(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (NoopEventCache) Remember(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

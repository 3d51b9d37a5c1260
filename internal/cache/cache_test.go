package cache

import (
	"context"
	"testing"
	"time"
)

func TestNoopEventCacheNeverReportsSeen(t *testing.T) {
	c := NoopEventCache{}
	if err := c.Remember(context.Background(), "paymob_1", time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	seen, err := c.Seen(context.Background(), "paymob_1")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatalf("noop cache must not report events as seen")
	}
}

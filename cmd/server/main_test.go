package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"retailcore/backend/internal/config"
	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/service"
	"retailcore/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected short auth secret to be rejected")
	}
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", PaymobHMACSecret: "tiny"})
	if err == nil {
		t.Fatalf("expected short webhook secret to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", PaymobHMACSecret: "whsec-0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestSweepExpiredIntentsFailsStaleReservations(t *testing.T) {
	repo := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	svc := service.New(repo, service.Options{IntentTTL: time.Minute, Now: func() time.Time { return clock }})

	intent, err := svc.CreatePaymentIntent(context.Background(), domain.PaymentIntentCreateRequest{OrderID: "order-1", AmountCents: 100})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	clock = now.Add(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sweepExpiredIntents(ctx, svc, 10*time.Millisecond, zap.NewNop())

	got, err := svc.GetPaymentIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got.Status != domain.IntentStatusFailed {
		t.Fatalf("expected expired intent to be failed, got %s", got.Status)
	}
}

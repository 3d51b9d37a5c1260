package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/metrics"
	"retailcore/backend/internal/revenue"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

const expiredIntentReason = "Reservation expired"

// CreatePaymentIntent returns the pending intent for the order when one
// already exists, so checkout retries do not fork the expected amount.
func (s *Service) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentCreateRequest) (domain.PaymentIntent, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.OrderID == "" {
		return domain.PaymentIntent{}, invalidInput("order_id is required")
	}
	if req.AmountCents < 1 {
		return domain.PaymentIntent{}, invalidInput("amount_cents must be positive")
	}
	if req.Currency == "" {
		req.Currency = "EGP"
	}

	existing, err := s.repo.FindPendingIntentByOrder(ctx, req.OrderID)
	if err == nil {
		if existing.ExpectedAmountCents != req.AmountCents {
			return domain.PaymentIntent{}, invalidInput("order %s already has a pending intent for %d", req.OrderID, existing.ExpectedAmountCents)
		}
		return *existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.PaymentIntent{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.intentTTL)
	created, err := s.repo.CreatePaymentIntent(ctx, domain.PaymentIntent{
		ID:                  xid.New("pi"),
		OrderID:             req.OrderID,
		ExpectedAmountCents: req.AmountCents,
		Currency:            req.Currency,
		Status:              domain.IntentStatusPending,
		ExpiresAt:           &expiresAt,
		CreatedAt:           now,
	})
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	metrics.PaymentIntentTransitionsTotal.WithLabelValues(domain.IntentStatusPending).Inc()
	s.logAudit(ctx, "payment_intent_create", "payment_intent", created.ID, fmt.Sprintf("order=%s,amount=%d", created.OrderID, created.ExpectedAmountCents))
	return *created, nil
}

func (s *Service) GetPaymentIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	intent, err := s.repo.GetPaymentIntent(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	return *intent, nil
}

// ConfirmPaymentIntent is the manual counterpart of a successful webhook.
func (s *Service) ConfirmPaymentIntent(ctx context.Context, id string, req domain.PaymentIntentConfirmRequest) (domain.PaymentIntent, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleOwner, domain.RoleSuperAdmin); err != nil {
		return domain.PaymentIntent{}, err
	}
	if req.ObservedAmountCents < 1 {
		return domain.PaymentIntent{}, invalidInput("observed_amount_cents must be positive")
	}

	intent, _, err := s.applyTransition(ctx, domain.IntentTransition{
		IntentID:            strings.TrimSpace(id),
		To:                  domain.IntentStatusConfirmed,
		ObservedAmountCents: req.ObservedAmountCents,
		ProviderReference:   strings.TrimSpace(req.ProviderReference),
	})
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	s.logAudit(ctx, "payment_intent_confirm", "payment_intent", intent.ID, fmt.Sprintf("observed=%d", req.ObservedAmountCents))
	return *intent, nil
}

func (s *Service) FailPaymentIntent(ctx context.Context, id string, req domain.PaymentIntentFailRequest) (domain.PaymentIntent, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleOwner, domain.RoleSuperAdmin); err != nil {
		return domain.PaymentIntent{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) < 3 {
		return domain.PaymentIntent{}, invalidInput("reason must be at least 3 characters")
	}

	intent, changed, err := s.applyTransition(ctx, domain.IntentTransition{
		IntentID:      strings.TrimSpace(id),
		To:            domain.IntentStatusFailed,
		FailureReason: reason,
	})
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if changed {
		s.logAudit(ctx, "payment_intent_fail", "payment_intent", intent.ID, reason)
	}
	return *intent, nil
}

// ExpirePendingIntents fails pending intents whose reservation window has
// passed and reports how many were moved.
func (s *Service) ExpirePendingIntents(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.repo.ListExpiredPendingIntents(ctx, now, 200)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, intent := range expired {
		_, changed, err := s.applyTransition(ctx, domain.IntentTransition{
			IntentID:      intent.ID,
			To:            domain.IntentStatusFailed,
			FailureReason: expiredIntentReason,
			At:            now,
		})
		switch {
		case err == nil:
			if changed {
				count++
			}
		case errors.Is(err, store.ErrIntentNotPending):
			// settled between the listing and the transition
		default:
			return count, fmt.Errorf("expire intent %s: %w", intent.ID, err)
		}
	}
	if count > 0 {
		s.logger.Info("expired pending payment intents", zap.Int("count", count))
	}
	return count, nil
}

// applyTransition runs a transition without an idempotency event and fires
// the confirmation side effects. changed is false for a repeated fail.
func (s *Service) applyTransition(ctx context.Context, t domain.IntentTransition) (intent *domain.PaymentIntent, changed bool, err error) {
	if t.At.IsZero() {
		t.At = s.now()
	}
	t.AmountToleranceCents = s.tolerance

	outcome, intent, err := s.repo.ApplyIntentTransition(ctx, t)
	if err != nil {
		return nil, false, err
	}
	if outcome == domain.ApplyUnchanged {
		return intent, false, nil
	}
	metrics.PaymentIntentTransitionsTotal.WithLabelValues(intent.Status).Inc()
	if intent.Status == domain.IntentStatusConfirmed {
		s.recordRevenueAsync(ctx, *intent)
	}
	return intent, true, nil
}

// recordRevenueAsync posts the confirmed amount to the revenue ledger without
// holding up the caller. A failure is logged and never undoes the confirmation.
func (s *Service) recordRevenueAsync(ctx context.Context, intent domain.PaymentIntent) {
	entry := revenue.Entry{
		IntentID:          intent.ID,
		OrderID:           intent.OrderID,
		AmountCents:       intent.ExpectedAmountCents,
		Currency:          intent.Currency,
		ProviderReference: intent.ProviderReference,
		ConfirmedAt:       intent.UpdatedAt,
	}
	if intent.ConfirmedAt != nil {
		entry.ConfirmedAt = *intent.ConfirmedAt
	}

	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		if err := s.revenue.RecordRevenue(bgCtx, entry); err != nil {
			s.logger.Error("failed to record revenue",
				zap.String("intent_id", entry.IntentID),
				zap.String("order_id", entry.OrderID),
				zap.Error(err),
			)
		}
	}()
}

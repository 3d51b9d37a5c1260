package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"retailcore/backend/internal/alert"
	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/metrics"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/webhook"
)

const (
	eventTypeSuccess        = "transaction.success"
	eventTypeFailed         = "transaction.failed"
	eventTypeUnlinked       = "transaction.unlinked"
	eventTypeIntentMissing  = "transaction.intent_not_found"
	eventTypeAmountMismatch = "transaction.amount_mismatch"
	eventTypeNotPending     = "transaction.intent_not_pending"

	warningPending        = "Transaction pending"
	warningNoOrder        = "No order ID"
	warningIntentNotFound = "Intent not found"
	warningAmountMismatch = "Amount mismatch, held for manual review"
	warningNotPending     = "Intent already settled"
)

// HandlePaymentWebhook verifies and applies one provider callback. Every
// return without error is safe to acknowledge; an error wrapping
// ErrSignatureInvalid or ErrPayloadInvalid must not be retried, any other
// error should be.
func (s *Service) HandlePaymentWebhook(ctx context.Context, cb *webhook.Callback, signature string, remoteAddr string) (domain.WebhookAck, error) {
	var tx *webhook.Transaction
	if cb != nil {
		tx = cb.Obj
	}

	verdict := s.verifier.Verify(tx, signature)
	if tx == nil && verdict.Reason == webhook.ReasonComparisonFailed {
		metrics.WebhookEventsTotal.WithLabelValues("invalid_payload").Inc()
		return domain.WebhookAck{}, fmt.Errorf("%w: obj is required", ErrPayloadInvalid)
	}
	if !verdict.Valid {
		metrics.WebhookSignatureFailuresTotal.WithLabelValues(string(verdict.Reason)).Inc()
		metrics.WebhookEventsTotal.WithLabelValues("signature_invalid").Inc()
		attrs := map[string]string{
			"provider":    webhook.Provider,
			"reason":      string(verdict.Reason),
			"remote_addr": remoteAddr,
		}
		if tx != nil && tx.ID != nil {
			attrs["external_id"] = strconv.FormatInt(*tx.ID, 10)
		}
		s.raiseAlert(ctx, alert.Alert{
			Kind:       alert.KindSignatureInvalid,
			Severity:   "high",
			Message:    "payment webhook rejected: invalid signature",
			Attributes: attrs,
		})
		return domain.WebhookAck{}, fmt.Errorf("%w: %w", ErrSignatureInvalid, verdict.Err())
	}

	eventID := tx.EventID()
	if eventID == "" {
		metrics.WebhookEventsTotal.WithLabelValues("invalid_payload").Inc()
		return domain.WebhookAck{}, fmt.Errorf("%w: obj.id is required", ErrPayloadInvalid)
	}
	log := s.logger.With(zap.String("event_id", eventID))

	duplicate, err := s.isDuplicate(ctx, eventID)
	if err != nil {
		return domain.WebhookAck{}, err
	}
	if duplicate {
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		log.Debug("webhook already processed")
		return domain.WebhookAck{Received: true, Duplicate: true}, nil
	}

	// The final callback for the same transaction carries the same id, so a
	// pending one is acknowledged without marking.
	if tx.IsPending() {
		metrics.WebhookEventsTotal.WithLabelValues("pending").Inc()
		log.Info("webhook transaction still pending")
		return domain.WebhookAck{Received: true, Warning: warningPending}, nil
	}

	orderID := tx.MerchantOrder()
	if orderID == "" {
		log.Warn("webhook without merchant order reference")
		return s.markAndAck(ctx, domain.ProcessedWebhookEvent{
			ID:        eventID,
			Provider:  webhook.Provider,
			EventType: eventTypeUnlinked,
		}, "unlinked", warningNoOrder)
	}
	log = log.With(zap.String("order_id", orderID))

	intent, err := s.repo.FindPendingIntentByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("webhook for unknown payment intent")
		return s.markAndAck(ctx, domain.ProcessedWebhookEvent{
			ID:             eventID,
			Provider:       webhook.Provider,
			EventType:      eventTypeIntentMissing,
			LinkedEntityID: orderID,
		}, "intent_not_found", warningIntentNotFound)
	}
	if err != nil {
		return domain.WebhookAck{}, err
	}

	transition := domain.IntentTransition{
		IntentID:             intent.ID,
		ProviderReference:    eventID,
		AmountToleranceCents: s.tolerance,
		At:                   s.now(),
		Event: &domain.ProcessedWebhookEvent{
			ID:             eventID,
			Provider:       webhook.Provider,
			LinkedEntityID: intent.ID,
		},
	}
	if tx.Succeeded() {
		transition.To = domain.IntentStatusConfirmed
		transition.ObservedAmountCents = tx.Amount()
		transition.Event.EventType = eventTypeSuccess
	} else {
		transition.To = domain.IntentStatusFailed
		transition.FailureReason = tx.FailureReason()
		transition.Event.EventType = eventTypeFailed
	}

	outcome, updated, err := s.repo.ApplyIntentTransition(ctx, transition)
	switch {
	case errors.Is(err, store.ErrAmountMismatch):
		log.Warn("webhook amount does not match payment intent",
			zap.String("intent_id", intent.ID),
			zap.Int64("expected_cents", intent.ExpectedAmountCents),
			zap.Int64("observed_cents", tx.Amount()),
		)
		s.raiseAlert(ctx, alert.Alert{
			Kind:     alert.KindAmountMismatch,
			Severity: "high",
			Message:  "payment amount mismatch requires manual review",
			Attributes: map[string]string{
				"event_id":       eventID,
				"intent_id":      intent.ID,
				"order_id":       orderID,
				"expected_cents": strconv.FormatInt(intent.ExpectedAmountCents, 10),
				"observed_cents": strconv.FormatInt(tx.Amount(), 10),
			},
		})
		return s.markAndAck(ctx, domain.ProcessedWebhookEvent{
			ID:             eventID,
			Provider:       webhook.Provider,
			EventType:      eventTypeAmountMismatch,
			LinkedEntityID: intent.ID,
		}, "amount_mismatch", warningAmountMismatch)
	case errors.Is(err, store.ErrIntentNotPending):
		log.Warn("webhook for settled payment intent", zap.String("intent_id", intent.ID))
		return s.markAndAck(ctx, domain.ProcessedWebhookEvent{
			ID:             eventID,
			Provider:       webhook.Provider,
			EventType:      eventTypeNotPending,
			LinkedEntityID: intent.ID,
		}, "intent_not_pending", warningNotPending)
	case err != nil:
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		log.Error("failed to apply webhook", zap.Error(err))
		return domain.WebhookAck{}, err
	}

	s.rememberEvent(ctx, eventID)
	if outcome == domain.ApplyAlreadyProcessed {
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		return domain.WebhookAck{Received: true, Duplicate: true}, nil
	}
	if outcome == domain.ApplyUnchanged {
		metrics.WebhookEventsTotal.WithLabelValues("intent_not_pending").Inc()
		log.Info("failure webhook for already failed payment intent", zap.String("intent_id", updated.ID))
		return domain.WebhookAck{Received: true, Warning: warningNotPending}, nil
	}

	metrics.WebhookEventsTotal.WithLabelValues(updated.Status).Inc()
	metrics.PaymentIntentTransitionsTotal.WithLabelValues(updated.Status).Inc()
	log.Info("payment intent settled by webhook",
		zap.String("intent_id", updated.ID),
		zap.String("status", updated.Status),
	)
	s.logAudit(ctx, "payment_intent_"+updated.Status, "payment_intent", updated.ID, "webhook "+eventID)
	if updated.Status == domain.IntentStatusConfirmed {
		s.recordRevenueAsync(ctx, *updated)
	}
	return domain.WebhookAck{Received: true}, nil
}

// isDuplicate consults the cache first; the store stays authoritative.
func (s *Service) isDuplicate(ctx context.Context, eventID string) (bool, error) {
	seen, err := s.events.Seen(ctx, eventID)
	if err != nil {
		s.logger.Warn("event cache lookup failed", zap.String("event_id", eventID), zap.Error(err))
	} else if seen {
		return true, nil
	}

	processed, err := s.repo.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, err
	}
	if processed {
		s.rememberEvent(ctx, eventID)
	}
	return processed, nil
}

func (s *Service) rememberEvent(ctx context.Context, eventID string) {
	if err := s.events.Remember(ctx, eventID, s.eventTTL); err != nil {
		s.logger.Warn("event cache write failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

// markAndAck records an event that has no intent effect to apply.
func (s *Service) markAndAck(ctx context.Context, event domain.ProcessedWebhookEvent, outcome string, warning string) (domain.WebhookAck, error) {
	event.RecordedAt = s.now()
	inserted, err := s.repo.MarkEventProcessed(ctx, event)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		return domain.WebhookAck{}, err
	}
	s.rememberEvent(ctx, event.ID)
	if !inserted {
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		return domain.WebhookAck{Received: true, Duplicate: true}, nil
	}
	metrics.WebhookEventsTotal.WithLabelValues(outcome).Inc()
	return domain.WebhookAck{Received: true, Warning: warning}, nil
}

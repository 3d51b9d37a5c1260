package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

const intentColumns = `
	id, order_id, expected_amount_cents, currency, status,
	COALESCE(provider_reference, ''), COALESCE(failure_reason, ''),
	expires_at, confirmed_at, created_at, updated_at`

func scanIntent(row scanner) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := row.Scan(
		&intent.ID, &intent.OrderID, &intent.ExpectedAmountCents, &intent.Currency, &intent.Status,
		&intent.ProviderReference, &intent.FailureReason,
		&intent.ExpiresAt, &intent.ConfirmedAt, &intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	intent.ExpiresAt = utcPtr(intent.ExpiresAt)
	intent.ConfirmedAt = utcPtr(intent.ConfirmedAt)
	intent.CreatedAt = intent.CreatedAt.UTC()
	intent.UpdatedAt = intent.UpdatedAt.UTC()
	return &intent, nil
}

func (s *Store) CreatePaymentIntent(ctx context.Context, intent domain.PaymentIntent) (*domain.PaymentIntent, error) {
	if strings.TrimSpace(intent.OrderID) == "" || intent.ExpectedAmountCents < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if intent.ID == "" {
		intent.ID = xid.New("pi")
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	intent.UpdatedAt = intent.CreatedAt
	intent.Status = domain.IntentStatusPending

	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_intents (
			id, order_id, expected_amount_cents, currency, status, expires_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, intent.ID, intent.OrderID, intent.ExpectedAmountCents, intent.Currency, intent.Status, nullTime(intent.ExpiresAt), intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := intent
	return &created, nil
}

func (s *Store) GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return scanIntent(s.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
}

func (s *Store) FindPendingIntentByOrder(ctx context.Context, orderID string) (*domain.PaymentIntent, error) {
	return scanIntent(s.pool.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE order_id = $1 AND status = 'pending'
	`, orderID))
}

// ApplyIntentTransition records the webhook event and moves the intent inside
// one transaction. A rolled back transition leaves the event unrecorded.
func (s *Store) ApplyIntentTransition(ctx context.Context, t domain.IntentTransition) (domain.ApplyOutcome, *domain.PaymentIntent, error) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}

	var (
		outcome domain.ApplyOutcome
		result  *domain.PaymentIntent
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		outcome, result = 0, nil

		if t.Event != nil {
			recordedAt := t.Event.RecordedAt
			if recordedAt.IsZero() {
				recordedAt = t.At
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO processed_webhook_events (id, provider, event_type, linked_entity_id, recorded_at)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (id) DO NOTHING
			`, t.Event.ID, t.Event.Provider, t.Event.EventType, nullIfEmpty(t.Event.LinkedEntityID), recordedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				outcome = domain.ApplyAlreadyProcessed
				return nil
			}
		}

		intent, err := scanIntent(tx.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, t.IntentID))
		if err != nil {
			return err
		}
		changed, err := store.ApplyTransition(intent, t)
		if err != nil {
			return err
		}
		if !changed {
			outcome, result = domain.ApplyUnchanged, intent
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE payment_intents
			SET status = $2, provider_reference = $3, failure_reason = $4, confirmed_at = $5, updated_at = $6
			WHERE id = $1
		`, intent.ID, intent.Status, nullIfEmpty(intent.ProviderReference), nullIfEmpty(intent.FailureReason), nullTime(intent.ConfirmedAt), intent.UpdatedAt)
		if err != nil {
			return err
		}

		outcome, result = domain.ApplyApplied, intent
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return outcome, result, nil
}

func (s *Store) ListExpiredPendingIntents(ctx context.Context, now time.Time, limit int) ([]domain.PaymentIntent, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	intents := make([]domain.PaymentIntent, 0, 16)
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *intent)
	}
	return intents, rows.Err()
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE id = $1)`, eventID).Scan(&exists)
	return exists, err
}

func (s *Store) MarkEventProcessed(ctx context.Context, event domain.ProcessedWebhookEvent) (bool, error) {
	if strings.TrimSpace(event.ID) == "" {
		return false, store.ErrInvalidTransaction
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_webhook_events (id, provider, event_type, linked_entity_id, recorded_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Provider, event.EventType, nullIfEmpty(event.LinkedEntityID), event.RecordedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

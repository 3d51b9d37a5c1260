package store

import (
	"fmt"

	"retailcore/backend/internal/domain"
)

// ApplyTransition moves intent according to t. Both store implementations
// call it while holding the intent lock. changed is false when a fail is
// repeated on an already failed intent.
func ApplyTransition(intent *domain.PaymentIntent, t domain.IntentTransition) (bool, error) {
	if t.To == domain.IntentStatusFailed && intent.Status == domain.IntentStatusFailed {
		return false, nil
	}
	if intent.Status != domain.IntentStatusPending {
		return false, fmt.Errorf("%w: intent %s is %s", ErrIntentNotPending, intent.ID, intent.Status)
	}

	switch t.To {
	case domain.IntentStatusConfirmed:
		diff := t.ObservedAmountCents - intent.ExpectedAmountCents
		if diff < 0 {
			diff = -diff
		}
		if diff > t.AmountToleranceCents {
			return false, fmt.Errorf("%w: expected %d, observed %d", ErrAmountMismatch, intent.ExpectedAmountCents, t.ObservedAmountCents)
		}
		at := t.At
		intent.Status = domain.IntentStatusConfirmed
		intent.ConfirmedAt = &at
	case domain.IntentStatusFailed:
		intent.Status = domain.IntentStatusFailed
		intent.FailureReason = t.FailureReason
	default:
		return false, fmt.Errorf("%w: unsupported target state %q", ErrInvalidTransaction, t.To)
	}

	if t.ProviderReference != "" {
		intent.ProviderReference = t.ProviderReference
	}
	intent.UpdatedAt = t.At
	return true, nil
}

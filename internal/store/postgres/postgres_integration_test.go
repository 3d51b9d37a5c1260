package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("RETAILCORE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILCORE_TEST_DATABASE_URL to run postgres integration tests")
	}

	s, err := New(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestApplyIntentTransitionIsIdempotent(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	orderID := fmt.Sprintf("order-it-%d", stamp)
	eventID := fmt.Sprintf("paymob_it_%d", stamp)

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM processed_webhook_events WHERE id = $1`, eventID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM payment_intents WHERE order_id = $1`, orderID)
	})

	intent, err := s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: orderID, ExpectedAmountCents: 10000, Currency: "EGP"})
	require.NoError(t, err)

	_, err = s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: orderID, ExpectedAmountCents: 10000})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	transition := domain.IntentTransition{
		IntentID:            intent.ID,
		To:                  domain.IntentStatusConfirmed,
		ObservedAmountCents: 10000,
		ProviderReference:   eventID,
		Event:               &domain.ProcessedWebhookEvent{ID: eventID, Provider: "paymob", EventType: "transaction.success", LinkedEntityID: intent.ID},
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := s.ApplyIntentTransition(ctx, transition)
			if err != nil {
				return
			}
			if outcome == domain.ApplyApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)

	stored, err := s.GetPaymentIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusConfirmed, stored.Status)
}

func TestPOSTransactionKeepsLedgerConsistent(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	itemID := fmt.Sprintf("ITEM-IT-%d", stamp)

	var sessionID string
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM cash_movements WHERE session_id = $1`, sessionID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM pos_transactions WHERE session_id = $1`, sessionID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM pos_sessions WHERE id = $1`, sessionID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM inventory_movements WHERE item_id = $1`, itemID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM inventory_records WHERE item_id = $1`, itemID)
	})

	_, _, err := s.AdjustStock(ctx, domain.StockAdjustment{
		ItemID: itemID, WarehouseID: "wh-main", Delta: 5, Action: domain.MovementAdjust,
		Reason: "Integration seed", ActorID: "it", DefaultMinStock: 1,
	})
	require.NoError(t, err)

	session, err := s.CreateSession(ctx, domain.POSSession{
		ID: fmt.Sprintf("sess-it-%d", stamp), TerminalID: "terminal-b1", CashierID: "cashier", OpeningBalanceCents: 1000,
	})
	require.NoError(t, err)
	sessionID = session.ID

	sell := func(qty int) error {
		_, err := s.CreatePOSTransaction(ctx, domain.POSSale{
			Transaction: domain.POSTransaction{
				SessionID: session.ID, WarehouseID: "wh-main", SubtotalCents: 500, TotalCents: 500,
				TotalReceivedCents: 500, CreatedBy: "cashier",
				Items:    []domain.POSTransactionItem{{ItemID: itemID, SKU: itemID, Name: "IT", Quantity: qty, UnitPriceCents: 500 / int64(qty), LineTotalCents: 500}},
				Payments: []domain.POSPayment{{Method: domain.PaymentMethodCash, AmountCents: 500}},
			},
			CashAmountCents: 500,
		})
		return err
	}

	require.NoError(t, sell(2))
	require.ErrorIs(t, sell(4), store.ErrInsufficientStock)

	record, err := s.GetInventoryRecord(ctx, itemID, "wh-main")
	require.NoError(t, err)
	assert.Equal(t, 3, record.Available)

	cash, err := s.ListCashMovements(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, cash, 1)
	assert.Equal(t, int64(1500), cash[0].BalanceAfterCents)

	rows, err := s.ReconcileStock(ctx, "wh-main")
	require.NoError(t, err)
	for _, row := range rows {
		if row.ItemID == itemID {
			assert.True(t, row.Consistent)
		}
	}

	closed, err := s.CloseSession(ctx, domain.SessionClose{SessionID: session.ID, CountedCashCents: 1500, ThresholdCents: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(0), *closed.DifferenceCents)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	itemID := fmt.Sprintf("ITEM-RACE-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM inventory_movements WHERE item_id = $1`, itemID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM inventory_records WHERE item_id = $1`, itemID)
	})

	const (
		available = 10
		step      = 3
		workers   = 12
	)
	_, _, err := s.AdjustStock(ctx, domain.StockAdjustment{
		ItemID: itemID, WarehouseID: "wh-main", Delta: available, Action: domain.MovementAdjust,
		Reason: "Integration seed", ActorID: "it", DefaultMinStock: 1,
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.AdjustStock(ctx, domain.StockAdjustment{
				ItemID: itemID, WarehouseID: "wh-main", Delta: -step, Action: domain.MovementAdjust,
				Reason: "Integration race", ActorID: "it",
			})
			if err != nil {
				assert.ErrorIs(t, err, store.ErrInsufficientStock)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, available/step, succeeded)
	record, err := s.GetInventoryRecord(ctx, itemID, "wh-main")
	require.NoError(t, err)
	assert.Equal(t, available-succeeded*step, record.Available)
	assert.GreaterOrEqual(t, record.Available, 0)

	rows, err := s.ReconcileStock(ctx, "wh-main")
	require.NoError(t, err)
	found := false
	for _, row := range rows {
		if row.ItemID == itemID {
			found = true
			assert.True(t, row.Consistent)
			assert.Equal(t, record.Available, row.MovementSum)
		}
	}
	assert.True(t, found)
}

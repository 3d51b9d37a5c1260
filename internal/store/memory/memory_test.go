package memory

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
)

func TestSeededStockReconciles(t *testing.T) {
	s := NewSeeded()

	rows, err := s.ReconcileStock(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.True(t, row.Consistent, "%s@%s", row.ItemID, row.WarehouseID)
	}
}

func TestAdjustStockCreatesRecordOnPositiveDelta(t *testing.T) {
	s := New()
	ctx := context.Background()

	record, movement, err := s.AdjustStock(ctx, domain.StockAdjustment{
		ItemID:          "ITEM-NEW",
		WarehouseID:     "wh-main",
		Delta:           8,
		Action:          domain.MovementAdjust,
		Reason:          "Initial count",
		ActorID:         "admin",
		DefaultMinStock: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 8, record.Available)
	assert.Equal(t, 5, record.MinStock)
	assert.Equal(t, domain.StockStatusInStock, record.Status)
	assert.Equal(t, 8, movement.BalanceAfter)
	assert.Equal(t, 8, movement.QuantityDelta)
}

func TestAdjustStockRejectsNegativeOnAbsentRecord(t *testing.T) {
	s := New()

	_, _, err := s.AdjustStock(context.Background(), domain.StockAdjustment{
		ItemID:      "ITEM-GHOST",
		WarehouseID: "wh-main",
		Delta:       -1,
		Action:      domain.MovementAdjust,
		Reason:      "Shrinkage",
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = s.GetInventoryRecord(context.Background(), "ITEM-GHOST", "wh-main")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdjustStockNeverGoesNegative(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, _, err := s.AdjustStock(ctx, domain.StockAdjustment{
		ItemID:      "ITEM-ROTI-01",
		WarehouseID: "wh-main",
		Delta:       -4,
		Action:      domain.MovementAdjust,
		Reason:      "Damaged",
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	record, err := s.GetInventoryRecord(ctx, "ITEM-ROTI-01", "wh-main")
	require.NoError(t, err)
	assert.Equal(t, 3, record.Available)

	movements, err := s.ListMovements(ctx, "ITEM-ROTI-01", "wh-main", 0)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	s := New()
	ctx := context.Background()

	const (
		available = 10
		step      = 3
		workers   = 12
	)
	_, _, err := s.AdjustStock(ctx, domain.StockAdjustment{
		ItemID: "ITEM-RACE-01", WarehouseID: "wh-main", Delta: available,
		Action: domain.MovementAdjust, Reason: "Opening stock", ActorID: "admin",
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
				ItemID: "ITEM-RACE-01", WarehouseID: "wh-main", Delta: -step,
				Action: domain.MovementAdjust, Reason: "Sold offline", ActorID: "admin",
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
	record, err := s.GetInventoryRecord(ctx, "ITEM-RACE-01", "wh-main")
	require.NoError(t, err)
	assert.Equal(t, available-succeeded*step, record.Available)
	assert.GreaterOrEqual(t, record.Available, 0)

	rows, err := s.ReconcileStock(ctx, "wh-main")
	require.NoError(t, err)
	for _, row := range rows {
		assert.True(t, row.Consistent, row.ItemID)
	}
}

func TestTransferStockIsAllOrNothing(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.TransferStock(ctx, domain.StockTransfer{
		ItemID:          "ITEM-MIE-01",
		FromWarehouseID: "wh-branch",
		ToWarehouseID:   "wh-main",
		Qty:             31,
		Reason:          "Rebalance",
		CorrelationID:   "corr-1",
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	resp, err := s.TransferStock(ctx, domain.StockTransfer{
		ItemID:          "ITEM-MIE-01",
		FromWarehouseID: "wh-main",
		ToWarehouseID:   "wh-east",
		Qty:             20,
		Reason:          "Rebalance",
		CorrelationID:   "corr-2",
		DefaultMinStock: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, resp.Source.Available)
	assert.Equal(t, 20, resp.Destination.Available)
	require.Len(t, resp.Movements, 2)
	assert.Equal(t, domain.MovementTransferOut, resp.Movements[0].Action)
	assert.Equal(t, domain.MovementTransferIn, resp.Movements[1].Action)
	assert.Equal(t, "corr-2", resp.Movements[0].CorrelationID)
	assert.Equal(t, "corr-2", resp.Movements[1].CorrelationID)

	rows, err := s.ReconcileStock(ctx, "")
	require.NoError(t, err)
	for _, row := range rows {
		assert.True(t, row.Consistent)
	}
}

func TestTransferStockRejectsSameWarehouse(t *testing.T) {
	s := NewSeeded()

	_, err := s.TransferStock(context.Background(), domain.StockTransfer{
		ItemID:          "ITEM-MIE-01",
		FromWarehouseID: "wh-main",
		ToWarehouseID:   "wh-main",
		Qty:             1,
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestListInventoryFiltersAndPaginates(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	items, total, err := s.ListInventory(ctx, domain.InventoryQuery{WarehouseID: "wh-main", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, items, 2)

	low, total, err := s.ListInventory(ctx, domain.InventoryQuery{Status: domain.StockStatusLowStock, Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "ITEM-ROTI-01", low[0].ItemID)

	empty, _, err := s.ListInventory(ctx, domain.InventoryQuery{Page: 9, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, empty)

	all, _, err := s.ListInventory(ctx, domain.InventoryQuery{Page: 1, Limit: 100})
	require.NoError(t, err)
	keys := make([]string, 0, len(all))
	for _, record := range all {
		keys = append(keys, record.WarehouseID+"\x00"+record.ItemID)
	}
	assert.True(t, slices.IsSorted(keys), keys)
}

func TestApplyIntentTransitionMarksEventOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	intent, err := s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: "order-1", ExpectedAmountCents: 10000, Currency: "EGP"})
	require.NoError(t, err)

	transition := domain.IntentTransition{
		IntentID:            intent.ID,
		To:                  domain.IntentStatusConfirmed,
		ObservedAmountCents: 10000,
		ProviderReference:   "paymob_555",
		Event:               &domain.ProcessedWebhookEvent{ID: "paymob_555", Provider: "paymob", EventType: "transaction.success"},
	}

	var wg sync.WaitGroup
	outcomes := make(chan domain.ApplyOutcome, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := s.ApplyIntentTransition(ctx, transition)
			if err == nil {
				outcomes <- outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	applied := 0
	for outcome := range outcomes {
		if outcome == domain.ApplyApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)

	stored, err := s.GetPaymentIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusConfirmed, stored.Status)
	assert.Equal(t, "paymob_555", stored.ProviderReference)
}

func TestApplyIntentTransitionErrorLeavesEventUnmarked(t *testing.T) {
	s := New()
	ctx := context.Background()

	intent, err := s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: "order-2", ExpectedAmountCents: 10000})
	require.NoError(t, err)

	_, _, err = s.ApplyIntentTransition(ctx, domain.IntentTransition{
		IntentID:            intent.ID,
		To:                  domain.IntentStatusConfirmed,
		ObservedAmountCents: 9000,
		Event:               &domain.ProcessedWebhookEvent{ID: "paymob_777"},
	})
	require.ErrorIs(t, err, store.ErrAmountMismatch)

	processed, err := s.IsEventProcessed(ctx, "paymob_777")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestApplyIntentTransitionRepeatedFailIsUnchanged(t *testing.T) {
	s := New()
	ctx := context.Background()

	intent, err := s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: "order-3", ExpectedAmountCents: 500})
	require.NoError(t, err)

	fail := domain.IntentTransition{IntentID: intent.ID, To: domain.IntentStatusFailed, FailureReason: "declined"}
	outcome, _, err := s.ApplyIntentTransition(ctx, fail)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyApplied, outcome)

	fail.FailureReason = "declined again"
	fail.Event = &domain.ProcessedWebhookEvent{ID: "paymob_901", Provider: "paymob"}
	outcome, updated, err := s.ApplyIntentTransition(ctx, fail)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyUnchanged, outcome)
	assert.Equal(t, "declined", updated.FailureReason)

	processed, err := s.IsEventProcessed(ctx, "paymob_901")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestCreatePaymentIntentRejectsSecondPendingForOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: "order-3", ExpectedAmountCents: 500})
	require.NoError(t, err)
	_, err = s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: "order-3", ExpectedAmountCents: 500})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestListExpiredPendingIntents(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired, err := s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: "order-old", ExpectedAmountCents: 100, ExpiresAt: &past})
	require.NoError(t, err)
	_, err = s.CreatePaymentIntent(ctx, domain.PaymentIntent{OrderID: "order-new", ExpectedAmountCents: 100, ExpiresAt: &future})
	require.NoError(t, err)

	result, err := s.ListExpiredPendingIntents(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, expired.ID, result[0].ID)
}

func TestMarkEventProcessedIsInsertIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	inserted, err := s.MarkEventProcessed(ctx, domain.ProcessedWebhookEvent{ID: "paymob_1"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.MarkEventProcessed(ctx, domain.ProcessedWebhookEvent{ID: "paymob_1"})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func openTestSession(t *testing.T, s *Store, opening int64) *domain.POSSession {
	t.Helper()
	session, err := s.CreateSession(context.Background(), domain.POSSession{
		TerminalID:          "terminal-a1",
		CashierID:           "cashier",
		OpeningBalanceCents: opening,
	})
	require.NoError(t, err)
	return session
}

func TestCreatePOSTransactionRollsBackOnShortStock(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	session := openTestSession(t, s, 100000)

	_, err := s.CreatePOSTransaction(ctx, domain.POSSale{
		Transaction: domain.POSTransaction{
			SessionID:   session.ID,
			WarehouseID: "wh-main",
			TotalCents:  50000,
			Items: []domain.POSTransactionItem{
				{ItemID: "ITEM-MIE-01", Quantity: 2},
				{ItemID: "ITEM-ROTI-01", Quantity: 5},
			},
			Payments: []domain.POSPayment{{Method: domain.PaymentMethodCash, AmountCents: 50000}},
		},
		CashAmountCents: 50000,
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	record, err := s.GetInventoryRecord(ctx, "ITEM-MIE-01", "wh-main")
	require.NoError(t, err)
	assert.Equal(t, 120, record.Available)

	cash, err := s.ListCashMovements(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, cash)

	txns, err := s.ListPOSTransactions(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestCreatePOSTransactionChainsCashBalance(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	session := openTestSession(t, s, 100000)

	sale := func(cash int64) *domain.POSTransaction {
		txn, err := s.CreatePOSTransaction(ctx, domain.POSSale{
			Transaction: domain.POSTransaction{
				SessionID:   session.ID,
				WarehouseID: "wh-main",
				TotalCents:  cash,
				CreatedBy:   "cashier",
				Items:       []domain.POSTransactionItem{{ItemID: "ITEM-KOPI-01", Quantity: 1}},
				Payments:    []domain.POSPayment{{Method: domain.PaymentMethodCash, AmountCents: cash}},
			},
			CashAmountCents: cash,
		})
		require.NoError(t, err)
		return txn
	}

	first := sale(15000)
	second := sale(5000)
	assert.Regexp(t, `^TXN-\d{8}-000001$`, first.TransactionNo)
	assert.Regexp(t, `^TXN-\d{8}-000002$`, second.TransactionNo)

	cash, err := s.ListCashMovements(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, cash, 2)
	assert.Equal(t, int64(115000), cash[0].BalanceAfterCents)
	assert.Equal(t, int64(120000), cash[1].BalanceAfterCents)

	movements, err := s.ListMovements(ctx, "ITEM-KOPI-01", "wh-main", 1)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementFulfill, movements[0].Action)
	assert.Equal(t, second.ID, movements[0].CorrelationID)
	assert.Equal(t, "POS Sale: "+second.TransactionNo, movements[0].Reason)

	stored, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.SalesCount)
	assert.Equal(t, int64(20000), stored.SalesTotalCents)
}

func TestCloseSessionEnforcesThreshold(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	session := openTestSession(t, s, 100000)

	_, err := s.CloseSession(ctx, domain.SessionClose{
		SessionID:        session.ID,
		CountedCashCents: 90000,
		ThresholdCents:   5000,
	})
	require.ErrorIs(t, err, store.ErrCashDiscrepancy)

	closed, err := s.CloseSession(ctx, domain.SessionClose{
		SessionID:        session.ID,
		CountedCashCents: 90000,
		ThresholdCents:   5000,
		AdminOverride:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusClosed, closed.Status)
	assert.Equal(t, int64(-10000), *closed.DifferenceCents)
	assert.Equal(t, int64(100000), *closed.ExpectedBalanceCents)

	_, err = s.CloseSession(ctx, domain.SessionClose{SessionID: session.ID})
	require.ErrorIs(t, err, store.ErrSessionInvalid)

	reopened := openTestSession(t, s, 0)
	assert.NotEqual(t, session.ID, reopened.ID)
}

func TestCreateSessionRejectsSecondOpenOnTerminal(t *testing.T) {
	s := NewSeeded()
	openTestSession(t, s, 0)

	_, err := s.CreateSession(context.Background(), domain.POSSession{TerminalID: "terminal-a1", CashierID: "cashier2"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestListAuditLogsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{ID: "a", Action: "first", CreatedAt: base}))
	require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{ID: "b", Action: "second", CreatedAt: base.Add(time.Minute)}))

	logs, err := s.ListAuditLogs(ctx, base.Add(-time.Hour), base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "second", logs[0].Action)
}

func TestFormatTransactionNo(t *testing.T) {
	day := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "TXN-20261016-000042", FormatTransactionNo(day, 42))
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

const sessionColumns = `
	id, terminal_id, cashier_id, status, opening_balance_cents,
	sales_count, sales_total_cents, discounts_total_cents,
	closing_balance_cents, expected_balance_cents, difference_cents,
	COALESCE(closing_note, ''), opened_at, closed_at`

func scanSession(row scanner) (*domain.POSSession, error) {
	var session domain.POSSession
	err := row.Scan(
		&session.ID, &session.TerminalID, &session.CashierID, &session.Status, &session.OpeningBalanceCents,
		&session.SalesCount, &session.SalesTotalCents, &session.DiscountsTotalCents,
		&session.ClosingBalanceCents, &session.ExpectedBalanceCents, &session.DifferenceCents,
		&session.ClosingNote, &session.OpenedAt, &session.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	session.ClosedAt = utcPtr(session.ClosedAt)
	return &session, nil
}

func (s *Store) GetTerminal(ctx context.Context, terminalID string) (*domain.Terminal, error) {
	var terminal domain.Terminal
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, warehouse_id FROM pos_terminals WHERE id = $1
	`, terminalID).Scan(&terminal.ID, &terminal.Name, &terminal.WarehouseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &terminal, nil
}

func (s *Store) CreateSession(ctx context.Context, session domain.POSSession) (*domain.POSSession, error) {
	if strings.TrimSpace(session.TerminalID) == "" || strings.TrimSpace(session.CashierID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pos_sessions (id, terminal_id, cashier_id, status, opening_balance_cents, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, session.ID, session.TerminalID, session.CashierID, session.Status, session.OpeningBalanceCents, session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := session
	return &created, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.POSSession, error) {
	return scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM pos_sessions WHERE id = $1`, sessionID))
}

func lockSession(ctx context.Context, tx pgx.Tx, sessionID string) (*domain.POSSession, error) {
	return scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM pos_sessions WHERE id = $1 FOR UPDATE`, sessionID))
}

// cashBalanceTx is the balance after the latest cash movement, or the opening
// balance when the drawer has not moved yet.
func cashBalanceTx(ctx context.Context, tx pgx.Tx, session *domain.POSSession) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT balance_after_cents
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, session.ID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.OpeningBalanceCents, nil
	}
	return balance, err
}

func (s *Store) CloseSession(ctx context.Context, req domain.SessionClose) (*domain.POSSession, error) {
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}

	var closed *domain.POSSession
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		session, err := lockSession(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		if session.Status != domain.SessionStatusOpen {
			return store.ErrSessionInvalid
		}

		expected, err := cashBalanceTx(ctx, tx, session)
		if err != nil {
			return err
		}
		difference := req.CountedCashCents - expected
		if (difference > req.ThresholdCents || -difference > req.ThresholdCents) && !req.AdminOverride {
			return fmt.Errorf("%w: expected %d, counted %d", store.ErrCashDiscrepancy, expected, req.CountedCashCents)
		}

		counted := req.CountedCashCents
		closedAt := req.At
		session.Status = domain.SessionStatusClosed
		session.ClosingBalanceCents = &counted
		session.ExpectedBalanceCents = &expected
		session.DifferenceCents = &difference
		session.ClosingNote = req.Note
		session.ClosedAt = &closedAt

		_, err = tx.Exec(ctx, `
			UPDATE pos_sessions
			SET status = $2, closing_balance_cents = $3, expected_balance_cents = $4,
				difference_cents = $5, closing_note = $6, closed_at = $7
			WHERE id = $1
		`, session.ID, session.Status, counted, expected, difference, nullIfEmpty(req.Note), closedAt)
		if err != nil {
			return err
		}
		closed = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (s *Store) ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, type, amount_cents, balance_after_cents, COALESCE(reference, ''), performed_by, created_at
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 32)
	for rows.Next() {
		var m domain.CashMovement
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &m.AmountCents, &m.BalanceAfterCents, &m.Reference, &m.PerformedByID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// CreatePOSTransaction commits the sale, its stock movements, the drawer
// movement and the session counters together or not at all.
func (s *Store) CreatePOSTransaction(ctx context.Context, sale domain.POSSale) (*domain.POSTransaction, error) {
	if len(sale.Transaction.Items) == 0 || len(sale.Transaction.Payments) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	var created *domain.POSTransaction
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		txn := sale.Transaction
		txn.Items = slices.Clone(sale.Transaction.Items)
		txn.Payments = slices.Clone(sale.Transaction.Payments)
		if txn.ID == "" {
			txn.ID = xid.New("txn")
		}
		if txn.CreatedAt.IsZero() {
			txn.CreatedAt = time.Now().UTC()
		}
		txn.Status = domain.POSTransactionCompleted

		session, err := lockSession(ctx, tx, txn.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrSessionInvalid
		}
		if err != nil {
			return err
		}
		if session.Status != domain.SessionStatusOpen {
			return store.ErrSessionInvalid
		}

		txnNo, err := nextTransactionNo(ctx, tx, txn.CreatedAt)
		if err != nil {
			return err
		}
		txn.TransactionNo = txnNo

		lines := stockLines(txn.Items)
		itemIDs := make([]string, 0, len(lines))
		for _, line := range lines {
			itemIDs = append(itemIDs, line.ItemID)
		}
		if len(itemIDs) > 0 {
			if err := lockItemRows(ctx, tx, txn.WarehouseID, slices.Compact(slices.Clone(itemIDs))); err != nil {
				return err
			}
		}
		for _, line := range lines {
			if _, _, err := adjustTx(ctx, tx, domain.StockAdjustment{
				ItemID:          line.ItemID,
				WarehouseID:     txn.WarehouseID,
				Delta:           -line.Quantity,
				Action:          domain.MovementFulfill,
				Reason:          "POS Sale: " + txn.TransactionNo,
				ActorID:         txn.CreatedBy,
				CorrelationID:   txn.ID,
				DefaultMinStock: sale.DefaultMinStock,
				At:              txn.CreatedAt,
			}); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO pos_transactions (
				id, transaction_no, session_id, warehouse_id, subtotal_cents, discount_type, discount_cents,
				total_cents, total_received_cents, change_due_cents, status, customer_name, note, created_by, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, txn.ID, txn.TransactionNo, txn.SessionID, txn.WarehouseID, txn.SubtotalCents, nullIfEmpty(txn.DiscountType), txn.DiscountCents,
			txn.TotalCents, txn.TotalReceivedCents, txn.ChangeDueCents, txn.Status, nullIfEmpty(txn.CustomerName), nullIfEmpty(txn.Note),
			txn.CreatedBy, txn.CreatedAt); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i := range txn.Items {
			item := &txn.Items[i]
			if item.ID == "" {
				item.ID = xid.New("txi")
			}
			batch.Queue(`
				INSERT INTO pos_transaction_items (id, transaction_id, line_no, item_id, sku, name, quantity, unit_price_cents, line_total_cents)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, item.ID, txn.ID, i+1, nullIfEmpty(item.ItemID), item.SKU, item.Name, item.Quantity, item.UnitPriceCents, item.LineTotalCents)
		}
		for i := range txn.Payments {
			payment := &txn.Payments[i]
			if payment.ID == "" {
				payment.ID = xid.New("pay")
			}
			batch.Queue(`
				INSERT INTO pos_payments (id, transaction_id, line_no, method, amount_cents, reference)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, payment.ID, txn.ID, i+1, payment.Method, payment.AmountCents, nullIfEmpty(payment.Reference))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		if hasCashLeg(txn.Payments) {
			balance, err := cashBalanceTx(ctx, tx, session)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO cash_movements (id, session_id, type, amount_cents, balance_after_cents, reference, performed_by, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, xid.New("cash"), session.ID, domain.CashMovementSale, sale.CashAmountCents, balance+sale.CashAmountCents,
				txn.ID, txn.CreatedBy, txn.CreatedAt); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE pos_sessions
			SET sales_count = sales_count + 1,
				sales_total_cents = sales_total_cents + $2,
				discounts_total_cents = discounts_total_cents + $3
			WHERE id = $1
		`, session.ID, txn.TotalCents, txn.DiscountCents); err != nil {
			return err
		}

		created = &txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// nextTransactionNo serializes numbering per UTC day with an advisory lock
// held until the transaction ends.
func nextTransactionNo(ctx context.Context, tx pgx.Tx, at time.Time) (string, error) {
	day := nowDateUTC(at)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "pos_txn_no:"+day.Format("20060102")); err != nil {
		return "", err
	}

	var count int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM pos_transactions WHERE created_at >= $1 AND created_at < $2
	`, day, day.AddDate(0, 0, 1)).Scan(&count); err != nil {
		return "", err
	}
	return fmt.Sprintf("TXN-%s-%06d", day.Format("20060102"), count+1), nil
}

func (s *Store) ListPOSTransactions(ctx context.Context, sessionID string, limit int) ([]domain.POSTransaction, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_no, session_id, warehouse_id, subtotal_cents, COALESCE(discount_type, ''), discount_cents,
			total_cents, total_received_cents, change_due_cents, status, COALESCE(customer_name, ''), COALESCE(note, ''),
			created_by, created_at
		FROM pos_transactions
		WHERE ($1::text = '' OR session_id = $1)
		ORDER BY created_at DESC, transaction_no DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}

	txns := make([]domain.POSTransaction, 0, limit)
	index := make(map[string]int, limit)
	for rows.Next() {
		var txn domain.POSTransaction
		if err := rows.Scan(
			&txn.ID, &txn.TransactionNo, &txn.SessionID, &txn.WarehouseID, &txn.SubtotalCents, &txn.DiscountType, &txn.DiscountCents,
			&txn.TotalCents, &txn.TotalReceivedCents, &txn.ChangeDueCents, &txn.Status, &txn.CustomerName, &txn.Note,
			&txn.CreatedBy, &txn.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, err
		}
		txn.CreatedAt = txn.CreatedAt.UTC()
		txn.Items = []domain.POSTransactionItem{}
		txn.Payments = []domain.POSPayment{}
		index[txn.ID] = len(txns)
		txns = append(txns, txn)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return txns, nil
	}

	ids := make([]string, 0, len(txns))
	for _, txn := range txns {
		ids = append(ids, txn.ID)
	}

	itemRows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, COALESCE(item_id, ''), sku, name, quantity, unit_price_cents, line_total_cents
		FROM pos_transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, line_no
	`, ids)
	if err != nil {
		return nil, err
	}
	for itemRows.Next() {
		var (
			item  domain.POSTransactionItem
			txnID string
		)
		if err := itemRows.Scan(&item.ID, &txnID, &item.ItemID, &item.SKU, &item.Name, &item.Quantity, &item.UnitPriceCents, &item.LineTotalCents); err != nil {
			itemRows.Close()
			return nil, err
		}
		i := index[txnID]
		txns[i].Items = append(txns[i].Items, item)
	}
	itemRows.Close()
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	paymentRows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, method, amount_cents, COALESCE(reference, '')
		FROM pos_payments
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, line_no
	`, ids)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var (
			payment domain.POSPayment
			txnID   string
		)
		if err := paymentRows.Scan(&payment.ID, &txnID, &payment.Method, &payment.AmountCents, &payment.Reference); err != nil {
			return nil, err
		}
		i := index[txnID]
		txns[i].Payments = append(txns[i].Payments, payment)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}

func stockLines(items []domain.POSTransactionItem) []domain.POSTransactionItem {
	lines := make([]domain.POSTransactionItem, 0, len(items))
	for _, item := range items {
		if item.ItemID != "" {
			lines = append(lines, item)
		}
	}
	slices.SortStableFunc(lines, func(a, b domain.POSTransactionItem) int {
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return lines
}

func hasCashLeg(payments []domain.POSPayment) bool {
	return slices.ContainsFunc(payments, func(p domain.POSPayment) bool {
		return p.Method == domain.PaymentMethodCash
	})
}

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

const stockStatusExpr = `
	CASE
		WHEN available <= 0 THEN 'out_of_stock'
		WHEN available <= min_stock THEN 'low_stock'
		ELSE 'in_stock'
	END`

const movementColumns = `
	id, item_id, warehouse_id, action, quantity_delta, balance_after,
	reason, actor_id, COALESCE(correlation_id, ''), created_at`

func scanRecord(row scanner) (*domain.InventoryRecord, error) {
	var record domain.InventoryRecord
	err := row.Scan(&record.ItemID, &record.WarehouseID, &record.Available, &record.Reserved, &record.MinStock, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.Status = record.StockStatus()
	return &record, nil
}

func scanMovement(row scanner) (*domain.InventoryMovement, error) {
	var movement domain.InventoryMovement
	err := row.Scan(
		&movement.ID, &movement.ItemID, &movement.WarehouseID, &movement.Action, &movement.QuantityDelta, &movement.BalanceAfter,
		&movement.Reason, &movement.ActorID, &movement.CorrelationID, &movement.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	movement.CreatedAt = movement.CreatedAt.UTC()
	return &movement, nil
}

func lockRecord(ctx context.Context, tx pgx.Tx, itemID string, warehouseID string) (*domain.InventoryRecord, error) {
	return scanRecord(tx.QueryRow(ctx, `
		SELECT item_id, warehouse_id, available, reserved, min_stock, created_at, updated_at
		FROM inventory_records
		WHERE item_id = $1 AND warehouse_id = $2
		FOR UPDATE
	`, itemID, warehouseID))
}

// adjustTx appends one movement and moves the balance with it. The record
// row stays locked until the surrounding transaction ends.
func adjustTx(ctx context.Context, tx pgx.Tx, adj domain.StockAdjustment) (*domain.InventoryRecord, *domain.InventoryMovement, error) {
	if strings.TrimSpace(adj.ItemID) == "" || strings.TrimSpace(adj.WarehouseID) == "" || adj.Action == "" {
		return nil, nil, store.ErrInvalidTransaction
	}
	if adj.At.IsZero() {
		adj.At = time.Now().UTC()
	}

	record, err := lockRecord(ctx, tx, adj.ItemID, adj.WarehouseID)
	if errors.Is(err, store.ErrNotFound) {
		if adj.Delta < 0 {
			return nil, nil, fmt.Errorf("%w: %s has no stock at %s", store.ErrInsufficientStock, adj.ItemID, adj.WarehouseID)
		}
		minStock := adj.DefaultMinStock
		if adj.MinStock != nil {
			minStock = *adj.MinStock
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory_records (item_id, warehouse_id, available, reserved, min_stock, created_at, updated_at)
			VALUES ($1,$2,0,0,$3,$4,$4)
			ON CONFLICT (item_id, warehouse_id) DO NOTHING
		`, adj.ItemID, adj.WarehouseID, minStock, adj.At); err != nil {
			return nil, nil, err
		}
		record, err = lockRecord(ctx, tx, adj.ItemID, adj.WarehouseID)
	}
	if err != nil {
		return nil, nil, err
	}

	candidate := record.Available + adj.Delta
	if candidate < 0 {
		return nil, nil, fmt.Errorf("%w: %s at %s has %d, requested %d", store.ErrInsufficientStock, adj.ItemID, adj.WarehouseID, record.Available, -adj.Delta)
	}
	if adj.MinStock != nil {
		record.MinStock = *adj.MinStock
	}
	record.Available = candidate
	record.UpdatedAt = adj.At

	if _, err := tx.Exec(ctx, `
		UPDATE inventory_records
		SET available = $3, min_stock = $4, updated_at = $5
		WHERE item_id = $1 AND warehouse_id = $2
	`, record.ItemID, record.WarehouseID, record.Available, record.MinStock, record.UpdatedAt); err != nil {
		if isCheckViolation(err) {
			return nil, nil, store.ErrInsufficientStock
		}
		return nil, nil, err
	}

	movement := domain.InventoryMovement{
		ID:            xid.New("mov"),
		ItemID:        adj.ItemID,
		WarehouseID:   adj.WarehouseID,
		Action:        adj.Action,
		QuantityDelta: adj.Delta,
		BalanceAfter:  candidate,
		Reason:        adj.Reason,
		ActorID:       adj.ActorID,
		CorrelationID: adj.CorrelationID,
		CreatedAt:     adj.At,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inventory_movements (
			id, item_id, warehouse_id, action, quantity_delta, balance_after, reason, actor_id, correlation_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, movement.ID, movement.ItemID, movement.WarehouseID, movement.Action, movement.QuantityDelta, movement.BalanceAfter,
		movement.Reason, movement.ActorID, nullIfEmpty(movement.CorrelationID), movement.CreatedAt); err != nil {
		return nil, nil, err
	}

	record.Status = record.StockStatus()
	return record, &movement, nil
}

func (s *Store) AdjustStock(ctx context.Context, adj domain.StockAdjustment) (*domain.InventoryRecord, *domain.InventoryMovement, error) {
	var (
		record   *domain.InventoryRecord
		movement *domain.InventoryMovement
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		record, movement, err = adjustTx(ctx, tx, adj)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return record, movement, nil
}

func (s *Store) TransferStock(ctx context.Context, transfer domain.StockTransfer) (*domain.InventoryTransferResponse, error) {
	if transfer.Qty <= 0 || transfer.FromWarehouseID == transfer.ToWarehouseID {
		return nil, store.ErrInvalidTransaction
	}

	var resp *domain.InventoryTransferResponse
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		warehouses := []string{transfer.FromWarehouseID, transfer.ToWarehouseID}
		slices.Sort(warehouses)
		if err := lockWarehouseRows(ctx, tx, transfer.ItemID, warehouses); err != nil {
			return err
		}

		source, out, err := adjustTx(ctx, tx, domain.StockAdjustment{
			ItemID:        transfer.ItemID,
			WarehouseID:   transfer.FromWarehouseID,
			Delta:         -transfer.Qty,
			Action:        domain.MovementTransferOut,
			Reason:        transfer.Reason,
			ActorID:       transfer.ActorID,
			CorrelationID: transfer.CorrelationID,
			At:            transfer.At,
		})
		if err != nil {
			return err
		}
		destination, in, err := adjustTx(ctx, tx, domain.StockAdjustment{
			ItemID:          transfer.ItemID,
			WarehouseID:     transfer.ToWarehouseID,
			Delta:           transfer.Qty,
			Action:          domain.MovementTransferIn,
			Reason:          transfer.Reason,
			ActorID:         transfer.ActorID,
			CorrelationID:   transfer.CorrelationID,
			DefaultMinStock: transfer.DefaultMinStock,
			At:              transfer.At,
		})
		if err != nil {
			return err
		}

		resp = &domain.InventoryTransferResponse{
			Success:       true,
			CorrelationID: transfer.CorrelationID,
			Source:        *source,
			Destination:   *destination,
			Movements:     []domain.InventoryMovement{*out, *in},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// lockWarehouseRows takes row locks for one item across warehouses in a fixed
// order so concurrent transfers cannot deadlock on each other.
func lockWarehouseRows(ctx context.Context, tx pgx.Tx, itemID string, warehouseIDs []string) error {
	rows, err := tx.Query(ctx, `
		SELECT warehouse_id
		FROM inventory_records
		WHERE item_id = $1 AND warehouse_id = ANY($2)
		ORDER BY warehouse_id
		FOR UPDATE
	`, itemID, warehouseIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// lockItemRows is the POS counterpart of lockWarehouseRows: many items in one
// warehouse, locked in item order.
func lockItemRows(ctx context.Context, tx pgx.Tx, warehouseID string, itemIDs []string) error {
	rows, err := tx.Query(ctx, `
		SELECT item_id
		FROM inventory_records
		WHERE warehouse_id = $1 AND item_id = ANY($2)
		ORDER BY item_id
		FOR UPDATE
	`, warehouseID, itemIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (s *Store) GetInventoryRecord(ctx context.Context, itemID string, warehouseID string) (*domain.InventoryRecord, error) {
	return scanRecord(s.pool.QueryRow(ctx, `
		SELECT item_id, warehouse_id, available, reserved, min_stock, created_at, updated_at
		FROM inventory_records
		WHERE item_id = $1 AND warehouse_id = $2
	`, itemID, warehouseID))
}

func (s *Store) ListInventory(ctx context.Context, query domain.InventoryQuery) ([]domain.InventoryRecord, int, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit < 1 {
		query.Limit = 20
	}

	filter := `
		FROM inventory_records
		WHERE ($1::text = '' OR warehouse_id = $1)
			AND ($2::text = '' OR ` + stockStatusExpr + ` = $2)`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) `+filter, query.WarehouseID, query.Status).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT item_id, warehouse_id, available, reserved, min_stock, created_at, updated_at
		`+filter+`
		ORDER BY warehouse_id, item_id
		LIMIT $3 OFFSET $4
	`, query.WarehouseID, query.Status, query.Limit, (query.Page-1)*query.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, query.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *Store) ListMovements(ctx context.Context, itemID string, warehouseID string, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+movementColumns+`
		FROM inventory_movements
		WHERE ($1::text = '' OR item_id = $1)
			AND ($2::text = '' OR warehouse_id = $2)
		ORDER BY seq DESC
		LIMIT $3
	`, itemID, warehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *movement)
	}
	return movements, rows.Err()
}

func (s *Store) ReconcileStock(ctx context.Context, warehouseID string) ([]domain.StockReconciliation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.item_id, r.warehouse_id, r.available, COALESCE(m.total, 0)
		FROM inventory_records r
		LEFT JOIN (
			SELECT item_id, warehouse_id, SUM(quantity_delta) AS total
			FROM inventory_movements
			GROUP BY item_id, warehouse_id
		) m ON m.item_id = r.item_id AND m.warehouse_id = r.warehouse_id
		WHERE ($1::text = '' OR r.warehouse_id = $1)
		ORDER BY r.warehouse_id, r.item_id
	`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockReconciliation, 0, 64)
	for rows.Next() {
		var row domain.StockReconciliation
		if err := rows.Scan(&row.ItemID, &row.WarehouseID, &row.Available, &row.MovementSum); err != nil {
			return nil, err
		}
		row.Consistent = row.Available == row.MovementSum
		result = append(result, row)
	}
	return result, rows.Err()
}

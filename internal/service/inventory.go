package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/metrics"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

const minReasonLength = 3

func (s *Service) AdjustInventory(ctx context.Context, req domain.InventoryAdjustRequest) (domain.InventoryAdjustResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.InventoryAdjustResponse{}, err
	}

	req.ItemID = strings.TrimSpace(req.ItemID)
	req.WarehouseID = strings.TrimSpace(req.WarehouseID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ItemID == "" || req.WarehouseID == "" {
		return domain.InventoryAdjustResponse{}, invalidInput("item_id and warehouse_id are required")
	}
	if req.Delta == 0 && req.MinStock == nil {
		return domain.InventoryAdjustResponse{}, invalidInput("delta must not be zero")
	}
	if req.MinStock != nil && *req.MinStock < 0 {
		return domain.InventoryAdjustResponse{}, invalidInput("min_stock must not be negative")
	}
	if len(req.Reason) < minReasonLength {
		return domain.InventoryAdjustResponse{}, invalidInput("reason must be at least %d characters", minReasonLength)
	}

	record, movement, err := s.repo.AdjustStock(ctx, domain.StockAdjustment{
		ItemID:          req.ItemID,
		WarehouseID:     req.WarehouseID,
		Delta:           req.Delta,
		Action:          domain.MovementAdjust,
		Reason:          req.Reason,
		ActorID:         actor.Username,
		MinStock:        req.MinStock,
		DefaultMinStock: s.defaultMinStock,
		At:              s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.Inc()
		}
		return domain.InventoryAdjustResponse{}, err
	}

	metrics.InventoryMovementsTotal.WithLabelValues(domain.MovementAdjust).Inc()
	s.logAudit(ctx, "inventory_adjust", "inventory", req.ItemID+"@"+req.WarehouseID, fmt.Sprintf("delta=%d,balance=%d,reason=%s", req.Delta, record.Available, req.Reason))
	return domain.InventoryAdjustResponse{Success: true, Record: *record, Movement: *movement}, nil
}

func (s *Service) TransferInventory(ctx context.Context, req domain.InventoryTransferRequest) (domain.InventoryTransferResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.InventoryTransferResponse{}, err
	}

	req.ItemID = strings.TrimSpace(req.ItemID)
	req.FromWarehouseID = strings.TrimSpace(req.FromWarehouseID)
	req.ToWarehouseID = strings.TrimSpace(req.ToWarehouseID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Quantity <= 0 {
		return domain.InventoryTransferResponse{}, invalidInput("quantity must be positive")
	}
	if req.ItemID == "" || req.FromWarehouseID == "" || req.ToWarehouseID == "" {
		return domain.InventoryTransferResponse{}, invalidInput("item_id, from_warehouse_id and to_warehouse_id are required")
	}
	if req.FromWarehouseID == req.ToWarehouseID {
		return domain.InventoryTransferResponse{}, invalidInput("source and destination warehouse must differ")
	}
	if len(req.Reason) < minReasonLength {
		return domain.InventoryTransferResponse{}, invalidInput("reason must be at least %d characters", minReasonLength)
	}

	resp, err := s.repo.TransferStock(ctx, domain.StockTransfer{
		ItemID:          req.ItemID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Qty:             req.Quantity,
		Reason:          req.Reason,
		ActorID:         actor.Username,
		CorrelationID:   xid.Correlation(),
		DefaultMinStock: s.defaultMinStock,
		At:              s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.Inc()
		}
		return domain.InventoryTransferResponse{}, err
	}

	metrics.InventoryMovementsTotal.WithLabelValues(domain.MovementTransferOut).Inc()
	metrics.InventoryMovementsTotal.WithLabelValues(domain.MovementTransferIn).Inc()
	s.logAudit(ctx, "inventory_transfer", "inventory", req.ItemID, fmt.Sprintf("from=%s,to=%s,qty=%d,correlation=%s", req.FromWarehouseID, req.ToWarehouseID, req.Quantity, resp.CorrelationID))
	return *resp, nil
}

func (s *Service) ListInventory(ctx context.Context, query domain.InventoryQuery) (domain.InventoryListResponse, error) {
	query.WarehouseID = strings.TrimSpace(query.WarehouseID)
	query.Status = strings.ToLower(strings.TrimSpace(query.Status))
	switch query.Status {
	case "", domain.StockStatusInStock, domain.StockStatusLowStock, domain.StockStatusOutOfStock:
	default:
		return domain.InventoryListResponse{}, invalidInput("unknown stock status %q", query.Status)
	}
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit < 1 {
		query.Limit = 20
	}
	if query.Limit > 100 {
		query.Limit = 100
	}

	records, total, err := s.repo.ListInventory(ctx, query)
	if err != nil {
		return domain.InventoryListResponse{}, err
	}
	return domain.InventoryListResponse{
		Items:      records,
		Total:      total,
		Page:       query.Page,
		Limit:      query.Limit,
		TotalPages: (total + query.Limit - 1) / query.Limit,
	}, nil
}

func (s *Service) ListMovements(ctx context.Context, itemID string, warehouseID string, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return s.repo.ListMovements(ctx, strings.TrimSpace(itemID), strings.TrimSpace(warehouseID), limit)
}

// Reconcile checks available == sum of movement deltas for every record in
// scope. An empty warehouseID checks all warehouses.
func (s *Service) Reconcile(ctx context.Context, warehouseID string) (domain.ReconciliationReport, error) {
	rows, err := s.repo.ReconcileStock(ctx, strings.TrimSpace(warehouseID))
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	report := domain.ReconciliationReport{
		Records:   rows,
		Checked:   len(rows),
		CheckedAt: s.now(),
	}
	for _, row := range rows {
		if !row.Consistent {
			report.Inconsistent++
		}
	}
	return report, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"retailcore/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrIntentNotPending   = errors.New("payment intent is not pending")
	ErrAmountMismatch     = errors.New("payment amount mismatch")
	ErrSessionInvalid     = errors.New("pos session is not open")
	ErrCashDiscrepancy    = errors.New("cash discrepancy exceeds threshold")
)

type Repository interface {
	CreatePaymentIntent(ctx context.Context, intent domain.PaymentIntent) (*domain.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	FindPendingIntentByOrder(ctx context.Context, orderID string) (*domain.PaymentIntent, error)
	ApplyIntentTransition(ctx context.Context, t domain.IntentTransition) (domain.ApplyOutcome, *domain.PaymentIntent, error)
	ListExpiredPendingIntents(ctx context.Context, now time.Time, limit int) ([]domain.PaymentIntent, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, event domain.ProcessedWebhookEvent) (bool, error)

	AdjustStock(ctx context.Context, adj domain.StockAdjustment) (*domain.InventoryRecord, *domain.InventoryMovement, error)
	TransferStock(ctx context.Context, transfer domain.StockTransfer) (*domain.InventoryTransferResponse, error)
	GetInventoryRecord(ctx context.Context, itemID string, warehouseID string) (*domain.InventoryRecord, error)
	ListInventory(ctx context.Context, query domain.InventoryQuery) ([]domain.InventoryRecord, int, error)
	ListMovements(ctx context.Context, itemID string, warehouseID string, limit int) ([]domain.InventoryMovement, error)
	ReconcileStock(ctx context.Context, warehouseID string) ([]domain.StockReconciliation, error)

	GetTerminal(ctx context.Context, terminalID string) (*domain.Terminal, error)
	CreateSession(ctx context.Context, session domain.POSSession) (*domain.POSSession, error)
	GetSession(ctx context.Context, sessionID string) (*domain.POSSession, error)
	CloseSession(ctx context.Context, req domain.SessionClose) (*domain.POSSession, error)
	ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error)
	CreatePOSTransaction(ctx context.Context, sale domain.POSSale) (*domain.POSTransaction, error)
	ListPOSTransactions(ctx context.Context, sessionID string, limit int) ([]domain.POSTransaction, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

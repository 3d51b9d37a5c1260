package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// IsElevated reports whether the actor may act on sessions it does not own.
func (a Actor) IsElevated() bool {
	return a.Role == RoleOwner || a.Role == RoleSuperAdmin
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type PaymentIntent struct {
	ID                  string     `json:"id"`
	OrderID             string     `json:"order_id"`
	ExpectedAmountCents int64      `json:"expected_amount_cents"`
	Currency            string     `json:"currency"`
	Status              string     `json:"status"`
	ProviderReference   string     `json:"provider_reference,omitempty"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	ConfirmedAt         *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type PaymentIntentCreateRequest struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type PaymentIntentConfirmRequest struct {
	ObservedAmountCents int64  `json:"observed_amount_cents"`
	ProviderReference   string `json:"provider_reference"`
}

type PaymentIntentFailRequest struct {
	Reason string `json:"reason"`
}

// IntentTransition is a single state machine move. When Event is set, the
// move and the idempotency mark commit together or not at all.
type IntentTransition struct {
	IntentID             string
	To                   string
	ObservedAmountCents  int64
	AmountToleranceCents int64
	ProviderReference    string
	FailureReason        string
	At                   time.Time
	Event                *ProcessedWebhookEvent
}

type ProcessedWebhookEvent struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	EventType      string    `json:"event_type"`
	LinkedEntityID string    `json:"linked_entity_id,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

type ApplyOutcome int

// ApplyUnchanged reports a transition that was valid but had no effect, such
// as failing an intent that had already failed.
const (
	ApplyApplied ApplyOutcome = iota + 1
	ApplyAlreadyProcessed
	ApplyUnchanged
)

func (o ApplyOutcome) String() string {
	switch o {
	case ApplyApplied:
		return "applied"
	case ApplyAlreadyProcessed:
		return "already_processed"
	case ApplyUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

type WebhookAck struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

type InventoryRecord struct {
	ItemID      string    `json:"item_id"`
	WarehouseID string    `json:"warehouse_id"`
	Available   int       `json:"available"`
	Reserved    int       `json:"reserved"`
	MinStock    int       `json:"min_stock"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r InventoryRecord) StockStatus() string {
	switch {
	case r.Available <= 0:
		return StockStatusOutOfStock
	case r.Available <= r.MinStock:
		return StockStatusLowStock
	default:
		return StockStatusInStock
	}
}

type InventoryMovement struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	WarehouseID   string    `json:"warehouse_id"`
	Action        string    `json:"action"`
	QuantityDelta int       `json:"quantity_delta"`
	BalanceAfter  int       `json:"balance_after"`
	Reason        string    `json:"reason"`
	ActorID       string    `json:"actor_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StockAdjustment is the store-level input for a single ledger write.
type StockAdjustment struct {
	ItemID          string
	WarehouseID     string
	Delta           int
	Action          string
	Reason          string
	ActorID         string
	CorrelationID   string
	MinStock        *int
	DefaultMinStock int
	At              time.Time
}

type StockTransfer struct {
	ItemID          string
	FromWarehouseID string
	ToWarehouseID   string
	Qty             int
	Reason          string
	ActorID         string
	CorrelationID   string
	DefaultMinStock int
	At              time.Time
}

type InventoryAdjustRequest struct {
	ItemID      string `json:"item_id"`
	WarehouseID string `json:"warehouse_id"`
	Delta       int    `json:"delta"`
	Reason      string `json:"reason"`
	MinStock    *int   `json:"min_stock,omitempty"`
}

type InventoryAdjustResponse struct {
	Success  bool              `json:"success"`
	Record   InventoryRecord   `json:"data"`
	Movement InventoryMovement `json:"movement"`
}

type InventoryTransferRequest struct {
	ItemID          string `json:"item_id"`
	FromWarehouseID string `json:"from_warehouse_id"`
	ToWarehouseID   string `json:"to_warehouse_id"`
	Quantity        int    `json:"quantity"`
	Reason          string `json:"reason"`
}

type InventoryTransferResponse struct {
	Success       bool                `json:"success"`
	CorrelationID string              `json:"correlation_id"`
	Source        InventoryRecord     `json:"source"`
	Destination   InventoryRecord     `json:"destination"`
	Movements     []InventoryMovement `json:"movements"`
}

type InventoryQuery struct {
	WarehouseID string
	Status      string
	Page        int
	Limit       int
}

type InventoryListResponse struct {
	Items      []InventoryRecord `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"total_pages"`
}

type StockReconciliation struct {
	ItemID      string `json:"item_id"`
	WarehouseID string `json:"warehouse_id"`
	Available   int    `json:"available"`
	MovementSum int    `json:"movement_sum"`
	Consistent  bool   `json:"consistent"`
}

type ReconciliationReport struct {
	Records      []StockReconciliation `json:"records"`
	Checked      int                   `json:"checked"`
	Inconsistent int                   `json:"inconsistent"`
	CheckedAt    time.Time             `json:"checked_at"`
}

type Terminal struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WarehouseID string `json:"warehouse_id"`
}

type POSSession struct {
	ID                   string     `json:"id"`
	TerminalID           string     `json:"terminal_id"`
	CashierID            string     `json:"cashier_id"`
	Status               string     `json:"status"`
	OpeningBalanceCents  int64      `json:"opening_balance_cents"`
	SalesCount           int        `json:"sales_count"`
	SalesTotalCents      int64      `json:"sales_total_cents"`
	DiscountsTotalCents  int64      `json:"discounts_total_cents"`
	ClosingBalanceCents  *int64     `json:"closing_balance_cents,omitempty"`
	ExpectedBalanceCents *int64     `json:"expected_balance_cents,omitempty"`
	DifferenceCents      *int64     `json:"difference_cents,omitempty"`
	ClosingNote          string     `json:"closing_note,omitempty"`
	OpenedAt             time.Time  `json:"opened_at"`
	ClosedAt             *time.Time `json:"closed_at,omitempty"`
}

type POSSessionOpenRequest struct {
	TerminalID          string `json:"terminal_id"`
	OpeningBalanceCents int64  `json:"opening_balance_cents"`
}

type POSSessionCloseRequest struct {
	CountedCashCents int64  `json:"counted_cash_cents"`
	Note             string `json:"note"`
	AdminOverride    bool   `json:"admin_override"`
}

// SessionClose carries the counted cash; the store derives the expected
// balance under the session lock and enforces the discrepancy threshold.
type SessionClose struct {
	SessionID        string
	CountedCashCents int64
	ThresholdCents   int64
	AdminOverride    bool
	Note             string
	ClosedBy         string
	At               time.Time
}

type POSDiscount struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type POSLineItemInput struct {
	ItemID         string `json:"item_id,omitempty"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type POSPaymentInput struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type POSTransactionRequest struct {
	SessionID    string             `json:"session_id"`
	Items        []POSLineItemInput `json:"items"`
	Payments     []POSPaymentInput  `json:"payments"`
	Discount     *POSDiscount       `json:"discount,omitempty"`
	CustomerName string             `json:"customer_name,omitempty"`
	Note         string             `json:"note,omitempty"`
}

type POSTransaction struct {
	ID                 string               `json:"id"`
	TransactionNo      string               `json:"transaction_no"`
	SessionID          string               `json:"session_id"`
	WarehouseID        string               `json:"warehouse_id"`
	SubtotalCents      int64                `json:"subtotal_cents"`
	DiscountType       string               `json:"discount_type,omitempty"`
	DiscountCents      int64                `json:"discount_cents"`
	TotalCents         int64                `json:"total_cents"`
	TotalReceivedCents int64                `json:"total_received_cents"`
	ChangeDueCents     int64                `json:"change_due_cents"`
	Status             string               `json:"status"`
	CustomerName       string               `json:"customer_name,omitempty"`
	Note               string               `json:"note,omitempty"`
	CreatedBy          string               `json:"created_by"`
	CreatedAt          time.Time            `json:"created_at"`
	Items              []POSTransactionItem `json:"items"`
	Payments           []POSPayment         `json:"payments"`
}

type POSTransactionItem struct {
	ID             string `json:"id"`
	ItemID         string `json:"item_id,omitempty"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type POSPayment struct {
	ID          string `json:"id"`
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type POSTransactionResponse struct {
	Transaction POSTransaction `json:"transaction"`
}

type POSTransactionListResponse struct {
	Transactions []POSTransaction `json:"transactions"`
}

// POSSale is a priced sale ready to be persisted. The store assigns the
// transaction number and writes the cash entry and stock decrements.
type POSSale struct {
	Transaction     POSTransaction
	CashAmountCents int64
	DefaultMinStock int
}

type CashMovement struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	Type              string    `json:"type"`
	AmountCents       int64     `json:"amount_cents"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
	Reference         string    `json:"reference,omitempty"`
	PerformedByID     string    `json:"performed_by_id"`
	CreatedAt         time.Time `json:"created_at"`
}

type POSSessionResponse struct {
	Session       POSSession     `json:"session"`
	CashMovements []CashMovement `json:"cash_movements,omitempty"`
}

const (
	RoleCashier    = "cashier"
	RoleAdmin      = "admin"
	RoleOwner      = "owner"
	RoleSuperAdmin = "super_admin"

	IntentStatusPending   = "pending"
	IntentStatusConfirmed = "confirmed"
	IntentStatusFailed    = "failed"

	MovementAdjust      = "adjust"
	MovementTransferIn  = "transfer_in"
	MovementTransferOut = "transfer_out"
	MovementFulfill     = "fulfill"
	MovementReturn      = "return"

	StockStatusInStock    = "in_stock"
	StockStatusLowStock   = "low_stock"
	StockStatusOutOfStock = "out_of_stock"

	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"

	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"

	PaymentMethodCash   = "cash"
	PaymentMethodCard   = "card"
	PaymentMethodWallet = "wallet"

	POSTransactionCompleted = "completed"

	CashMovementSale = "sale"
)

package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

type Store struct {
	mu                    sync.RWMutex
	intentsByID           map[string]domain.PaymentIntent
	processedEvents       map[string]domain.ProcessedWebhookEvent
	inventory             map[string]domain.InventoryRecord
	movements             []domain.InventoryMovement
	terminals             map[string]domain.Terminal
	sessionsByID          map[string]domain.POSSession
	openSessionByTerminal map[string]string
	transactions          []domain.POSTransaction
	cashMovements         map[string][]domain.CashMovement
	auditLogs             []domain.AuditLog
	usersByUsername       map[string]domain.UserAccount
}

// undoLog reverts in-memory writes of an aborted unit, newest first.
type undoLog []func()

func (u *undoLog) push(fn func()) {
	*u = append(*u, fn)
}

func (u undoLog) rollback() {
	for i := len(u) - 1; i >= 0; i-- {
		u[i]()
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_*_PASSWORD environment variables and fall
// back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
		{"cashier2", cashierPwd, domain.RoleCashier},
		{"owner", ownerPwd, domain.RoleOwner},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		intentsByID:           make(map[string]domain.PaymentIntent),
		processedEvents:       make(map[string]domain.ProcessedWebhookEvent),
		inventory:             make(map[string]domain.InventoryRecord),
		movements:             make([]domain.InventoryMovement, 0, 256),
		terminals:             make(map[string]domain.Terminal),
		sessionsByID:          make(map[string]domain.POSSession),
		openSessionByTerminal: make(map[string]string),
		transactions:          make([]domain.POSTransaction, 0, 64),
		cashMovements:         make(map[string][]domain.CashMovement),
		auditLogs:             make([]domain.AuditLog, 0, 128),
		usersByUsername:       make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users, two terminals and opening stock
// booked through the ledger so that reconciliation holds from the start.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	s.terminals["terminal-a1"] = domain.Terminal{ID: "terminal-a1", Name: "Front Counter", WarehouseID: "wh-main"}
	s.terminals["terminal-b1"] = domain.Terminal{ID: "terminal-b1", Name: "Branch Counter", WarehouseID: "wh-branch"}

	now := time.Now().UTC()
	opening := []struct {
		itemID      string
		warehouseID string
		qty         int
	}{
		{"ITEM-MIE-01", "wh-main", 120},
		{"ITEM-TELUR-01", "wh-main", 40},
		{"ITEM-SUSU-01", "wh-main", 60},
		{"ITEM-KOPI-01", "wh-main", 200},
		{"ITEM-ROTI-01", "wh-main", 3},
		{"ITEM-MIE-01", "wh-branch", 30},
	}
	for _, o := range opening {
		var undo undoLog
		if _, _, err := s.adjustLocked(domain.StockAdjustment{
			ItemID:          o.itemID,
			WarehouseID:     o.warehouseID,
			Delta:           o.qty,
			Action:          domain.MovementAdjust,
			Reason:          "Opening stock",
			ActorID:         "system",
			DefaultMinStock: 5,
			At:              now,
		}, &undo); err != nil {
			log.Fatalf("[memory-store] failed to seed stock %s@%s: %v", o.itemID, o.warehouseID, err)
		}
	}
	return s
}

// AddTerminal registers a terminal in the directory.
func (s *Store) AddTerminal(terminal domain.Terminal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminals[terminal.ID] = terminal
}

func (s *Store) CreatePaymentIntent(_ context.Context, intent domain.PaymentIntent) (*domain.PaymentIntent, error) {
	if strings.TrimSpace(intent.OrderID) == "" || intent.ExpectedAmountCents < 1 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.intentsByID {
		if existing.OrderID == intent.OrderID && existing.Status == domain.IntentStatusPending {
			return nil, fmt.Errorf("%w: order %s already has a pending intent", store.ErrInvalidTransaction, intent.OrderID)
		}
	}
	if intent.ID == "" {
		intent.ID = xid.New("pi")
	}
	now := time.Now().UTC()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = intent.CreatedAt
	intent.Status = domain.IntentStatusPending

	s.intentsByID[intent.ID] = intent
	created := intent
	return &created, nil
}

func (s *Store) GetPaymentIntent(_ context.Context, id string) (*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, exists := s.intentsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &intent, nil
}

func (s *Store) FindPendingIntentByOrder(_ context.Context, orderID string) (*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, intent := range s.intentsByID {
		if intent.OrderID == orderID && intent.Status == domain.IntentStatusPending {
			found := intent
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ApplyIntentTransition(_ context.Context, t domain.IntentTransition) (domain.ApplyOutcome, *domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Event != nil {
		if _, exists := s.processedEvents[t.Event.ID]; exists {
			return domain.ApplyAlreadyProcessed, nil, nil
		}
	}

	intent, exists := s.intentsByID[t.IntentID]
	if !exists {
		return 0, nil, store.ErrNotFound
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	changed, err := store.ApplyTransition(&intent, t)
	if err != nil {
		return 0, nil, err
	}

	s.intentsByID[intent.ID] = intent
	if t.Event != nil {
		event := *t.Event
		if event.RecordedAt.IsZero() {
			event.RecordedAt = t.At
		}
		s.processedEvents[event.ID] = event
	}
	if !changed {
		return domain.ApplyUnchanged, &intent, nil
	}
	return domain.ApplyApplied, &intent, nil
}

func (s *Store) ListExpiredPendingIntents(_ context.Context, now time.Time, limit int) ([]domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PaymentIntent, 0, 16)
	for _, intent := range s.intentsByID {
		if intent.Status != domain.IntentStatusPending || intent.ExpiresAt == nil {
			continue
		}
		if intent.ExpiresAt.Before(now) {
			result = append(result, intent)
		}
	}
	slices.SortFunc(result, func(a, b domain.PaymentIntent) int {
		return a.ExpiresAt.Compare(*b.ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.processedEvents[eventID]
	return exists, nil
}

func (s *Store) MarkEventProcessed(_ context.Context, event domain.ProcessedWebhookEvent) (bool, error) {
	if strings.TrimSpace(event.ID) == "" {
		return false, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processedEvents[event.ID]; exists {
		return false, nil
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	s.processedEvents[event.ID] = event
	return true, nil
}

func (s *Store) AdjustStock(_ context.Context, adj domain.StockAdjustment) (*domain.InventoryRecord, *domain.InventoryMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var undo undoLog
	record, movement, err := s.adjustLocked(adj, &undo)
	if err != nil {
		undo.rollback()
		return nil, nil, err
	}
	return record, movement, nil
}

// adjustLocked writes one ledger row and the matching balance. Callers hold
// s.mu and roll back undo if the enclosing unit fails.
func (s *Store) adjustLocked(adj domain.StockAdjustment, undo *undoLog) (*domain.InventoryRecord, *domain.InventoryMovement, error) {
	if strings.TrimSpace(adj.ItemID) == "" || strings.TrimSpace(adj.WarehouseID) == "" || adj.Action == "" {
		return nil, nil, store.ErrInvalidTransaction
	}
	if adj.At.IsZero() {
		adj.At = time.Now().UTC()
	}

	key := inventoryKey(adj.ItemID, adj.WarehouseID)
	record, exists := s.inventory[key]
	if !exists {
		if adj.Delta < 0 {
			return nil, nil, fmt.Errorf("%w: %s has no stock at %s", store.ErrInsufficientStock, adj.ItemID, adj.WarehouseID)
		}
		minStock := adj.DefaultMinStock
		if adj.MinStock != nil {
			minStock = *adj.MinStock
		}
		record = domain.InventoryRecord{
			ItemID:      adj.ItemID,
			WarehouseID: adj.WarehouseID,
			MinStock:    minStock,
			CreatedAt:   adj.At,
		}
		undo.push(func() { delete(s.inventory, key) })
	} else {
		previous := record
		undo.push(func() { s.inventory[key] = previous })
	}

	candidate := record.Available + adj.Delta
	if candidate < 0 {
		return nil, nil, fmt.Errorf("%w: %s at %s has %d, requested %d", store.ErrInsufficientStock, adj.ItemID, adj.WarehouseID, record.Available, -adj.Delta)
	}

	record.Available = candidate
	if adj.MinStock != nil {
		record.MinStock = *adj.MinStock
	}
	record.UpdatedAt = adj.At
	s.inventory[key] = record

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
	mark := len(s.movements)
	s.movements = append(s.movements, movement)
	undo.push(func() { s.movements = s.movements[:mark] })

	record.Status = record.StockStatus()
	return &record, &movement, nil
}

func (s *Store) TransferStock(_ context.Context, transfer domain.StockTransfer) (*domain.InventoryTransferResponse, error) {
	if transfer.Qty <= 0 || transfer.FromWarehouseID == transfer.ToWarehouseID {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var undo undoLog
	source, out, err := s.adjustLocked(domain.StockAdjustment{
		ItemID:        transfer.ItemID,
		WarehouseID:   transfer.FromWarehouseID,
		Delta:         -transfer.Qty,
		Action:        domain.MovementTransferOut,
		Reason:        transfer.Reason,
		ActorID:       transfer.ActorID,
		CorrelationID: transfer.CorrelationID,
		At:            transfer.At,
	}, &undo)
	if err != nil {
		undo.rollback()
		return nil, err
	}
	destination, in, err := s.adjustLocked(domain.StockAdjustment{
		ItemID:          transfer.ItemID,
		WarehouseID:     transfer.ToWarehouseID,
		Delta:           transfer.Qty,
		Action:          domain.MovementTransferIn,
		Reason:          transfer.Reason,
		ActorID:         transfer.ActorID,
		CorrelationID:   transfer.CorrelationID,
		DefaultMinStock: transfer.DefaultMinStock,
		At:              transfer.At,
	}, &undo)
	if err != nil {
		undo.rollback()
		return nil, err
	}

	return &domain.InventoryTransferResponse{
		Success:       true,
		CorrelationID: transfer.CorrelationID,
		Source:        *source,
		Destination:   *destination,
		Movements:     []domain.InventoryMovement{*out, *in},
	}, nil
}

func (s *Store) GetInventoryRecord(_ context.Context, itemID string, warehouseID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.inventory[inventoryKey(itemID, warehouseID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	record.Status = record.StockStatus()
	return &record, nil
}

func (s *Store) ListInventory(_ context.Context, query domain.InventoryQuery) ([]domain.InventoryRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.InventoryRecord, 0, len(s.inventory))
	for _, record := range s.inventory {
		if query.WarehouseID != "" && record.WarehouseID != query.WarehouseID {
			continue
		}
		record.Status = record.StockStatus()
		if query.Status != "" && record.Status != query.Status {
			continue
		}
		matched = append(matched, record)
	}
	slices.SortFunc(matched, func(a, b domain.InventoryRecord) int {
		if c := strings.Compare(a.WarehouseID, b.WarehouseID); c != 0 {
			return c
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})

	total := len(matched)
	start := (query.Page - 1) * query.Limit
	if start < 0 || start >= total {
		return []domain.InventoryRecord{}, total, nil
	}
	end := min(start+query.Limit, total)
	return matched[start:end], total, nil
}

func (s *Store) ListMovements(_ context.Context, itemID string, warehouseID string, limit int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryMovement, 0, 32)
	for i := len(s.movements) - 1; i >= 0; i-- {
		movement := s.movements[i]
		if itemID != "" && movement.ItemID != itemID {
			continue
		}
		if warehouseID != "" && movement.WarehouseID != warehouseID {
			continue
		}
		result = append(result, movement)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ReconcileStock(_ context.Context, warehouseID string) ([]domain.StockReconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]int, len(s.inventory))
	for _, movement := range s.movements {
		sums[inventoryKey(movement.ItemID, movement.WarehouseID)] += movement.QuantityDelta
	}

	result := make([]domain.StockReconciliation, 0, len(s.inventory))
	for key, record := range s.inventory {
		if warehouseID != "" && record.WarehouseID != warehouseID {
			continue
		}
		sum := sums[key]
		result = append(result, domain.StockReconciliation{
			ItemID:      record.ItemID,
			WarehouseID: record.WarehouseID,
			Available:   record.Available,
			MovementSum: sum,
			Consistent:  sum == record.Available,
		})
	}
	slices.SortFunc(result, func(a, b domain.StockReconciliation) int {
		if c := strings.Compare(a.WarehouseID, b.WarehouseID); c != 0 {
			return c
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return result, nil
}

func (s *Store) GetTerminal(_ context.Context, terminalID string) (*domain.Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terminal, exists := s.terminals[terminalID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &terminal, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.POSSession) (*domain.POSSession, error) {
	if strings.TrimSpace(session.TerminalID) == "" || strings.TrimSpace(session.CashierID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openSessionByTerminal[session.TerminalID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen

	s.sessionsByID[session.ID] = session
	s.openSessionByTerminal[session.TerminalID] = session.ID
	created := session
	return &created, nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*domain.POSSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (s *Store) CloseSession(_ context.Context, req domain.SessionClose) (*domain.POSSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[req.SessionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, store.ErrSessionInvalid
	}

	expected := s.cashBalanceLocked(session)
	difference := req.CountedCashCents - expected
	if absInt64(difference) > req.ThresholdCents && !req.AdminOverride {
		return nil, fmt.Errorf("%w: expected %d, counted %d", store.ErrCashDiscrepancy, expected, req.CountedCashCents)
	}

	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}
	counted := req.CountedCashCents
	session.Status = domain.SessionStatusClosed
	session.ClosingBalanceCents = &counted
	session.ExpectedBalanceCents = &expected
	session.DifferenceCents = &difference
	session.ClosingNote = req.Note
	session.ClosedAt = &req.At

	s.sessionsByID[session.ID] = session
	delete(s.openSessionByTerminal, session.TerminalID)
	closed := session
	return &closed, nil
}

func (s *Store) ListCashMovements(_ context.Context, sessionID string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := s.cashMovements[sessionID]
	result := make([]domain.CashMovement, len(movements))
	copy(result, movements)
	return result, nil
}

func (s *Store) CreatePOSTransaction(_ context.Context, sale domain.POSSale) (*domain.POSTransaction, error) {
	txn := cloneTransaction(sale.Transaction)
	if len(txn.Items) == 0 || len(txn.Payments) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[txn.SessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrSessionInvalid
	}
	if txn.ID == "" {
		txn.ID = xid.New("txn")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	txn.TransactionNo = s.nextTransactionNoLocked(txn.CreatedAt)
	txn.Status = domain.POSTransactionCompleted

	var undo undoLog
	for _, line := range sortedStockLines(txn.Items) {
		_, _, err := s.adjustLocked(domain.StockAdjustment{
			ItemID:          line.ItemID,
			WarehouseID:     txn.WarehouseID,
			Delta:           -line.Quantity,
			Action:          domain.MovementFulfill,
			Reason:          "POS Sale: " + txn.TransactionNo,
			ActorID:         txn.CreatedBy,
			CorrelationID:   txn.ID,
			DefaultMinStock: sale.DefaultMinStock,
			At:              txn.CreatedAt,
		}, &undo)
		if err != nil {
			undo.rollback()
			return nil, err
		}
	}

	if hasCashLeg(txn.Payments) {
		balance := s.cashBalanceLocked(session) + sale.CashAmountCents
		s.cashMovements[session.ID] = append(s.cashMovements[session.ID], domain.CashMovement{
			ID:                xid.New("cash"),
			SessionID:         session.ID,
			Type:              domain.CashMovementSale,
			AmountCents:       sale.CashAmountCents,
			BalanceAfterCents: balance,
			Reference:         txn.ID,
			PerformedByID:     txn.CreatedBy,
			CreatedAt:         txn.CreatedAt,
		})
	}

	session.SalesCount++
	session.SalesTotalCents += txn.TotalCents
	session.DiscountsTotalCents += txn.DiscountCents
	s.sessionsByID[session.ID] = session

	s.transactions = append(s.transactions, *txn)
	return cloneTransaction(*txn), nil
}

func (s *Store) ListPOSTransactions(_ context.Context, sessionID string, limit int) ([]domain.POSTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.POSTransaction, 0, 32)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		txn := s.transactions[i]
		if sessionID != "" && txn.SessionID != sessionID {
			continue
		}
		result = append(result, *cloneTransaction(txn))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// cashBalanceLocked is the latest cash movement balance, or the opening
// balance when the session has no cash movements yet.
func (s *Store) cashBalanceLocked(session domain.POSSession) int64 {
	movements := s.cashMovements[session.ID]
	if len(movements) == 0 {
		return session.OpeningBalanceCents
	}
	return movements[len(movements)-1].BalanceAfterCents
}

func (s *Store) nextTransactionNoLocked(at time.Time) string {
	day := nowDateUTC(at)
	count := 0
	for _, txn := range s.transactions {
		if nowDateUTC(txn.CreatedAt).Equal(day) {
			count++
		}
	}
	return FormatTransactionNo(day, count+1)
}

// FormatTransactionNo renders TXN-YYYYMMDD-000001 style numbers.
func FormatTransactionNo(day time.Time, seq int) string {
	return fmt.Sprintf("TXN-%s-%06d", day.UTC().Format("20060102"), seq)
}

// sortedStockLines returns the tracked lines in item order, matching the
// lock order used by the postgres store.
func sortedStockLines(items []domain.POSTransactionItem) []domain.POSTransactionItem {
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
	for _, payment := range payments {
		if payment.Method == domain.PaymentMethodCash {
			return true
		}
	}
	return false
}

func inventoryKey(itemID string, warehouseID string) string {
	return itemID + "::" + warehouseID
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func cloneTransaction(src domain.POSTransaction) *domain.POSTransaction {
	dup := src
	dup.Items = make([]domain.POSTransactionItem, len(src.Items))
	copy(dup.Items, src.Items)
	dup.Payments = make([]domain.POSPayment, len(src.Payments))
	copy(dup.Payments, src.Payments)
	return &dup
}

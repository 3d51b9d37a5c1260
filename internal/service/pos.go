package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/metrics"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// pricing is the money side of a sale, computed before anything is written.
type pricing struct {
	subtotal      int64
	discountType  string
	discount      int64
	total         int64
	totalReceived int64
	changeDue     int64
	cashNet       int64
}

func (s *Service) CreatePOSTransaction(ctx context.Context, req domain.POSTransactionRequest) (domain.POSTransactionResponse, error) {
	started := time.Now()
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.POSTransactionResponse{}, err
	}

	session, err := s.repo.GetSession(ctx, strings.TrimSpace(req.SessionID))
	if err != nil {
		return domain.POSTransactionResponse{}, err
	}
	if session.Status != domain.SessionStatusOpen {
		return domain.POSTransactionResponse{}, fmt.Errorf("%w: session %s is %s", ErrSessionInvalid, session.ID, session.Status)
	}
	if actor.Username != session.CashierID && !actor.IsElevated() {
		return domain.POSTransactionResponse{}, fmt.Errorf("%w: %s is not the cashier of session %s", ErrUnauthorized, actor.Username, session.ID)
	}

	items, err := normalizeLineItems(req.Items)
	if err != nil {
		return domain.POSTransactionResponse{}, err
	}
	payments, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.POSTransactionResponse{}, err
	}
	price, err := pricePOSSale(items, payments, req.Discount)
	if err != nil {
		return domain.POSTransactionResponse{}, err
	}

	terminal, err := s.repo.GetTerminal(ctx, session.TerminalID)
	if err != nil {
		return domain.POSTransactionResponse{}, fmt.Errorf("resolve terminal %s: %w", session.TerminalID, err)
	}

	txn := domain.POSTransaction{
		ID:                 xid.New("txn"),
		SessionID:          session.ID,
		WarehouseID:        terminal.WarehouseID,
		SubtotalCents:      price.subtotal,
		DiscountType:       price.discountType,
		DiscountCents:      price.discount,
		TotalCents:         price.total,
		TotalReceivedCents: price.totalReceived,
		ChangeDueCents:     price.changeDue,
		Status:             domain.POSTransactionCompleted,
		CustomerName:       strings.TrimSpace(req.CustomerName),
		Note:               strings.TrimSpace(req.Note),
		CreatedBy:          actor.Username,
		CreatedAt:          s.now(),
		Items:              items,
		Payments:           payments,
	}

	saved, err := s.repo.CreatePOSTransaction(ctx, domain.POSSale{
		Transaction:     txn,
		CashAmountCents: price.cashNet,
		DefaultMinStock: s.defaultMinStock,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.Inc()
		}
		s.logger.Warn("pos sale rejected",
			zap.String("session_id", session.ID),
			zap.String("actor", actor.Username),
			zap.Error(err),
		)
		return domain.POSTransactionResponse{}, err
	}

	metrics.POSSalesTotal.Inc()
	metrics.POSSaleDuration.Observe(time.Since(started).Seconds())
	for _, item := range saved.Items {
		if item.ItemID != "" {
			metrics.InventoryMovementsTotal.WithLabelValues(domain.MovementFulfill).Inc()
		}
	}
	s.logAudit(ctx, "pos_sale", "pos_transaction", saved.ID, fmt.Sprintf("no=%s,total=%d,received=%d", saved.TransactionNo, saved.TotalCents, saved.TotalReceivedCents))
	return domain.POSTransactionResponse{Transaction: *saved}, nil
}

func (s *Service) ListPOSTransactions(ctx context.Context, sessionID string, limit int) (domain.POSTransactionListResponse, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	txns, err := s.repo.ListPOSTransactions(ctx, strings.TrimSpace(sessionID), limit)
	if err != nil {
		return domain.POSTransactionListResponse{}, err
	}
	return domain.POSTransactionListResponse{Transactions: txns}, nil
}

func normalizeLineItems(inputs []domain.POSLineItemInput) ([]domain.POSTransactionItem, error) {
	if len(inputs) == 0 {
		return nil, invalidInput("at least one item is required")
	}
	items := make([]domain.POSTransactionItem, 0, len(inputs))
	for i, in := range inputs {
		itemID := strings.TrimSpace(in.ItemID)
		sku := strings.TrimSpace(in.SKU)
		if sku == "" {
			sku = itemID
		}
		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = sku
		}
		if sku == "" {
			return nil, invalidInput("item %d needs a sku or item_id", i+1)
		}
		if in.Quantity <= 0 {
			return nil, invalidInput("item %d quantity must be positive", i+1)
		}
		if in.UnitPriceCents < 0 {
			return nil, invalidInput("item %d unit price must not be negative", i+1)
		}
		if in.UnitPriceCents > math.MaxInt64/int64(in.Quantity) {
			return nil, invalidInput("item %d line total is out of range", i+1)
		}
		items = append(items, domain.POSTransactionItem{
			ID:             xid.New("txi"),
			ItemID:         itemID,
			SKU:            sku,
			Name:           name,
			Quantity:       in.Quantity,
			UnitPriceCents: in.UnitPriceCents,
			LineTotalCents: in.UnitPriceCents * int64(in.Quantity),
		})
	}
	return items, nil
}

func normalizePayments(inputs []domain.POSPaymentInput) ([]domain.POSPayment, error) {
	if len(inputs) == 0 {
		return nil, invalidInput("at least one payment is required")
	}
	payments := make([]domain.POSPayment, 0, len(inputs))
	for i, in := range inputs {
		method := strings.ToLower(strings.TrimSpace(in.Method))
		if !isSupportedPaymentMethod(method) {
			return nil, invalidInput("payment %d has unsupported method %q", i+1, in.Method)
		}
		if in.AmountCents < 1 {
			return nil, invalidInput("payment %d amount must be positive", i+1)
		}
		payments = append(payments, domain.POSPayment{
			ID:          xid.New("pay"),
			Method:      method,
			AmountCents: in.AmountCents,
			Reference:   strings.TrimSpace(in.Reference),
		})
	}
	return payments, nil
}

func pricePOSSale(items []domain.POSTransactionItem, payments []domain.POSPayment, discount *domain.POSDiscount) (pricing, error) {
	var p pricing
	for _, item := range items {
		if p.subtotal > math.MaxInt64-item.LineTotalCents {
			return pricing{}, invalidInput("sale subtotal is out of range")
		}
		p.subtotal += item.LineTotalCents
	}

	amount, kind, err := discountCents(p.subtotal, discount)
	if err != nil {
		return pricing{}, err
	}
	p.discount = amount
	p.discountType = kind
	p.total = max(0, p.subtotal-p.discount)

	var cashTendered int64
	for _, payment := range payments {
		if p.totalReceived > math.MaxInt64-payment.AmountCents {
			return pricing{}, invalidInput("payment total is out of range")
		}
		p.totalReceived += payment.AmountCents
		if payment.Method == domain.PaymentMethodCash {
			cashTendered += payment.AmountCents
		}
	}
	if p.totalReceived < p.total {
		return pricing{}, invalidInput("payments of %d do not cover total %d", p.totalReceived, p.total)
	}
	p.changeDue = max(0, p.totalReceived-p.total)
	p.cashNet = max(0, cashTendered-p.changeDue)
	return p, nil
}

// discountCents converts a discount into minor units, never more than the
// subtotal. Percentages round half up.
func discountCents(subtotal int64, discount *domain.POSDiscount) (int64, string, error) {
	if discount == nil {
		return 0, "", nil
	}
	kind := strings.ToLower(strings.TrimSpace(discount.Type))
	if discount.Value.IsNegative() {
		return 0, "", invalidInput("discount must not be negative")
	}

	var amount int64
	switch kind {
	case domain.DiscountPercentage:
		if discount.Value.GreaterThan(hundred) {
			return 0, "", invalidInput("percentage discount must not exceed 100")
		}
		amount = decimal.NewFromInt(subtotal).Mul(discount.Value).Div(hundred).Round(0).IntPart()
	case domain.DiscountFixed:
		rounded := discount.Value.Round(0)
		if rounded.GreaterThan(decimal.NewFromInt(subtotal)) {
			return subtotal, kind, nil
		}
		amount = rounded.IntPart()
	default:
		return 0, "", invalidInput("unknown discount type %q", discount.Type)
	}
	return min(amount, subtotal), kind, nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodWallet:
		return true
	default:
		return false
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/xid"
)

func (s *Service) OpenSession(ctx context.Context, req domain.POSSessionOpenRequest) (domain.POSSessionResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.POSSessionResponse{}, err
	}

	req.TerminalID = strings.TrimSpace(req.TerminalID)
	if req.TerminalID == "" {
		return domain.POSSessionResponse{}, invalidInput("terminal_id is required")
	}
	if req.OpeningBalanceCents < 0 {
		return domain.POSSessionResponse{}, invalidInput("opening balance must not be negative")
	}
	if _, err := s.repo.GetTerminal(ctx, req.TerminalID); err != nil {
		return domain.POSSessionResponse{}, err
	}

	session, err := s.repo.CreateSession(ctx, domain.POSSession{
		ID:                  xid.New("sess"),
		TerminalID:          req.TerminalID,
		CashierID:           actor.Username,
		Status:              domain.SessionStatusOpen,
		OpeningBalanceCents: req.OpeningBalanceCents,
		OpenedAt:            s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.POSSessionResponse{}, invalidInput("terminal %s already has an open session", req.TerminalID)
		}
		return domain.POSSessionResponse{}, err
	}

	s.logAudit(ctx, "pos_session_open", "pos_session", session.ID, fmt.Sprintf("terminal=%s,opening=%d", session.TerminalID, session.OpeningBalanceCents))
	return domain.POSSessionResponse{Session: *session, CashMovements: []domain.CashMovement{}}, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.POSSessionResponse, error) {
	session, err := s.repo.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.POSSessionResponse{}, err
	}
	movements, err := s.repo.ListCashMovements(ctx, session.ID)
	if err != nil {
		return domain.POSSessionResponse{}, err
	}
	return domain.POSSessionResponse{Session: *session, CashMovements: movements}, nil
}

// CloseSession counts the drawer against the expected balance. A difference
// beyond the threshold needs an override from an elevated actor.
func (s *Service) CloseSession(ctx context.Context, sessionID string, req domain.POSSessionCloseRequest) (domain.POSSessionResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.POSSessionResponse{}, err
	}

	session, err := s.repo.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.POSSessionResponse{}, err
	}
	if actor.Username != session.CashierID && !actor.IsElevated() {
		return domain.POSSessionResponse{}, fmt.Errorf("%w: %s cannot close session %s", ErrUnauthorized, actor.Username, session.ID)
	}
	if req.AdminOverride && !actor.IsElevated() {
		return domain.POSSessionResponse{}, fmt.Errorf("%w: admin override requires an elevated role", ErrUnauthorized)
	}
	if req.CountedCashCents < 0 {
		return domain.POSSessionResponse{}, invalidInput("counted cash must not be negative")
	}

	closed, err := s.repo.CloseSession(ctx, domain.SessionClose{
		SessionID:        session.ID,
		CountedCashCents: req.CountedCashCents,
		ThresholdCents:   s.cashThreshold,
		AdminOverride:    req.AdminOverride,
		Note:             strings.TrimSpace(req.Note),
		ClosedBy:         actor.Username,
		At:               s.now(),
	})
	if err != nil {
		return domain.POSSessionResponse{}, err
	}

	detail := fmt.Sprintf("counted=%d,expected=%d,difference=%d", *closed.ClosingBalanceCents, *closed.ExpectedBalanceCents, *closed.DifferenceCents)
	if req.AdminOverride {
		detail += ",override=true"
	}
	s.logAudit(ctx, "pos_session_close", "pos_session", closed.ID, detail)

	movements, err := s.repo.ListCashMovements(ctx, closed.ID)
	if err != nil {
		return domain.POSSessionResponse{}, err
	}
	return domain.POSSessionResponse{Session: *closed, CashMovements: movements}, nil
}

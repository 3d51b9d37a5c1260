package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"retailcore/backend/internal/alert"
	"retailcore/backend/internal/cache"
	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/revenue"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/webhook"
	"retailcore/backend/internal/xid"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrPayloadInvalid   = errors.New("webhook payload invalid")

	ErrAmountMismatch   = store.ErrAmountMismatch
	ErrIntentNotPending = store.ErrIntentNotPending
	ErrSessionInvalid   = store.ErrSessionInvalid
)

const alertTimeout = 5 * time.Second

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Logger     *zap.Logger
	Verifier   *webhook.Verifier
	EventCache cache.EventCache
	Alerts     alert.Sink
	Revenue    revenue.Recorder

	IntentTTL                     time.Duration
	AmountToleranceCents          int64
	DefaultMinStock               int
	CashDiscrepancyThresholdCents int64
	ProcessedEventTTL             time.Duration

	Now func() time.Time
}

type Service struct {
	repo     store.Repository
	logger   *zap.Logger
	verifier *webhook.Verifier
	events   cache.EventCache
	alerts   alert.Sink
	revenue  revenue.Recorder

	intentTTL       time.Duration
	tolerance       int64
	defaultMinStock int
	cashThreshold   int64
	eventTTL        time.Duration
	now             func() time.Time

	background sync.WaitGroup
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Verifier == nil {
		opts.Verifier = webhook.NewVerifier("")
	}
	if opts.EventCache == nil {
		opts.EventCache = cache.NoopEventCache{}
	}
	if opts.Alerts == nil {
		opts.Alerts = alert.NewLogSink(opts.Logger)
	}
	if opts.Revenue == nil {
		opts.Revenue = revenue.NewLogRecorder(opts.Logger)
	}
	if opts.IntentTTL <= 0 {
		opts.IntentTTL = 15 * time.Minute
	}
	if opts.AmountToleranceCents < 0 {
		opts.AmountToleranceCents = 0
	}
	if opts.DefaultMinStock <= 0 {
		opts.DefaultMinStock = 5
	}
	if opts.CashDiscrepancyThresholdCents <= 0 {
		opts.CashDiscrepancyThresholdCents = 5000
	}
	if opts.ProcessedEventTTL <= 0 {
		opts.ProcessedEventTTL = 72 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:            repo,
		logger:          opts.Logger,
		verifier:        opts.Verifier,
		events:          opts.EventCache,
		alerts:          opts.Alerts,
		revenue:         opts.Revenue,
		intentTTL:       opts.IntentTTL,
		tolerance:       opts.AmountToleranceCents,
		defaultMinStock: opts.DefaultMinStock,
		cashThreshold:   opts.CashDiscrepancyThresholdCents,
		eventTTL:        opts.ProcessedEventTTL,
		now:             opts.Now,
	}
}

// Wait blocks until background side effects started by the service finish.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleOwner, domain.RoleSuperAdmin); err != nil {
		return nil, err
	}

	day := s.now()
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

// raiseAlert delivers in the background so a slow sink never delays the
// provider's webhook response.
func (s *Service) raiseAlert(ctx context.Context, a alert.Alert) {
	if a.At.IsZero() {
		a.At = s.now()
	}

	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		if err := s.alerts.Send(bgCtx, a); err != nil {
			s.logger.Warn("failed to deliver alert", zap.String("kind", a.Kind), zap.Error(err))
		}
	}()
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: role %s not permitted", ErrUnauthorized, actor.Role)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, fmt.Sprintf(format, args...))
}

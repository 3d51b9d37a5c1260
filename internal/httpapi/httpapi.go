package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/service"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/webhook"
)

var (
	managers = []string{domain.RoleAdmin, domain.RoleOwner, domain.RoleSuperAdmin}
	staff    = []string{domain.RoleCashier, domain.RoleAdmin, domain.RoleOwner, domain.RoleSuperAdmin}
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		logger:        logger,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/webhooks/paymob", a.handlePaymobWebhook)
	r.Get("/api/webhooks/paymob", a.handleNotFound)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Route("/payment-intents", func(r chi.Router) {
			r.Use(a.requireAuth(managers...))
			r.Post("/", a.handleCreateIntent)
			r.Get("/{id}", a.handleGetIntent)
			r.Post("/{id}/confirm", a.handleConfirmIntent)
			r.Post("/{id}/fail", a.handleFailIntent)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.With(a.requireAuth(staff...)).Get("/", a.handleListInventory)
			r.Group(func(r chi.Router) {
				r.Use(a.requireAuth(managers...))
				r.Post("/adjust", a.handleAdjustInventory)
				r.Post("/transfer", a.handleTransferInventory)
				r.Get("/movements", a.handleListMovements)
				r.Get("/reconcile", a.handleReconcile)
			})
		})

		r.Route("/pos", func(r chi.Router) {
			r.Use(a.requireAuth(staff...))
			r.Post("/sessions", a.handleOpenSession)
			r.Get("/sessions/{id}", a.handleGetSession)
			r.Post("/sessions/{id}/close", a.handleCloseSession)
			r.Post("/transactions", a.handleCreatePOSTransaction)
			r.Get("/transactions", a.handleListPOSTransactions)
		})

		r.With(a.requireAuth(managers...)).Get("/audit-logs", a.handleAuditLogs)
	})

	r.NotFound(a.handleNotFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	return a.withMiddleware(r)
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// handlePaymobWebhook answers 200 for anything the provider should stop
// retrying and 5xx only when a retry can succeed.
func (a *API) handlePaymobWebhook(w http.ResponseWriter, r *http.Request) {
	var cb webhook.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed webhook payload"))
		return
	}

	signature := strings.TrimSpace(r.Header.Get("hmac"))
	if signature == "" {
		signature = strings.TrimSpace(r.URL.Query().Get("hmac"))
	}

	ack, err := a.service.HandlePaymentWebhook(r.Context(), &cb, signature, clientKey(r))
	switch {
	case errors.Is(err, service.ErrPayloadInvalid):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrSignatureInvalid):
		writeError(w, http.StatusUnauthorized, errors.New("invalid signature"))
	case err != nil:
		a.fail(w, err)
	default:
		writeJSON(w, http.StatusOK, ack)
	}
}

func (a *API) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentIntentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	intent, err := a.service.CreatePaymentIntent(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

func (a *API) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := a.service.GetPaymentIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (a *API) handleConfirmIntent(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentIntentConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	intent, err := a.service.ConfirmPaymentIntent(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (a *API) handleFailIntent(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentIntentFailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	intent, err := a.service.FailPaymentIntent(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (a *API) handleListInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parseOptionalInt(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("page must be a number"))
		return
	}
	resp, err := a.service.ListInventory(r.Context(), domain.InventoryQuery{
		WarehouseID: q.Get("warehouse_id"),
		Status:      q.Get("status"),
		Page:        page,
		Limit:       parsePositiveLimit(q.Get("limit"), 20, 100),
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.AdjustInventory(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTransferInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.TransferInventory(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	movements, err := a.service.ListMovements(r.Context(), q.Get("item_id"), q.Get("warehouse_id"), parsePositiveLimit(q.Get("limit"), 50, 500))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.Reconcile(r.Context(), r.URL.Query().Get("warehouse_id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req domain.POSSessionOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.OpenSession(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req domain.POSSessionCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CloseSession(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreatePOSTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.POSTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreatePOSTransaction(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListPOSTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := a.service.ListPOSTransactions(r.Context(), q.Get("session_id"), parsePositiveLimit(q.Get("limit"), 50, 200))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("date"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// csrfExemptPaths are called without a prior token fetch: login by new
// clients and the webhook by the payment provider, which signs its body.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/webhooks/paymob",
}

// checkCSRF writes a 403 and returns false when a state-changing request
// carries no valid X-CSRF-Token.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// fail maps a service error to its status code. 5xx details stay in the log.
func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrSessionInvalid),
		errors.Is(err, store.ErrCashDiscrepancy),
		errors.Is(err, store.ErrAmountMismatch),
		errors.Is(err, store.ErrIntentNotPending):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parseOptionalInt(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

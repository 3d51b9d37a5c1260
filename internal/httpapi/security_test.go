package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/service"
	"retailcore/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	ta := newTestAPI(t)
	res := httptest.NewRecorder()

	ta.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	ta := newTestAPI(t)
	res := httptest.NewRecorder()

	ta.handler.ServeHTTP(res, httptest.NewRequest(http.MethodOptions, "/api/v1/inventory/adjust", nil))

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	ta := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		ta.handler.ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	ta := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	ta.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	ta := newTestAPI(t)
	token := loginAsAdmin(t, ta)
	body, _ := json.Marshal(domain.InventoryAdjustRequest{ItemID: "ITEM-KOPI-01", WarehouseID: "wh-main", Delta: 1, Reason: "Recount"})

	send := func(csrf string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/adjust", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if csrf != "" {
			req.Header.Set("X-CSRF-Token", csrf)
		}
		res := httptest.NewRecorder()
		ta.handler.ServeHTTP(res, req)
		return res.Code
	}

	if code := send(""); code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", code)
	}
	if code := send("forged"); code != http.StatusForbidden {
		t.Fatalf("expected 403 with forged csrf token, got %d", code)
	}
	if code := send(fetchCSRFToken(t, ta)); code != http.StatusOK {
		t.Fatalf("expected 200 with csrf token, got %d", code)
	}
}

func TestWebhookIsCSRFExempt(t *testing.T) {
	ta := newTestAPI(t)
	cb, sig := signedCallback(ta, 990, "order-none", 100, true)

	rec := ta.postWebhook(t, cb, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected webhook to bypass csrf, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestServerErrorsHideDetails(t *testing.T) {
	ta := newTestAPI(t)
	res := httptest.NewRecorder()

	ta.fail(res, errors.New("pq: relation \"payment_intents\" does not exist"))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "payment_intents") {
		t.Fatalf("expected internal details to be hidden, got %s", res.Body.String())
	}
}

func TestStatusForMapsSentinels(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", store.ErrInsufficientStock), http.StatusConflict},
		{service.ErrUnauthorized, http.StatusForbidden},
		{store.ErrSessionInvalid, http.StatusConflict},
		{store.ErrCashDiscrepancy, http.StatusConflict},
		{store.ErrInvalidTransaction, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{service.ErrAmountMismatch, http.StatusConflict},
		{service.ErrIntentNotPending, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, ta *testAPI) string {
	t.Helper()
	res := httptest.NewRecorder()
	ta.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	if strings.TrimSpace(payload["csrf_token"]) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return payload["csrf_token"]
}

func loginAsAdmin(t *testing.T, ta *testAPI) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "admin123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	ta.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("admin login failed, status %d", res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	return payload.AccessToken
}

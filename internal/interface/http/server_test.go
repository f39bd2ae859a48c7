package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainacademy/entitlement-core/internal/application/entitlement"
	"github.com/chainacademy/entitlement-core/internal/application/resolve"
	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/internal/infrastructure/demo"
	"github.com/chainacademy/entitlement-core/internal/infrastructure/messaging"
	"github.com/chainacademy/entitlement-core/pkg/retry"
)

const (
	testPrincipal = "wallet-http-test"
	testCourse    = "course-solana-101"
)

type stubOptimized struct{}

func (stubOptimized) Resolve(_ context.Context, canonicalID string, _ content.MediaKind) (string, error) {
	return "https://edge.example/v/" + canonicalID, nil
}

type httpFixture struct {
	server *Server
	ledger *demo.Ledger
	bus    *messaging.InMemoryEventBus
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()

	ledger := demo.NewSeededLedger()
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
	t.Cleanup(func() { _ = bus.Close() })

	fastRecheck := retry.New(
		retry.WithMaxAttempts(2),
		retry.WithInitialDelay(time.Nanosecond),
		retry.WithMultiplier(1.0),
		retry.WithJitter(0),
	)
	verifier := entitlement.NewVerifier(ledger, nil, entitlement.WithRecheckRetrier(fastRecheck))
	store := entitlement.NewStore(ledger, bus, nil)
	resolver := resolve.New(stubOptimized{}, resolve.Config{Bus: bus})
	manager := entitlement.NewManager(ledger, verifier, store, resolver, bus, nil)

	require.NoError(t, bus.Subscribe(shared.EventLicensePurchase, manager.HandleLicensePurchased))

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	cfg.WebhookSecret = "hook-secret"
	server := NewServer(cfg, Dependencies{
		Manager: manager,
		Bus:     bus,
	})

	return &httpFixture{server: server, ledger: ledger, bus: bus}
}

func (f *httpFixture) do(t *testing.T, method, path, principal, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if principal != "" {
		req.Header.Set(principalHeader, principal)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
		Error   *APIError              `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error *APIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestServer_MissingPrincipalIsUnauthorized(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/courses/"+testCourse+"/session", "", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_principal", decodeErrorCode(t, rec))
}

func TestServer_SessionWithoutLicenseIsDenied(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/courses/"+testCourse+"/session", testPrincipal, "")

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "access_denied", data["state"])
	assert.Equal(t, false, data["license_valid"])
}

func TestServer_UnknownCourseIsNotFound(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/courses/course-nope/session", testPrincipal, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_LicensedSessionLifecycle(t *testing.T) {
	f := newHTTPFixture(t)
	f.ledger.GrantLicense(shared.Principal(testPrincipal), shared.CourseID(testCourse), time.Hour)

	rec := f.do(t, http.MethodGet, "/api/v1/courses/"+testCourse+"/session", testPrincipal, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Equal(t, "ready", data["state"])
	units := data["units"].([]interface{})
	require.Len(t, units, 4)
	assert.Equal(t, "unlocked", units[0].(map[string]interface{})["state"])

	// Complete unit 0 and watch progress move.
	rec = f.do(t, http.MethodPost, "/api/v1/courses/"+testCourse+"/units/0/complete", testPrincipal, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, float64(25), data["percent_complete"])
	units = data["units"].([]interface{})
	assert.Equal(t, "completed", units[0].(map[string]interface{})["state"])

	// Out-of-range completion is a client error.
	rec = f.do(t, http.MethodPost, "/api/v1/courses/"+testCourse+"/units/99/complete", testPrincipal, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "out_of_range", decodeErrorCode(t, rec))
}

func TestServer_CompletionWithoutLicenseIsForbidden(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/courses/"+testCourse+"/units/0/complete", testPrincipal, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access_denied", decodeErrorCode(t, rec))
}

func TestServer_ResolveMedia(t *testing.T) {
	f := newHTTPFixture(t)
	f.ledger.GrantLicense(shared.Principal(testPrincipal), shared.CourseID(testCourse), time.Hour)

	rec := f.do(t, http.MethodGet, "/api/v1/courses/"+testCourse+"/units/0/media", testPrincipal, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, false, data["no_content"])
	assert.Equal(t, "https://edge.example/v/bafybeigdyrzt5intro0", data["url"])
	assert.Equal(t, "optimized", data["tier"])

	// Unit 3 carries the reserved placeholder identifier.
	rec = f.do(t, http.MethodGet, "/api/v1/courses/"+testCourse+"/units/3/media", testPrincipal, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.Equal(t, true, data["no_content"])
}

func TestServer_PurchaseWebhookRefreshesSession(t *testing.T) {
	f := newHTTPFixture(t)

	// Session opens denied.
	rec := f.do(t, http.MethodGet, "/api/v1/courses/"+testCourse+"/session", testPrincipal, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "access_denied", decodeData(t, rec)["state"])

	// Purchase lands on the ledger, then the webhook announces it.
	f.ledger.GrantLicense(shared.Principal(testPrincipal), shared.CourseID(testCourse), time.Hour)
	payload := `{"principal": "` + testPrincipal + `", "course_id": "` + testCourse + `", "tx_hash": "0xfeed"}`
	rec = f.do(t, http.MethodPost, "/webhook/purchases/hook-secret", "", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/courses/"+testCourse+"/session", testPrincipal, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeData(t, rec)["state"])
}

func TestServer_WebhookRejectsBadToken(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/webhook/purchases/wrong", "", `{"principal":"p","course_id":"c"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_HealthEndpoints(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

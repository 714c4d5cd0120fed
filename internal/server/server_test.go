package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liveyourdreams/backoffice-metering/internal/apikey"
	"github.com/liveyourdreams/backoffice-metering/internal/config"
	"github.com/liveyourdreams/backoffice-metering/internal/database"
	"github.com/liveyourdreams/backoffice-metering/internal/encryption"
	"github.com/liveyourdreams/backoffice-metering/internal/pricing"
	"github.com/liveyourdreams/backoffice-metering/internal/usage"
)

const testToken = "test-management-token"

func newTestServer(t *testing.T) (*Server, *database.MemoryStore) {
	t.Helper()

	cipher, err := encryption.NewCipherFromHexKey(strings.Repeat("ab", 32))
	require.NoError(t, err)

	store := database.NewMemoryStore()
	keys := apikey.NewService(store, store, cipher, nil, zap.NewNop())
	usageSvc := usage.NewService(store, pricing.Default(), nil, zap.NewNop())

	cfg := &config.Config{
		ListenAddr:      ":0",
		RequestTimeout:  30 * time.Second,
		ManagementToken: testToken,
	}
	return New(cfg, keys, usageSvc, zap.NewNop()), store
}

func doRequest(t *testing.T, s *Server, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestManagementTokenRequired(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/keys", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/keys", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListKeys(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/keys", map[string]any{
		"provider": "ANTHROPIC",
		"name":     "production",
		"key":      "sk-ant-test1234",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	created := decodeBody(t, w)
	assert.NotEmpty(t, created["id"])
	assert.NotContains(t, w.Body.String(), "sk-ant-test1234")

	w = doRequest(t, s, http.MethodGet, "/api/keys", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	keys := body["keys"].([]any)
	require.Len(t, keys, 1)
	summary := keys[0].(map[string]any)
	assert.Equal(t, "sk-ant-••••-1234", summary["masked_key"])
	assert.NotContains(t, w.Body.String(), "sk-ant-test1234")
}

func TestCreateKeyValidation(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/keys", map[string]any{
		"provider": "GOOGLE",
		"name":     "x",
		"key":      "sk-abc",
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodPost, "/api/keys", map[string]any{
		"provider": "ANTHROPIC",
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKeyStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/keys", map[string]any{
		"provider": "ANTHROPIC",
		"name":     "production",
		"key":      "sk-ant-test1234",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	keyID := decodeBody(t, w)["id"].(string)

	w = doRequest(t, s, http.MethodGet, "/api/keys/"+keyID, nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody(t, w)
	assert.Equal(t, "sk-ant-••••-1234", stats["masked_key"])
	assert.Contains(t, stats, "monthly_usage")

	w = doRequest(t, s, http.MethodGet, "/api/keys/nonexistent", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeactivateKeyEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/keys", map[string]any{
		"provider": "OPENAI",
		"name":     "retiring",
		"key":      "sk-proj-abcd",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	keyID := decodeBody(t, w)["id"].(string)

	w = doRequest(t, s, http.MethodDelete, "/api/keys/"+keyID, nil, true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodDelete, "/api/keys/nonexistent", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogUsageEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/usage", map[string]any{
		"api_key_id":    "key-1",
		"feature":       "description",
		"endpoint":      "/v1/messages",
		"model":         "claude-sonnet-4-5",
		"input_tokens":  100,
		"output_tokens": 50,
		"duration_ms":   420,
	}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	entry := decodeBody(t, w)
	assert.Equal(t, float64(150), entry["total_tokens"])
	assert.Equal(t, "SUCCESS", entry["status"])

	w = doRequest(t, s, http.MethodPost, "/api/usage", map[string]any{
		"api_key_id":   "key-1",
		"feature":      "description",
		"input_tokens": -5,
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageAggregationEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		w := doRequest(t, s, http.MethodPost, "/api/usage", map[string]any{
			"api_key_id":    "key-1",
			"feature":       "description",
			"model":         "gpt-4o",
			"input_tokens":  1000,
			"output_tokens": 500,
		}, true)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doRequest(t, s, http.MethodGet, "/api/usage/monthly/key-1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	monthly := decodeBody(t, w)
	assert.Equal(t, float64(3), monthly["total_calls"])
	assert.Equal(t, float64(4500), monthly["total_tokens"])

	w = doRequest(t, s, http.MethodGet, "/api/usage/daily?days=7", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	daily := decodeBody(t, w)["daily"].([]any)
	require.Len(t, daily, 1)

	w = doRequest(t, s, http.MethodGet, "/api/usage/features", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	features := decodeBody(t, w)["features"].([]any)
	require.Len(t, features, 1)
	row := features[0].(map[string]any)
	assert.Equal(t, "description", row["feature"])
	assert.Equal(t, float64(3), row["calls"])

	w = doRequest(t, s, http.MethodGet, "/api/usage/recent?limit=2", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	calls := decodeBody(t, w)["calls"].([]any)
	assert.Len(t, calls, 2)

	w = doRequest(t, s, http.MethodGet, "/api/usage/overall", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	overall := decodeBody(t, w)
	assert.Contains(t, overall, "today")
	assert.Contains(t, overall, "month")
}

func TestDailyUsageRejectsBadParams(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/usage/daily?days=abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/usage/recent?limit=abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/usage/features?start=bogus", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecryptFailureYieldsGenericError(t *testing.T) {
	s, store := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/keys", map[string]any{
		"provider": "ANTHROPIC",
		"name":     "tampered",
		"key":      "sk-ant-test1234",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	keyID := decodeBody(t, w)["id"].(string)

	store.CorruptKeyHash(keyID)

	w = doRequest(t, s, http.MethodGet, "/api/keys", nil, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	// The response must not reveal whether decryption failed or why.
	assert.Equal(t, "internal server error", decodeBody(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "authentication")
	assert.NotContains(t, w.Body.String(), "decrypt")
}

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/tinify-dashboard/internal/config"
	"github.com/akagifreeez/tinify-dashboard/internal/handlers"
	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/internal/models"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
	"github.com/akagifreeez/tinify-dashboard/pkg/tinify"
)

const jwtSecret = "test-secret"

// stubProvider halves payloads; payloads starting with "bad" fail as
// undecodable and the token "rejected" fails validation.
type stubProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Validate(_ context.Context, token string) error {
	if token == "rejected" {
		return &tinify.Error{Kind: tinify.KindAccount, Status: 401, Message: "Credentials are invalid"}
	}
	return nil
}

func (p *stubProvider) Compress(_ context.Context, _ string, data []byte) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if bytes.HasPrefix(data, []byte("bad")) {
		return nil, &tinify.Error{Kind: tinify.KindClient, Status: 400, Message: "File is too small or invalid"}
	}
	return data[:len(data)/2], nil
}

type rateRecorder struct{ last int }

func (r *rateRecorder) UpdateRateLimit(n int) { r.last = n }

type testServer struct {
	http.Handler
	ledger *ledger.Ledger
	rate   *rateRecorder
}

func newServer(t *testing.T, creds ...ledger.Credential) *testServer {
	t.Helper()
	ctx := context.Background()

	l := ledger.New(ledger.NewMemoryStore(ledger.RotationState{Credentials: creds}))
	p := &stubProvider{}
	keys := services.NewKeyService(l, p, 500)
	dispatcher := services.NewDispatcher(ledger.TwoPhase{Ledger: l}, p, nil)
	compressions := services.NewCompressionService(dispatcher, services.NewMemoryRecordStore(), nil)
	settings, err := services.NewSettingsService(ctx, nil)
	require.NoError(t, err)
	rate := &rateRecorder{}

	cfg := &config.Config{
		JWTSecret:      jwtSecret,
		DashboardUsers: map[string]string{"alice": "wonderland"},
		FrontendURL:    "http://localhost:3000",
	}

	router := handlers.NewRouter(handlers.Routes{
		JWTSecret:      jwtSecret,
		BotSecret:      "bot-secret",
		AllowedOrigins: []string{"http://localhost:3000"},
		Auth:           handlers.NewAuthHandler(cfg),
		Keys:           handlers.NewKeyHandler(keys, nil),
		Compressions:   handlers.NewCompressionHandler(compressions, 1<<20),
		Settings:       handlers.NewSettingsHandler(settings, rate),
		Feed:           handlers.NewFeedHandler(compressions.Events(), cfg.AllowedOrigins),
		Bot:            handlers.NewBotInternalHandler(keys, compressions),
	})
	return &testServer{Handler: router, ledger: l, rate: rate}
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", `{"username":"alice","password":"wonderland"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp handlers.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func active(token string, limit, used int) ledger.Credential {
	return ledger.Credential{Token: token, MonthlyLimit: limit, Used: used, Active: true}
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestLogin(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", `{"username":"mallory","password":"wonderland"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := s.login(t)
	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var op models.Operator
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, "alice", op.Username)
	assert.Equal(t, "static", op.Source)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{"/api/v1/keys", "/api/v1/compressions", "/api/v1/stats", "/api/v1/settings"} {
		rec := s.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := s.do(t, http.MethodGet, "/api/v1/keys", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKeyLifecycle(t *testing.T) {
	s := newServer(t)
	token := s.login(t)

	rec := s.do(t, http.MethodPost, "/api/v1/keys", token, `{"key":"rejected"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/keys", token, `{"key":"tok-abcd1234","label":"main","monthly_limit":100}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var key models.ApiKey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &key))
	assert.Equal(t, "********1234", key.Masked)
	assert.NotContains(t, rec.Body.String(), "tok-abcd1234")

	rec = s.do(t, http.MethodPost, "/api/v1/keys", token, `{"key":"tok-abcd1234"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/keys/"+key.ID, token, `{"is_active":false,"monthly_limit":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/keys/"+key.ID, token, `{"is_active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &key))
	assert.False(t, key.IsActive)

	rec = s.do(t, http.MethodGet, "/api/v1/keys", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var keys []models.ApiKey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	require.Len(t, keys, 1)

	rec = s.do(t, http.MethodDelete, "/api/v1/keys/"+key.ID, token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/keys/"+key.ID, token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetUsage(t *testing.T) {
	s := newServer(t, active("a", 10, 10))
	token := s.login(t)

	rec := s.do(t, http.MethodPost, "/api/v1/keys/reset", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset":1}`, rec.Body.String())

	c, err := s.ledger.Credential(context.Background(), "a")
	require.NoError(t, err)
	assert.Zero(t, c.Used)
}

func multipartBody(t *testing.T, files map[string][]byte, order []string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range order {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCompressAndDownload(t *testing.T) {
	s := newServer(t, active("a", 500, 0), active("b", 500, 0))
	token := s.login(t)

	body, contentType := multipartBody(t, map[string][]byte{
		"good.png": bytes.Repeat([]byte{1}, 200),
		"bad.png":  []byte("bad image data"),
	}, []string{"good.png", "bad.png"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compress", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results   []models.Compression `json:"results"`
		Completed int                  `json:"completed"`
		Failed    int                  `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Completed)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, "alice", resp.Results[0].CreatedBy)
	assert.Equal(t, string(services.KindProviderClient), resp.Results[1].ErrorKind)

	rec = s.do(t, http.MethodGet, "/api/v1/compressions/"+resp.Results[0].ID+"/download", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.Bytes(), 100)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "good.png")

	rec = s.do(t, http.MethodGet, "/api/v1/compressions/"+resp.Results[1].ID+"/download", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/stats", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.CompressionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(2), st.Total)

	rec = s.do(t, http.MethodGet, "/api/v1/compressions", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Compression
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = s.do(t, http.MethodDelete, "/api/v1/compressions/"+resp.Results[1].ID, token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	st1, err := s.ledger.Credential(context.Background(), "a")
	require.NoError(t, err)
	st2, err := s.ledger.Credential(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 1, st1.Used+st2.Used)
}

func TestCompressRequiresFiles(t *testing.T) {
	s := newServer(t, active("a", 500, 0))
	token := s.login(t)

	body, contentType := multipartBody(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/compress", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsUpdatesRateLimit(t *testing.T) {
	s := newServer(t)
	token := s.login(t)

	rec := s.do(t, http.MethodPut, "/api/v1/settings", token, `{"key":"provider_rate_limit","value":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/settings", token, `{"key":"provider_rate_limit","value":"90"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 90, s.rate.last)

	rec = s.do(t, http.MethodGet, "/api/v1/settings", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider_rate_limit"`)
}

func TestBotUsageRequiresSecret(t *testing.T) {
	s := newServer(t, active("tok-zzzz9999", 500, 4))

	rec := s.do(t, http.MethodGet, "/api/v1/bot/usage", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bot/usage", nil)
	req.Header.Set("X-Bot-Secret", "bot-secret")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var usage handlers.BotUsage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	require.Len(t, usage.Keys, 1)
	assert.Equal(t, crypto.HashToken("tok-zzzz9999"), usage.Keys[0].ID)
	assert.Equal(t, 4, usage.Keys[0].UsageCount)
	assert.NotContains(t, rec.Body.String(), "tok-zzzz9999")
}

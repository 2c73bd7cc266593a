package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/refpilot/refpilot/internal/api/middleware"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock Store ---

type mockStore struct {
	keys []*models.APIKey
	err  error
}

func (m *mockStore) Ping(_ context.Context) error { return nil }
func (m *mockStore) GetDefaultUser(_ context.Context) (*models.User, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.err
}
func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (m *mockStore) CreateScrapeJob(_ context.Context, _ *models.ScrapeJob) error {
	return nil
}
func (m *mockStore) GetScrapeJob(_ context.Context, _ uuid.UUID) (*models.ScrapeJob, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ListScrapeJobs(_ context.Context, _ int) ([]*models.ScrapeJob, error) {
	return nil, nil
}
func (m *mockStore) UpdateScrapeJobProgress(_ context.Context, _ uuid.UUID, _ int, _ string) error {
	return nil
}
func (m *mockStore) CompleteScrapeJob(_ context.Context, _ uuid.UUID, _ string, _ ...store.JobCompleteOption) error {
	return nil
}
func (m *mockStore) FailStaleScrapeJobs(_ context.Context, _ time.Duration, _ string) (int, error) {
	return 0, nil
}
func (m *mockStore) UpsertScrapedProgram(_ context.Context, p *models.ScrapedProgram) (*models.ScrapedProgram, error) {
	return p, nil
}
func (m *mockStore) GetScrapedProgram(_ context.Context, _ uuid.UUID) (*models.ScrapedProgram, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ListUnmappedPrograms(_ context.Context, _ bool, _ int) ([]*models.ScrapedProgram, error) {
	return nil, nil
}
func (m *mockStore) SetFinalJoinURL(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (m *mockStore) MarkProgramMapped(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}
func (m *mockStore) CreateTemplate(_ context.Context, _ *models.ProgramTemplate) error { return nil }
func (m *mockStore) GetTemplate(_ context.Context, _ uuid.UUID) (*models.ProgramTemplate, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) FindTemplateByNameOrKey(_ context.Context, _, _ string) (*models.ProgramTemplate, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ListTemplates(_ context.Context, _ store.TemplateFilter) ([]*models.ProgramTemplate, int, error) {
	return nil, 0, nil
}
func (m *mockStore) UpsertSelection(_ context.Context, _ *models.UserProgramSelection) error {
	return nil
}
func (m *mockStore) DeleteSelection(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }
func (m *mockStore) ListSelections(_ context.Context, _ uuid.UUID) ([]*models.SelectedProgram, error) {
	return nil, nil
}
func (m *mockStore) SelectedTemplateIDs(_ context.Context, _ uuid.UUID) (map[uuid.UUID]bool, error) {
	return nil, nil
}

var _ store.Store = (*mockStore)(nil)

// --- Mock Cache ---

type mockCache struct {
	counter int64
	err     error
}

func (m *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (m *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (m *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (m *mockCache) Ping(_ context.Context) error                                     { return nil }
func (m *mockCache) SetJobSnapshot(_ context.Context, _ uuid.UUID, _ *models.ScrapeJob, _ time.Duration) error {
	return nil
}
func (m *mockCache) GetJobSnapshot(_ context.Context, _ uuid.UUID) (*models.ScrapeJob, bool, error) {
	return nil, false, nil
}
func (m *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	m.counter++
	return m.counter, m.err
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func hashKey(t *testing.T, rawKey string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func storeWithKey(t *testing.T, rawKey string, scopes ...string) *mockStore {
	t.Helper()
	return &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
	}}}
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	auth := mw.NewAuth(&mockStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	auth := mw.NewAuth(&mockStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyTooShort(t *testing.T) {
	auth := mw.NewAuth(&mockStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer short")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KeyNotFound(t *testing.T) {
	auth := mw.NewAuth(&mockStore{keys: []*models.APIKey{}})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer rpk_test1234567890")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_WrongPassword(t *testing.T) {
	rawKey := "rpk_test1234567890abcdef"
	ms := &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		KeyHash:   hashKey(t, "different_key_entirely"),
		KeyPrefix: rawKey[:8],
		Scopes:    []string{"read"},
	}}}
	auth := mw.NewAuth(ms)
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidKey(t *testing.T) {
	rawKey := "rpk_test1234567890abcdef"
	ms := storeWithKey(t, rawKey, "read", "admin")
	userID := ms.keys[0].UserID
	auth := mw.NewAuth(ms)

	var gotUserID uuid.UUID
	var gotOK bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, gotOK = mw.GetUserID(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.Authenticate(inner)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotOK)
	assert.Equal(t, userID, gotUserID)
}

func TestAuth_RequireScope_Allowed(t *testing.T) {
	rawKey := "rpk_admin_1234567890abcdef"
	auth := mw.NewAuth(storeWithKey(t, rawKey, "read", "admin"))

	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_RequireScope_Denied(t *testing.T) {
	rawKey := "rpk_read__1234567890abcdef"
	auth := mw.NewAuth(storeWithKey(t, rawKey, "read"))

	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errBody(t, w)["code"])
}

// ========================================
// Rate Limit Middleware Tests
// The key prefix is only set by auth, so rate limiting is tested behind it.
// ========================================

func rateLimited(t *testing.T, mc *mockCache, perMin int) (http.Handler, string) {
	t.Helper()
	rawKey := "rpk_rate_1234567890abcdef"
	auth := mw.NewAuth(storeWithKey(t, rawKey, "read"))
	rl := mw.NewRateLimit(mc, perMin)
	return auth.Authenticate(rl.Limit(okHandler())), rawKey
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := &mockCache{counter: 0}
	handler, rawKey := rateLimited(t, mc, 60)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := &mockCache{counter: 60} // next IncrWithExpiry returns 61
	handler, rawKey := rateLimited(t, mc, 60)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
}

func TestRateLimit_NoKeyPrefix_PassThrough(t *testing.T) {
	mc := &mockCache{}
	rl := mw.NewRateLimit(mc, 60)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, mc.counter)
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

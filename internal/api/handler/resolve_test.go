package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
)

// --- mocks ---

type mockResolveStore struct {
	programs map[uuid.UUID]*models.ScrapedProgram
	setErr   error
}

func newMockResolveStore(programs ...*models.ScrapedProgram) *mockResolveStore {
	s := &mockResolveStore{programs: make(map[uuid.UUID]*models.ScrapedProgram)}
	for _, p := range programs {
		s.programs[p.ID] = p
	}
	return s
}

func (s *mockResolveStore) GetScrapedProgram(_ context.Context, id uuid.UUID) (*models.ScrapedProgram, error) {
	if p, ok := s.programs[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockResolveStore) SetFinalJoinURL(_ context.Context, id uuid.UUID, finalURL string) error {
	if s.setErr != nil {
		return s.setErr
	}
	p, ok := s.programs[id]
	if !ok {
		return store.ErrNotFound
	}
	p.FinalJoinURL = &finalURL
	return nil
}

type mockResolver struct {
	result string
	input  string
}

func (r *mockResolver) Resolve(_ context.Context, rawURL string) string {
	r.input = rawURL
	if r.result != "" {
		return r.result
	}
	return rawURL
}

func programWithJoin(join string) *models.ScrapedProgram {
	return &models.ScrapedProgram{
		ID:      uuid.New(),
		Slug:    "acme-hosting",
		Name:    "Acme Hosting",
		JoinURL: &join,
	}
}

// --- tests ---

func TestResolveRedirectHandler_Success(t *testing.T) {
	p := programWithJoin("https://go.example.com/r/acme?aff=1")
	st := newMockResolveStore(p)
	res := &mockResolver{result: "https://merchant.example.com/affiliates?utm_source=tracker"}

	h := NewResolveRedirectHandler(st, res)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/resolve-redirect", map[string]any{
		"programId": p.ID.String(),
	}))

	data := parseData(t, rec, http.StatusOK)
	if data["originalUrl"] != "https://go.example.com/r/acme?aff=1" {
		t.Errorf("originalUrl = %v", data["originalUrl"])
	}
	if data["finalUrl"] != "https://merchant.example.com/affiliates?utm_source=tracker" {
		t.Errorf("finalUrl = %v", data["finalUrl"])
	}
	if data["cleanedUrl"] != "https://merchant.example.com/affiliates" {
		t.Errorf("cleanedUrl = %v", data["cleanedUrl"])
	}

	// The cleaned form is what gets persisted.
	if p.FinalJoinURL == nil || *p.FinalJoinURL != "https://merchant.example.com/affiliates" {
		t.Errorf("persisted final url = %v", p.FinalJoinURL)
	}
	if res.input != "https://go.example.com/r/acme?aff=1" {
		t.Errorf("resolver got %q", res.input)
	}

	program, ok := data["program"].(map[string]any)
	if !ok {
		t.Fatalf("program not a map: %v", data["program"])
	}
	if program["final_join_url"] != "https://merchant.example.com/affiliates" {
		t.Errorf("program.final_join_url = %v", program["final_join_url"])
	}
}

func TestResolveRedirectHandler_ProgramNotFound(t *testing.T) {
	h := NewResolveRedirectHandler(newMockResolveStore(), &mockResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/resolve-redirect", map[string]any{
		"programId": uuid.NewString(),
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestResolveRedirectHandler_MissingProgramID(t *testing.T) {
	h := NewResolveRedirectHandler(newMockResolveStore(), &mockResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/resolve-redirect", map[string]any{}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestResolveRedirectHandler_MalformedProgramID(t *testing.T) {
	h := NewResolveRedirectHandler(newMockResolveStore(), &mockResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/resolve-redirect", map[string]any{
		"programId": "42",
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestResolveRedirectHandler_NoJoinURL(t *testing.T) {
	p := &models.ScrapedProgram{ID: uuid.New(), Slug: "no-join", Name: "No Join"}
	h := NewResolveRedirectHandler(newMockResolveStore(p), &mockResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/resolve-redirect", map[string]any{
		"programId": p.ID.String(),
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestResolveRedirectHandler_PersistFailure(t *testing.T) {
	p := programWithJoin("https://go.example.com/r/acme")
	st := newMockResolveStore(p)
	st.setErr = errors.New("connection reset")

	h := NewResolveRedirectHandler(st, &mockResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/resolve-redirect", map[string]any{
		"programId": p.ID.String(),
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusInternalServerError || code != "INTERNAL_ERROR" {
		t.Errorf("got %d %s", status, code)
	}
}

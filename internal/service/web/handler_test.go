package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	manager "camrand/rngpool"
	"camrand/rngpool/model"
)

type mockController struct {
	dequeueErr error
	seeds      [][]byte
	status     *model.StatusReport
}

func (m *mockController) Dequeue(_ context.Context, byteCount int) ([]byte, error) {
	if m.dequeueErr != nil {
		return nil, m.dequeueErr
	}
	out := make([]byte, byteCount)
	for i := range out {
		out[i] = byte(i)
	}
	return out, nil
}

func (m *mockController) SeedExternal(seed []byte) {
	m.seeds = append(m.seeds, seed)
}

func (m *mockController) Status() *model.StatusReport {
	if m.status != nil {
		return m.status
	}
	return &model.StatusReport{RoundState: model.StateIdle}
}

func TestHandleRandomDefaultAndExplicitSize(t *testing.T) {
	h := NewHandler(&mockController{}, 64)

	for _, tc := range []struct {
		query     string
		wantBytes int
	}{
		{"", 64},
		{"?bytes=16", 16},
		{"?bytes=1000", 1000},
	} {
		rec := httptest.NewRecorder()
		h.HandleRandom(rec, httptest.NewRequest(http.MethodGet, "/api/random"+tc.query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("query %q: status = %d, want 200", tc.query, rec.Code)
		}
		var resp randomResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("query %q: bad JSON: %v", tc.query, err)
		}
		if len(resp.RandomHex) != tc.wantBytes*2 {
			t.Errorf("query %q: hex length = %d, want %d", tc.query, len(resp.RandomHex), tc.wantBytes*2)
		}
	}
}

func TestHandleRandomRejectsBadByteCount(t *testing.T) {
	h := NewHandler(&mockController{}, 64)
	for _, q := range []string{"?bytes=0", "?bytes=-4", "?bytes=abc"} {
		rec := httptest.NewRecorder()
		h.HandleRandom(rec, httptest.NewRequest(http.MethodGet, "/api/random"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestHandleRandomBufferExhausted(t *testing.T) {
	h := NewHandler(&mockController{dequeueErr: manager.ErrBufferExhausted}, 64)
	rec := httptest.NewRecorder()
	h.HandleRandom(rec, httptest.NewRequest(http.MethodGet, "/api/random", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if !strings.HasPrefix(resp.Error, "insufficient_source") {
		t.Errorf("error = %q, want insufficient_source prefix", resp.Error)
	}
}

func TestHandleRandomMethodNotAllowed(t *testing.T) {
	h := NewHandler(&mockController{}, 64)
	rec := httptest.NewRecorder()
	h.HandleRandom(rec, httptest.NewRequest(http.MethodPost, "/api/random", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	count := 7
	mock := &mockController{status: &model.StatusReport{
		BufferedBlocks: count,
		BelowLowWater:  true,
		RoundState:     model.StateDegraded,
	}}
	h := NewHandler(mock, 64)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var report model.StatusReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if report.BufferedBlocks != count || !report.BelowLowWater || report.RoundState != model.StateDegraded {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestHandleSeed(t *testing.T) {
	mock := &mockController{}
	h := NewHandler(mock, 64)

	rec := httptest.NewRecorder()
	h.HandleSeed(rec, httptest.NewRequest(http.MethodPost, "/api/seed", bytes.NewReader([]byte("dice rolls"))))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(mock.seeds) != 1 || string(mock.seeds[0]) != "dice rolls" {
		t.Error("seed bytes did not reach the controller")
	}
}

func TestHandleSeedRejectsEmptyAndOversized(t *testing.T) {
	mock := &mockController{}
	h := NewHandler(mock, 64)

	rec := httptest.NewRecorder()
	h.HandleSeed(rec, httptest.NewRequest(http.MethodPost, "/api/seed", bytes.NewReader(nil)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	big := bytes.Repeat([]byte{0xaa}, maxSeedBytes+1)
	h.HandleSeed(rec, httptest.NewRequest(http.MethodPost, "/api/seed", bytes.NewReader(big)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: status = %d, want 413", rec.Code)
	}
	if len(mock.seeds) != 0 {
		t.Error("rejected seed reached the controller")
	}
}

func TestBasicAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := basicAuthMiddleware(next, "operator", "hunter2")

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/seed", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing credentials: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/seed", nil)
	req.SetBasicAuth("operator", "wrong")
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/seed", nil)
	req.SetBasicAuth("operator", "hunter2")
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("valid credentials: status = %d, want 204", rec.Code)
	}

	// Empty credentials disable the check entirely.
	open := basicAuthMiddleware(next, "", "")
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/seed", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("open mode: status = %d, want 204", rec.Code)
	}
}

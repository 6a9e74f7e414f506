package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/TraceLab/internal/middleware"
)

// memCache is an in-memory cache.Cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func acceptingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *calls)
	})
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	calls := 0
	store := newMemCache()
	h := middleware.Idempotency(store, time.Minute)(acceptingHandler(&calls, http.StatusAccepted))

	post(h, "/store/block", "")
	post(h, "/store/block", "")
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if store.len() != 0 {
		t.Fatal("nothing must be stored without a key")
	}
}

func TestIdempotency_RetryIsReplayed(t *testing.T) {
	calls := 0
	store := newMemCache()
	h := middleware.Idempotency(store, 10*time.Minute)(acceptingHandler(&calls, http.StatusAccepted))

	first := post(h, "/store/block", "submission-1")
	second := post(h, "/store/block", "submission-1")

	if calls != 1 {
		t.Fatalf("expected handler called once, got %d", calls)
	}
	if second.Code != http.StatusAccepted || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of %q, got %d %q", first.Body.String(), second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay marker")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content type replayed, got %q", second.Header().Get("Content-Type"))
	}
	for _, ttl := range store.ttls {
		if ttl != 10*time.Minute {
			t.Fatalf("expected ttl 10m, got %v", ttl)
		}
	}
}

func TestIdempotency_KeyScopedByPath(t *testing.T) {
	calls := 0
	h := middleware.Idempotency(newMemCache(), time.Minute)(acceptingHandler(&calls, http.StatusAccepted))

	post(h, "/store/block", "same")
	post(h, "/store/click", "same")
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestIdempotency_ServerErrorsNotCached(t *testing.T) {
	calls := 0
	h := middleware.Idempotency(newMemCache(), time.Minute)(acceptingHandler(&calls, http.StatusInternalServerError))

	post(h, "/store/block", "k")
	post(h, "/store/block", "k")
	if calls != 2 {
		t.Fatalf("expected retries after a server error to run, got %d calls", calls)
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	calls := 0
	store := newMemCache()
	h := middleware.Idempotency(store, time.Minute)(acceptingHandler(&calls, http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/", http.NoBody)
	req.Header.Set("Idempotency-Key", "key-get")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if calls != 1 || store.len() != 0 {
		t.Fatalf("GET must pass through untouched, calls=%d stored=%d", calls, store.len())
	}
}

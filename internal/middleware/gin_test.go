package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/quotaflow/quotaflow/internal/limiter"
	"github.com/quotaflow/quotaflow/internal/storage/memory"
)

func newGinRouter(l *limiter.Limiter, opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Gin(l, nil, opts))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	return r
}

func TestGinAllowed(t *testing.T) {
	l := limiter.NewLimiter(memory.NewMemoryStore(), 3, 60)
	r := newGinRouter(l, Options{})

	req := httptest.NewRequest("GET", "/ping", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Errorf("expected limit header '3', got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Errorf("expected remaining header '2', got %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected reset header to be set")
	}
}

func TestGinBlocked(t *testing.T) {
	l := limiter.NewLimiter(memory.NewMemoryStore(), 1, 60)
	r := newGinRouter(l, Options{})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("expected first request allowed, got %d", rec.Code)
		}
		if i == 1 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected status 429, got %d", rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != "60" {
				t.Errorf("expected Retry-After '60', got %q", got)
			}

			var response map[string]interface{}
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response["error"] != "Rate limit exceeded" {
				t.Errorf("unexpected error field: %v", response["error"])
			}
		}
	}
}

func TestGinStorageError(t *testing.T) {
	l := limiter.NewLimiter(&mockStoreError{}, 3, 60)

	r := newGinRouter(l, Options{})
	req := httptest.NewRequest("GET", "/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	open := newGinRouter(l, Options{FailOpen: true})
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 when failing open, got %d", rec.Code)
	}
}

func TestGinCustomKeyFn(t *testing.T) {
	l := limiter.NewLimiter(memory.NewMemoryStore(), 1, 60)
	r := newGinRouter(l, Options{
		KeyFn: func(req *http.Request) string {
			return req.Header.Get("X-API-Key")
		},
	})

	send := func(apiKey string) int {
		req := httptest.NewRequest("GET", "/ping", nil)
		req.Header.Set("X-API-Key", apiKey)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("key-a"); code != http.StatusOK {
		t.Fatalf("expected first key-a request allowed, got %d", code)
	}
	if code := send("key-a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected second key-a request blocked, got %d", code)
	}
	if code := send("key-b"); code != http.StatusOK {
		t.Fatalf("expected key-b request allowed, got %d", code)
	}
}

package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/internal/limiter"
)

// Options configures one middleware instance. The zero value uses the
// limiter's default policy, keys requests by peer address, and fails closed
// when the store is unreachable.
type Options struct {
	// MaxRequests/WindowSeconds override the limiter defaults when non-zero.
	MaxRequests   int
	WindowSeconds int

	// KeyFn overrides identifier derivation.
	KeyFn func(*http.Request) string

	// TrustProxyHeaders consults X-Forwarded-For (first entry) and X-Real-IP
	// before falling back to the peer address. Only enable behind a proxy you
	// control.
	TrustProxyHeaders bool

	// ScopeByPath namespaces the identifier with the request path, so a
	// route-specific quota stays independent from a global one for the same
	// client.
	ScopeByPath bool

	// FailOpen admits requests when the store is unreachable instead of
	// answering 503.
	FailOpen bool
}

type RateLimitMiddleware struct {
	limiter *limiter.Limiter
	logger  *zap.Logger
	opts    Options
}

func NewRateLimitMiddleware(l *limiter.Limiter, logger *zap.Logger, opts Options) *RateLimitMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.KeyFn == nil {
		opts.KeyFn = ClientAddress(opts.TrustProxyHeaders)
	}
	return &RateLimitMiddleware{
		limiter: l,
		logger:  logger,
		opts:    opts,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identifier := m.opts.KeyFn(r)
		if m.opts.ScopeByPath {
			identifier = r.URL.Path + ":" + identifier
		}

		verdict, err := m.limiter.Check(r.Context(), identifier, m.opts.MaxRequests, m.opts.WindowSeconds)
		if err != nil {
			m.logger.Error("rate limit check failed",
				zap.String("identifier", identifier),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			if m.opts.FailOpen {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}

		setQuotaHeaders(w.Header(), verdict)

		if !verdict.Allowed {
			m.logger.Warn("rate limit exceeded",
				zap.String("identifier", identifier),
				zap.String("path", r.URL.Path),
			)
			m.sendBlocked(w, verdict)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientAddress returns the default identifier derivation: trusted proxy
// headers first when enabled, then the peer address without its port.
func ClientAddress(trustProxyHeaders bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if trustProxyHeaders {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first := strings.TrimSpace(strings.Split(xff, ",")[0])
				if first != "" {
					return first
				}
			}
			if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
				return realIP
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

func setQuotaHeaders(h http.Header, v limiter.Verdict) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(v.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(v.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(v.Reset, 10))
}

func (m *RateLimitMiddleware) sendBlocked(w http.ResponseWriter, v limiter.Verdict) {
	w.Header().Set("Retry-After", strconv.Itoa(v.RetryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       "Rate limit exceeded",
		"message":     "Too many requests. Please try again later.",
		"limit":       v.Limit,
		"reset":       v.Reset,
		"retry_after": v.RetryAfter,
	})
}

package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dropin/internal/metrics"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the id assigned by the request id middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDMiddleware keeps a caller-supplied X-Request-ID or assigns a UUID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// accessLog records metrics and one log line per request, labelled by the
// chi route pattern to keep cardinality bounded.
func accessLog(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			d := time.Since(start)
			metrics.RecordRequest(route, rec.statusCode, d)
			logger.Infow("http request",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"route", route,
				"status_code", rec.statusCode,
				"duration_ms", d.Milliseconds(),
				"remote", clientIP(r),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.written {
		return
	}
	r.statusCode = code
	r.written = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}

// ipLimiter hands out one token bucket per client IP. Buckets idle longer
// than ttl are evicted; by then a bucket has refilled completely, so a fresh
// one behaves the same.
type ipLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *cache.Cache
}

const minLimiterTTL = time.Minute

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return newIPLimiterTTL(perSecond, burst, limiterTTL(perSecond, burst))
}

func newIPLimiterTTL(perSecond float64, burst int, ttl time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: cache.New(ttl, ttl),
	}
}

// limiterTTL is the time an empty bucket takes to refill, floored at
// minLimiterTTL.
func limiterTTL(perSecond float64, burst int) time.Duration {
	if perSecond <= 0 {
		return minLimiterTTL
	}
	refill := time.Duration(float64(burst) / perSecond * float64(time.Second))
	if refill < minLimiterTTL {
		return minLimiterTTL
	}
	return refill
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if x, ok := l.buckets.Get(ip); ok {
		lim := x.(*rate.Limiter)
		l.buckets.SetDefault(ip, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets.SetDefault(ip, lim)
	return lim
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(clientIP(r)).Allow() {
			respondWithError(w, r, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

package router

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/graph"
	"github.com/ovaphlow/pitchfork/service-user-graphql/pkg/database"
)

const (
	internalErrorBody = "INTERNAL_SERVER_ERROR"
	healthTimeout     = 2 * time.Second
	requestIDHeader   = "X-Request-ID"
)

// explorerCSP lets the Playground page load its bundle from the CDN.
const explorerCSP = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net; " +
	"style-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net https://fonts.googleapis.com; " +
	"font-src 'self' data: https://cdn.jsdelivr.net https://fonts.gstatic.com; " +
	"img-src 'self' data: https://cdn.jsdelivr.net; " +
	"connect-src 'self'; object-src 'none'; base-uri 'self';"

// HandlerFunc is a handler that reports failures instead of writing them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// Recover is the last stage for h: a *graph.BadRequest becomes 400 with its
// text, any other error or a panic becomes an opaque 500.
func Recover(logger *zap.SugaredLogger, h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lrw := &loggingResponseWriter{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Errorw("handler panicked", "panic", p, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
				if lrw.status == 0 {
					writeText(lrw, http.StatusInternalServerError, internalErrorBody)
				}
			}
		}()

		err := h(lrw, r)
		if err == nil {
			return
		}
		if lrw.status != 0 {
			logger.Warnw("handler failed after writing response", "err", err, "path", r.URL.Path)
			return
		}
		var br *graph.BadRequest
		if errors.As(err, &br) {
			writeText(lrw, http.StatusBadRequest, br.Error())
			return
		}
		logger.Errorw("handler failed", "err", err, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
		writeText(lrw, http.StatusInternalServerError, internalErrorBody)
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

type requestIDKey struct{}

// RequestIDFrom returns the request ID set by RequestIDMiddleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware propagates a client supplied X-Request-ID or assigns a
// new one, and echoes it on the response.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"request_id", RequestIDFrom(r.Context()),
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
// Handlers may replace the Content-Security-Policy it sets.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only over TLS, 30 days.
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	limiterIdleTTL    = 3 * time.Minute
	limiterMaxClients = 10000
)

type clientEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimiter keeps one token bucket per client IP. Entries idle for
// idleTTL are swept, and once maxClients are tracked new clients are
// refused until a sweep frees room.
type clientLimiter struct {
	mu         sync.Mutex
	rps        rate.Limit
	burst      int
	idleTTL    time.Duration
	maxClients int
	clients    map[string]*clientEntry
	lastSweep  time.Time
	now        func() time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		idleTTL:    limiterIdleTTL,
		maxClients: limiterMaxClients,
		clients:    make(map[string]*clientEntry),
		now:        time.Now,
	}
}

func (l *clientLimiter) allow(client string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	e, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= l.maxClients {
			if now.Sub(l.lastSweep) >= time.Second {
				l.sweep(now)
			}
			if len(l.clients) >= l.maxClients {
				l.mu.Unlock()
				return false
			}
		}
		e = &clientEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// sweep drops idle clients. Callers hold mu.
func (l *clientLimiter) sweep(now time.Time) {
	for k, e := range l.clients {
		if now.Sub(e.seen) >= l.idleTTL {
			delete(l.clients, k)
		}
	}
	l.lastSweep = now
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware answers 429 once a client exceeds rps requests per
// second with the given burst.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	l := newClientLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// explorerRoute serves page with the Playground CSP behind the same recovery
// stage as the execution route.
func explorerRoute(logger *zap.SugaredLogger, page http.HandlerFunc) http.Handler {
	return Recover(logger, func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Security-Policy", explorerCSP)
		page(w, r)
		return nil
	})
}

// Options selects the paths and optional behaviour of the routes.
type Options struct {
	GraphQLPath     string
	ExplorerEnabled bool
	ExplorerPath    string
	RateLimitRPS    float64
	RateLimitBurst  int
}

func (o Options) withDefaults() Options {
	if o.GraphQLPath == "" {
		o.GraphQLPath = "/graphql"
	}
	if o.ExplorerPath == "" {
		o.ExplorerPath = "/playground"
	}
	return o
}

// pattern builds a method-qualified ServeMux pattern; "/" matches only the root.
func pattern(method, path string) string {
	if path == "/" {
		return method + " /{$}"
	}
	return method + " " + path
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
// db backs /health and gatherer backs /metrics; either may be nil to skip the route.
func RegisterRoutes(logger *zap.SugaredLogger, gql *graph.Handler, db database.Pinger, gatherer prometheus.Gatherer, opts Options) http.Handler {
	opts = opts.withDefaults()
	mux := http.NewServeMux()

	var execute http.Handler = Recover(logger, gql.ServeGraphQL)
	if opts.RateLimitRPS > 0 {
		execute = RateLimitMiddleware(opts.RateLimitRPS, opts.RateLimitBurst)(execute)
	}
	mux.Handle(pattern(http.MethodPost, opts.GraphQLPath), execute)

	if opts.ExplorerEnabled {
		mux.Handle(pattern(http.MethodGet, opts.ExplorerPath), explorerRoute(logger, graph.Explorer("Users GraphQL", opts.GraphQLPath)))
	}

	if db != nil {
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			if err := database.Check(r.Context(), db, healthTimeout); err != nil {
				logger.Warnw("health check failed", "err", err)
				writeText(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
			writeText(w, http.StatusOK, "ok")
		})
	}

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// request id first so every later stage can log it
	return RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
}

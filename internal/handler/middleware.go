package handler

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"golang.org/x/time/rate"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/auth"
	appI18n "github.com/mathpath/mathexam/internal/i18n"
	"github.com/mathpath/mathexam/internal/model"
)

// authenticate requires a valid bearer credential and stores the identity
// in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.signer.Verify(jwtauth.TokenFromHeader(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := model.ContextWithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects callers without the admin role.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.VerifyAdmin(identity(r)); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, envelope{
				Error: appI18n.T(r.Context(), "TooManyRequests"),
				Code:  "TooManyRequests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the request's remote host; middleware.RealIP has already
// applied X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client IP and sweeps idle entries.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	stop     chan struct{}
	once     sync.Once
}

// defaultRateLimit is the per-minute allowance used when none is configured.
const defaultRateLimit = 30

// newIPLimiter allows perWindow requests per window for each IP. Non-positive
// arguments fall back to defaultRateLimit per minute.
func newIPLimiter(perWindow int, window time.Duration) *ipLimiter {
	if perWindow <= 0 {
		perWindow = defaultRateLimit
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &ipLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
		stop:     make(chan struct{}),
	}
	expiry := window * 3
	if expiry < time.Minute {
		expiry = time.Minute
	}
	go l.sweep(expiry)
	return l
}

func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

func (l *ipLimiter) sweep(expiry time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if time.Since(v.lastSeen) > expiry {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *ipLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// cors allows the configured origins; "*" allows any origin.
func (h *Handler) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(h.config.CORSOrigins))
	for _, o := range h.config.CORSOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, Accept-Language")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// forbidIfNot returns ErrForbidden unless the caller is userID or an admin.
func forbidIfNot(r *http.Request, userID string) error {
	id := identity(r)
	if id == nil {
		return apperr.ErrUnauthorized
	}
	if id.UserID != userID && !id.IsAdmin() {
		return apperr.ErrForbidden
	}
	return nil
}

package api

import (
	"context"
	"crypto/sha256"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/discador/internal/config"
)

// anonymousOperator is used when no API keys are configured
const anonymousOperator = "anonymous"

type operatorCtxKey struct{}

// Operator returns the authenticated operator name of the request
func Operator(ctx context.Context) string {
	name, _ := ctx.Value(operatorCtxKey{}).(string)
	return name
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// keyring checks operator keys against bcrypt hashes. Verified keys are
// remembered by digest so bcrypt runs once per key.
type keyring struct {
	keys []config.APIKey

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

func newKeyring(keys []config.APIKey) *keyring {
	return &keyring{
		keys:     keys,
		verified: make(map[[sha256.Size]byte]string),
	}
}

func (k *keyring) empty() bool {
	return len(k.keys) == 0
}

// lookup returns the operator owning key
func (k *keyring) lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	digest := sha256.Sum256([]byte(key))

	k.mu.RLock()
	name, ok := k.verified[digest]
	k.mu.RUnlock()
	if ok {
		return name, true
	}

	for _, candidate := range k.keys {
		if bcrypt.CompareHashAndPassword([]byte(candidate.Hash), []byte(key)) == nil {
			k.mu.Lock()
			k.verified[digest] = candidate.Name
			k.mu.Unlock()
			return candidate.Name, true
		}
	}
	return "", false
}

// authMiddleware checks operator API key authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.keys.empty() {
			// No API keys configured, allow all
			ctx := context.WithValue(r.Context(), operatorCtxKey{}, anonymousOperator)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// Check Authorization header
		auth := r.Header.Get("Authorization")
		if auth == "" {
			// Also check X-API-Key header
			auth = r.Header.Get("X-API-Key")
		}

		// Parse Bearer token
		auth = strings.TrimPrefix(auth, "Bearer ")

		operator, ok := s.keys.lookup(auth)
		if !ok {
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), operatorCtxKey{}, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// quotaMiddleware consumes one operator action per request
func (s *Server) quotaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.svc.Quota == nil {
			next.ServeHTTP(w, r)
			return
		}

		operator := Operator(r.Context())
		res := s.svc.Quota.Allow(operator)
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			s.logger.Warn("operator quota exceeded",
				"operator", operator,
				"scope", res.Scope,
				"window", res.Window,
				"retry_after", res.RetryAfter,
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.sendError(w, http.StatusTooManyRequests, "quota exceeded: "+string(res.Scope)+" "+string(res.Window)+" limit reached")
			return
		}

		next.ServeHTTP(w, r)
	})
}

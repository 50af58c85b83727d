package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limits are per-client request budgets for each route group.
type Limits struct {
	AuthPerMinute   int
	OrdersPerMinute int
	ReadsPerMinute  int
}

// RateLimiter keeps one token bucket per client and route group.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	authLimit   rate.Limit
	ordersLimit rate.Limit
	readsLimit  rate.Limit
	idleTTL     time.Duration
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60.0)
}

func NewRateLimiter(l Limits) *RateLimiter {
	return &RateLimiter{
		visitors:    make(map[string]*visitor),
		authLimit:   perMinute(l.AuthPerMinute),
		ordersLimit: perMinute(l.OrdersPerMinute),
		readsLimit:  perMinute(l.ReadsPerMinute),
		idleTTL:     3 * time.Minute,
	}
}

// group buckets a request path and returns the budget that applies to it.
func (rl *RateLimiter) group(path string) (string, rate.Limit, int) {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return "auth", rl.authLimit, 1
	case strings.HasPrefix(path, "/api/v1/orders"):
		return "orders", rl.ordersLimit, 10
	default:
		return "reads", rl.readsLimit, 50
	}
}

func (rl *RateLimiter) getLimiter(path, clientID string) *rate.Limiter {
	name, limit, burst := rl.group(path)
	key := clientID + ":" + name

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(limit, burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops idle visitors every minute until ctx is cancelled.
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, key)
		}
	}
}

// Middleware limits by authenticated user when known, otherwise by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if p, ok := auth.PrincipalFrom(c); ok {
			clientID = p.UserID
		}

		if !rl.getLimiter(c.Request.URL.Path, clientID).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// TokenValidator turns a bearer token into the caller's principal.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Principal, error)
}

// JWTAuth requires a valid bearer token and stores the principal on the
// context under auth.PrincipalKey.
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		principal, err := validator.ValidateToken(bearerToken[1])
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("rejected bearer token")
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set(auth.PrincipalKey, *principal)
		c.Next()
	}
}

// RequireRole admits only callers holding one of roles.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			c.Abort()
			return
		}
		for _, r := range roles {
			if principal.Role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "role "+string(principal.Role)+" may not access this resource")
		c.Abort()
	}
}

// RequestLogger logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}

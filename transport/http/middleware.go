package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairgate/adapters/tokenizer"
	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const operatorKey = "operator"

// AuthMiddleware accepts either a static API key (X-API-Key header or api_key
// query parameter) or a bearer operator token
func AuthMiddleware(apiKeys []string, tok ports.Tokenizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		if key != "" {
			if !validAPIKey(apiKeys, key) {
				c.AbortWithStatusJSON(http.StatusForbidden, errorBody("invalid API key"))
				return
			}
			c.Set(operatorKey, ports.Operator{Subject: "api-key", Scope: tokenizer.ScopeAdmin})
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if tok == nil || len(auth) < 8 || auth[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("API key or bearer token required"))
			return
		}

		op, err := tok.Verify(auth[7:])
		if err != nil {
			if errors.Is(err, core.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("token expired"))
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid token"))
			}
			return
		}

		c.Set(operatorKey, op)
		c.Next()
	}
}

func validAPIKey(keys []string, key string) bool {
	for _, k := range keys {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// RequireScope rejects operators whose token scope differs from scope
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _ := c.Get(operatorKey)
		op, ok := v.(ports.Operator)
		if !ok || !strings.EqualFold(op.Scope, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody("insufficient scope"))
			return
		}
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client IP
func RateLimitMiddleware(limit rate.Limit, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = 1
	}

	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
		swept    = time.Now()
	)

	allow := func(ip string) bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(swept) > time.Minute {
			for k, v := range visitors {
				if now.Sub(v.lastSeen) > 10*time.Minute {
					delete(visitors, k)
				}
			}
			swept = now
		}

		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(limit, burst)}
			visitors[ip] = v
		}
		v.lastSeen = now
		return v.limiter.Allow()
	}

	return func(c *gin.Context) {
		if !allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody("too many requests, try again later"))
			return
		}
		c.Next()
	}
}

// RequestLogger logs every request once it completes
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request rejected", fields...)
		default:
			log.Info("request served", fields...)
		}
	}
}

// Package middleware holds the global fiber middleware of the service: CORS,
// request ids, health, API-key auth and rate limiting.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"

	"snapshift/internal/config"
	"snapshift/internal/infra/logging"
	"snapshift/internal/infra/tokens"
)

const (
	// HealthPath answers liveness probes.
	HealthPath   = "/ops/health"
	apiKeyHeader = "X-API-Key"
	apiKeyLocal  = "api_key"
)

var errTooManyRequests = fiber.NewError(fiber.StatusTooManyRequests, "Too Many Requests")

// limiters builds rate limiters that share one storage.
type limiters struct {
	cfg    config.Config
	store  fiber.Storage
	tokens *tokens.Store

	mu      sync.RWMutex
	byLimit map[int]fiber.Handler
}

func newLimiters(cfg config.Config, store fiber.Storage, tk *tokens.Store) *limiters {
	return &limiters{cfg: cfg, store: store, tokens: tk, byLimit: make(map[int]fiber.Handler)}
}

// forLimit returns a cached limiter for the given token limit, creating one if needed.
func (l *limiters) forLimit(limit int) fiber.Handler {
	l.mu.RLock()
	h, ok := l.byLimit[limit]
	l.mu.RUnlock()
	if ok {
		return h
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.byLimit[limit]; ok {
		return h
	}
	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        l.interval(),
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			token, _ := c.Locals(apiKeyLocal).(string)
			return "token:" + token
		},
		LimitReached: func(c *fiber.Ctx) error {
			token, _ := c.Locals(apiKeyLocal).(string)
			logging.Warn("Rate limit exceeded", "token", mask(token), "path", c.Path())
			return errTooManyRequests
		},
	})
	l.byLimit[limit] = h
	return h
}

func (l *limiters) interval() time.Duration {
	if l.cfg.RateLimiter.Interval > 0 {
		return l.cfg.RateLimiter.Interval
	}
	return time.Minute
}

// tokenRateLimit applies the per-token limit of authenticated requests.
func (l *limiters) tokenRateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals(apiKeyLocal).(string)
		if !ok || token == "" || l.tokens == nil {
			return c.Next()
		}
		limit := l.tokens.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		return l.forLimit(limit)(c)
	}
}

// userRateLimit limits anonymous requests per client fingerprint.
func (l *limiters) userRateLimit() fiber.Handler {
	if l.cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               l.cfg.RateLimiter.UserLimit,
		Expiration:        l.interval(),
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "user:" + fingerprint(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", fingerprint(c), "path", c.Path())
			return errTooManyRequests
		},
	})
	return func(c *fiber.Ctx) error {
		// Authenticated requests are limited per token instead.
		if token, ok := c.Locals(apiKeyLocal).(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

func fingerprint(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

func mask(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

// limiterStorage prefers redis and falls back to memory when redis is not configured
// or cannot be reached.
func limiterStorage(cfg config.Config) (store fiber.Storage) {
	store = memoryStorage.New()
	if cfg.Cache.RedisHost == "" {
		return store
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Cache.RedisHost},
		Database: cfg.Cache.RateLimitDB,
	})
	logging.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	return store
}

func allowOrigins(cfg config.Config) string {
	if len(cfg.CORS.AllowOrigins) == 0 {
		return config.DefaultOrigin
	}
	return strings.Join(cfg.CORS.AllowOrigins, ",")
}

// Register attaches the global middleware to app. tk may be nil, which disables
// API-key auth and per-token limits.
func Register(app *fiber.App, cfg config.Config, tk *tokens.Store) {
	if !cfg.Auth.Enabled {
		tk = nil
	}
	l := newLimiters(cfg, limiterStorage(cfg), tk)

	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins(cfg),
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept," + apiKeyHeader,
		ExposeHeaders: fiber.HeaderContentDisposition,
	}))

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint: HealthPath,
	}))

	if tk != nil {
		app.Use(keyauth.New(keyauth.Config{
			KeyLookup:  "header:" + apiKeyHeader,
			ContextKey: apiKeyLocal,
			Validator: func(c *fiber.Ctx, key string) (bool, error) {
				if err := tk.Check(key); err != nil {
					return false, err
				}
				return true, nil
			},
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions || c.Get(apiKeyHeader) == ""
			},
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				// keyauth may pass a nil error.
				if errors.Is(err, tokens.ErrStoreNotReady) {
					return fiber.NewError(fiber.StatusServiceUnavailable, "API keys are not available yet.")
				}
				return fiber.NewError(fiber.StatusUnauthorized, "Invalid API key.")
			},
		}))
		app.Use(l.tokenRateLimit())
	}

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(l.userRateLimit())
	}

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			status = fe.Code
		case err != nil:
			status = fiber.StatusInternalServerError
		}
		logging.Info("Request handled",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		)
		return err
	})
}

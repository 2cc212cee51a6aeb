package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/nestgold/nestgold/internal/pkg/cache"
	"github.com/nestgold/nestgold/internal/pkg/env"
)

var sessionStore *session.Store

// NewSessionStore creates the Redis-backed session store. The memory DB
// driver keeps sessions in process memory as well.
func NewSessionStore() *session.Store {
	cfg := session.Config{
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		CookieSameSite: fiber.CookieSameSiteLaxMode,
		Expiration:     env.GetEnvDuration("SESSION_TTL", 8*time.Hour),
		KeyLookup:      "cookie:nestgold_session",
	}

	if env.GetEnv("DB_DRIVER", "") != "memory" {
		opts := cache.Options()
		host := "localhost"
		port := 6379
		if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}

		// Sessions live in their own Redis database, away from the job queue.
		cfg.Storage = redis.New(redis.Config{
			Host:     host,
			Port:     port,
			Password: opts.Password,
			Database: env.GetEnvInt("SESSION_REDIS_DB", 1),
			Reset:    false,
		})
	}

	sessionStore = session.New(cfg)
	return sessionStore
}

// SetSessionStore replaces the store, e.g. with an in-memory one.
func SetSessionStore(s *session.Store) {
	sessionStore = s
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// SetSessionValue stores a key-value pair in the user's individual session
func SetSessionValue(c *fiber.Ctx, key string, value string) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}

	sess.Set(key, value)
	return sess.Save()
}

// GetSessionValue retrieves a value by key from the user's individual session
func GetSessionValue(c *fiber.Ctx, key string) string {
	if sessionStore == nil {
		return ""
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return ""
	}

	value := sess.Get(key)
	if value == nil {
		return ""
	}

	if strValue, ok := value.(string); ok {
		return strValue
	}

	return ""
}

package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nestgold/nestgold/app/repository"
	"github.com/nestgold/nestgold/internal/pkg/cache"
	"github.com/nestgold/nestgold/internal/pkg/session"
	"github.com/nestgold/nestgold/internal/pkg/usercontext"
)

// LoginLimiter throttles password guessing per username.
type LoginLimiter interface {
	Blocked(username string) bool
	Fail(username string)
	Reset(username string)
}

// cacheLoginLimiter counts failed logins in Redis. Cache errors never lock
// anyone out.
type cacheLoginLimiter struct {
	maxAttempts int
	window      time.Duration
}

// NewCacheLoginLimiter blocks a username after maxAttempts failures within
// window of the last failure.
func NewCacheLoginLimiter(maxAttempts int, window time.Duration) LoginLimiter {
	return &cacheLoginLimiter{maxAttempts: maxAttempts, window: window}
}

func loginFailureKey(username string) string {
	return "login_failures:" + strings.ToLower(username)
}

func (l *cacheLoginLimiter) Blocked(username string) bool {
	n, err := cache.GetInt(loginFailureKey(username))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[HTTP] login limiter unavailable: %v", err)
		}
		return false
	}
	return n >= l.maxAttempts
}

func (l *cacheLoginLimiter) Fail(username string) {
	key := loginFailureKey(username)
	n, err := cache.GetInt(key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return
	}
	if err := cache.Set(key, n+1, l.window); err != nil {
		log.Warnf("[HTTP] failed to record login failure: %v", err)
	}
}

func (l *cacheLoginLimiter) Reset(username string) {
	_ = cache.Delete(loginFailureKey(username))
}

// AuthController handles admin login and logout.
type AuthController struct {
	users   repository.UserRepository
	limiter LoginLimiter
}

// NewAuthController creates the controller; limiter may be nil.
func NewAuthController(users repository.UserRepository, limiter LoginLimiter) *AuthController {
	return &AuthController{users: users, limiter: limiter}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin checks credentials and starts a session.
func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "username and password are required"})
	}

	if ac.limiter != nil && ac.limiter.Blocked(username) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_attempts", "message": "too many failed logins, try again later"})
	}

	// notice: do not tell the caller which part of the login was wrong
	user, err := ac.users.GetByUsername(username)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, err)
	}
	if user == nil || !user.CheckPassword(req.Password) {
		if ac.limiter != nil {
			ac.limiter.Fail(username)
		}
		log.Warnf("[HTTP] failed login for %q from %s", username, c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials", "message": "invalid username or password"})
	}

	store := session.GetSessionStore()
	if store == nil {
		return respondError(c, errors.New("session store not initialized"))
	}
	sess, err := store.Get(c)
	if err != nil {
		return respondError(c, fmt.Errorf("get session: %w", err))
	}
	if err := sess.Regenerate(); err != nil {
		return respondError(c, fmt.Errorf("regenerate session: %w", err))
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Username)
	sess.Set(usercontext.KeyIsAdmin, user.IsAdmin())
	if err := sess.Save(); err != nil {
		return respondError(c, fmt.Errorf("save session: %w", err))
	}

	if ac.limiter != nil {
		ac.limiter.Reset(username)
	}
	if err := ac.users.TouchLastLogin(user.ID, time.Now()); err != nil {
		log.Warnf("[HTTP] failed to update last login for user %d: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"message": "logged in",
		"user":    fiber.Map{"id": user.ID, "username": user.Username, "role": user.Role},
	})
}

// HandleLogout ends the session.
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	store := session.GetSessionStore()
	if store == nil {
		return c.JSON(fiber.Map{"message": "logged out"})
	}
	sess, err := store.Get(c)
	if err != nil {
		return c.JSON(fiber.Map{"message": "logged out"})
	}
	if err := sess.Destroy(); err != nil {
		return respondError(c, fmt.Errorf("destroy session: %w", err))
	}
	return c.JSON(fiber.Map{"message": "logged out"})
}

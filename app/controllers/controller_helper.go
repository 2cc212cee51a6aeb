package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/nestgold/nestgold/internal/pkg/billing"
	"github.com/nestgold/nestgold/internal/pkg/trays"
)

const requestTimeout = 20 * time.Second

// requestContext carries the audit actor set by middleware and bounds the
// work done for one request.
func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	raw := strings.TrimSpace(c.Params(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, &billing.ValidationError{Message: "invalid " + name}
	}
	return uint(id), nil
}

// queryInt reads a non-negative integer query value, falling back to def.
func queryInt(c *fiber.Ctx, name string, def int) int {
	v := c.QueryInt(name, def)
	if v < 0 {
		return def
	}
	return v
}

// bindJSON parses the request body into out.
func bindJSON(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return &billing.ValidationError{Message: "invalid request body"}
	}
	return nil
}

// respondError maps service errors onto JSON responses.
func respondError(c *fiber.Ctx, err error) error {
	var ve *billing.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": ve.Message})
	case errors.Is(err, billing.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, trays.ErrNoTraysRemaining):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"warning": err.Error()})
	case errors.Is(err, billing.ErrPlanRecommended):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	case errors.Is(err, billing.ErrInitiationDisabled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payment_unavailable", "message": err.Error()})
	case errors.Is(err, billing.ErrInitiationFailed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_failed", "message": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "timeout", "message": "request timed out"})
	}
	log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "something went wrong"})
}

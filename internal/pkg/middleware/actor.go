package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/audit"
	"github.com/nestgold/nestgold/internal/pkg/usercontext"
)

// requestIDLocal is the Locals key fiber's requestid middleware writes to.
const requestIDLocal = "requestid"

// AuditActor stores the acting party on the request's user context so the
// audit trail can attribute changes. Logged-in users are recorded as
// themselves; everyone else gets actorType.
func AuditActor(actorType string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := audit.Actor{Type: actorType, RequestID: RequestID(c)}
		if userCtx := usercontext.GetUserContext(c); userCtx.IsLoggedIn {
			actor.Type = models.ActorTypeCustomer
			if userCtx.IsAdmin {
				actor.Type = models.ActorTypeAdmin
			}
			actor.ID = strconv.FormatUint(uint64(userCtx.UserID), 10)
		}
		c.SetUserContext(audit.WithActor(c.UserContext(), actor))
		return c.Next()
	}
}

// RequestID returns the id assigned by the requestid middleware.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestIDLocal).(string); ok && id != "" {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}

package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nestgold/nestgold/app/controllers"
	"github.com/nestgold/nestgold/internal/pkg/middleware"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h HttpRouter) subscriptions() *controllers.SubscriptionController {
	return controllers.NewSubscriptionController(h.deps.Billing)
}

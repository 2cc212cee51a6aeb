package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nestgold/nestgold/app/controllers"
	"github.com/nestgold/nestgold/app/repository"
	"github.com/nestgold/nestgold/internal/pkg/billing"
)

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	Billing      *billing.Service
	Users        repository.UserRepository
	Queue        repository.QueueRepository
	QueueStats   controllers.QueueStats
	LoginLimiter controllers.LoginLimiter

	CallbackToken  string
	CallbackSecret string
}

// Router registers a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Install HttpRouter first so the UserContext middleware runs before the
	// API routes.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

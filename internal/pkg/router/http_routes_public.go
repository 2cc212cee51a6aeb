package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nestgold/nestgold/app/controllers"
	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	customer := middleware.AuditActor(models.ActorTypeCustomer)
	gateway := middleware.AuditActor(models.ActorTypeGateway)

	// Payment tracking and receipts
	track := controllers.NewTrackController(h.deps.Billing)
	app.Get("/track/:token", customer, track.HandleTrack)
	app.Get("/track/:token/receipt", customer, track.HandleTrackReceipt)

	// Feedback
	app.Post("/feedback", customer, h.subscriptions().HandleFeedback)

	// M-Pesa STK callbacks (token and signature verified in controller)
	callbacks := controllers.NewCallbackController(h.deps.Billing, h.deps.CallbackToken, h.deps.CallbackSecret)
	app.Post("/payments/callback", gateway, callbacks.HandleCallback)
	app.Post("/mpesa_callback", gateway, callbacks.HandleCallback)
	app.Post("/callback", gateway, callbacks.HandleCallback)

	// Auth
	auth := controllers.NewAuthController(h.deps.Users, h.deps.LoginLimiter)
	app.Post("/login", auth.HandleLogin)
	app.Post("/logout", middleware.RequireAuth, auth.HandleLogout)
}

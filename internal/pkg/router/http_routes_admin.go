package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nestgold/nestgold/app/controllers"
	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.RequireAdmin, middleware.AuditActor(models.ActorTypeAdmin))
	admin := controllers.NewAdminController(h.deps.Billing)
	adminGroup.Get("/dashboard", admin.HandleDashboard)

	// Subscriptions and deliveries
	adminGroup.Get("/subscriptions", admin.HandleListSubscriptions)
	adminGroup.Get("/subscriptions/:id", admin.HandleGetSubscription)
	adminGroup.Put("/subscriptions/:id", admin.HandleEditSubscription)
	adminGroup.Post("/subscriptions/:id/cancel", admin.HandleCancelSubscription)
	adminGroup.Delete("/subscriptions/:id", admin.HandleDeleteSubscription)
	adminGroup.Post("/subscriptions/:id/deliveries", admin.HandleRecordDelivery)
	adminGroup.Post("/subscriptions/status-sweep", admin.HandleStatusSweep)

	// Payments
	adminGroup.Get("/payments", admin.HandleListPayments)
	adminGroup.Post("/payments/:id/confirm", admin.HandleConfirmPayment)
	adminGroup.Delete("/payments/:id", admin.HandleDeletePayment)

	// Plans
	adminGroup.Get("/plans", admin.HandleListPlans)
	adminGroup.Post("/plans", admin.HandleCreatePlan)
	adminGroup.Put("/plans/:id", admin.HandleUpdatePlan)
	adminGroup.Delete("/plans/:id", admin.HandleDeletePlan)

	// Settings, feedback, audit trail
	adminGroup.Get("/payment-config", admin.HandleGetPaymentConfig)
	adminGroup.Put("/payment-config", admin.HandleUpdatePaymentConfig)
	adminGroup.Get("/feedback", admin.HandleListFeedback)
	adminGroup.Get("/audit-logs", admin.HandleListAuditLogs)

	// Queue monitor
	if h.deps.Queue != nil {
		queues := controllers.NewAdminQueueController(h.deps.Queue, h.deps.QueueStats)
		adminGroup.Get("/queues", queues.HandleAdminQueues)
		adminGroup.Delete("/queues/:key", queues.HandleAdminQueueDelete)
	}
}

package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/billing"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ============================================================================
// ADMIN CONTROLLER - Service Pattern
// ============================================================================

// AdminController handles the admin JSON API on top of the billing service.
type AdminController struct {
	svc *billing.Service
}

func NewAdminController(svc *billing.Service) *AdminController {
	return &AdminController{svc: svc}
}

func pageSize(c *fiber.Ctx) int {
	limit := queryInt(c, "limit", defaultPageSize)
	if limit == 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}

// HandleDashboard returns the admin home figures.
func (ac *AdminController) HandleDashboard(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	d, err := ac.svc.Dashboard(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(d)
}

// ============================================================================
// SUBSCRIPTIONS
// ============================================================================

func (ac *AdminController) HandleListSubscriptions(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	filter := billing.SubscriptionFilter{
		Status: c.Query("status"),
		PlanID: uint(queryInt(c, "plan_id", 0)),
		Phone:  c.Query("phone"),
		Limit:  pageSize(c),
		Offset: queryInt(c, "offset", 0),
	}
	subs, err := ac.svc.ListSubscriptions(ctx, filter)
	if err != nil {
		return respondError(c, err)
	}

	now := ac.svc.Now()
	type row struct {
		models.Subscription
		EffectiveStatus models.SubscriptionStatus `json:"effective_status"`
	}
	rows := make([]row, 0, len(subs))
	for _, sub := range subs {
		rows = append(rows, row{Subscription: sub, EffectiveStatus: sub.EffectiveStatus(now)})
	}
	return c.JSON(fiber.Map{"subscriptions": rows, "limit": filter.Limit, "offset": filter.Offset})
}

func (ac *AdminController) HandleGetSubscription(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := ac.svc.GetSubscription(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	deliveries, err := ac.svc.ListDeliveries(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	payments, err := ac.svc.ListPayments(ctx, billing.PaymentFilter{SubscriptionID: id, Limit: maxPageSize})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"subscription":     sub,
		"effective_status": sub.EffectiveStatus(ac.svc.Now()),
		"deliveries":       deliveries,
		"payments":         payments,
	})
}

func (ac *AdminController) HandleEditSubscription(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var in billing.EditSubscriptionInput
	if err := bindJSON(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := ac.svc.EditSubscription(ctx, id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

func (ac *AdminController) HandleCancelSubscription(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := ac.svc.CancelSubscription(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub, "message": "Subscription cancelled"})
}

// HandleDeleteSubscription deletes a subscription without history and cancels
// one with history.
func (ac *AdminController) HandleDeleteSubscription(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	deleted, sub, err := ac.svc.DeleteSubscription(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	if deleted {
		return c.JSON(fiber.Map{"deleted": true, "message": "Subscription deleted"})
	}
	return c.JSON(fiber.Map{
		"deleted":      false,
		"subscription": sub,
		"message":      "Subscription has payment or delivery history and was cancelled instead",
	})
}

// HandleRecordDelivery logs a delivery. Delivering with no trays left answers
// 409 with a warning and writes nothing.
func (ac *AdminController) HandleRecordDelivery(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var in billing.DeliveryInput
	if err := bindJSON(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	delivery, sub, err := ac.svc.RecordDelivery(ctx, id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"delivery": delivery, "subscription": sub})
}

// ============================================================================
// PAYMENTS
// ============================================================================

func (ac *AdminController) HandleListPayments(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	filter := billing.PaymentFilter{
		Status:         c.Query("status"),
		PaymentStatus:  c.Query("payment_status"),
		SubscriptionID: uint(queryInt(c, "subscription_id", 0)),
		Limit:          pageSize(c),
		Offset:         queryInt(c, "offset", 0),
	}
	payments, err := ac.svc.ListPayments(ctx, filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments, "limit": filter.Limit, "offset": filter.Offset})
}

type confirmPaymentRequest struct {
	TransactionReference string `json:"transaction_reference"`
	Notes                string `json:"notes"`
}

// HandleConfirmPayment marks a manual payment as received.
func (ac *AdminController) HandleConfirmPayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req confirmPaymentRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	out, err := ac.svc.ConfirmPayment(ctx, id, req.TransactionReference, req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"payment":        out.Payment,
		"subscription":   out.Subscription,
		"trays_credited": out.Transition.TraysCredited,
		"applied":        out.Transition.Applied,
	})
}

func (ac *AdminController) HandleDeletePayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := ac.svc.DeletePayment(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"deleted":              true,
		"trays_reversed":       res.TraysReversed,
		"subscription":         res.Subscription,
		"subscription_deleted": res.SubscriptionDeleted,
	})
}

// ============================================================================
// PLANS
// ============================================================================

func (ac *AdminController) HandleListPlans(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	plans, err := ac.svc.ListPlans(ctx, false)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func (ac *AdminController) HandleCreatePlan(c *fiber.Ctx) error {
	var in billing.PlanInput
	if err := bindJSON(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	plan, err := ac.svc.CreatePlan(ctx, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"plan": plan})
}

func (ac *AdminController) HandleUpdatePlan(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var in billing.PlanInput
	if err := bindJSON(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	plan, err := ac.svc.UpdatePlan(ctx, id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plan": plan})
}

func (ac *AdminController) HandleDeletePlan(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := ac.svc.DeletePlan(ctx, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// ============================================================================
// SETTINGS, FEEDBACK, AUDIT
// ============================================================================

func (ac *AdminController) HandleGetPaymentConfig(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	cfg, err := ac.svc.GetPaymentConfig(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payment_config": cfg})
}

func (ac *AdminController) HandleUpdatePaymentConfig(c *fiber.Ctx) error {
	var in models.PaymentConfig
	if err := bindJSON(c, &in); err != nil {
		return respondError(c, err)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	cfg, err := ac.svc.UpdatePaymentConfig(ctx, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payment_config": cfg})
}

func (ac *AdminController) HandleListFeedback(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	feedback, err := ac.svc.ListFeedback(ctx, pageSize(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"feedback": feedback})
}

// HandleListAuditLogs lists audit entries, optionally for one table and row.
func (ac *AdminController) HandleListAuditLogs(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	logs, err := ac.svc.ListAuditLogs(ctx, c.Query("table"), c.Query("row_pk"), pageSize(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"audit_logs": logs})
}

// HandleStatusSweep expires lapsed subscriptions right away instead of
// waiting for the background sweep.
func (ac *AdminController) HandleStatusSweep(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	changed, err := ac.svc.SyncSubscriptionStatuses(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"expired": changed})
}

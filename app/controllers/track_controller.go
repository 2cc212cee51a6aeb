package controllers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/nestgold/nestgold/internal/pkg/billing"
	"github.com/nestgold/nestgold/internal/pkg/receipt"
)

// TrackController serves the public payment tracking pages.
type TrackController struct {
	svc *billing.Service
}

func NewTrackController(svc *billing.Service) *TrackController {
	return &TrackController{svc: svc}
}

// HandleTrack looks a payment up by tracking code, reference or checkout id.
func (tc *TrackController) HandleTrack(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tr, err := tc.svc.TrackPayment(ctx, c.Params("token"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tr)
}

// HandleTrackReceipt renders a receipt for settled payments and a payment
// slip otherwise.
func (tc *TrackController) HandleTrackReceipt(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tr, err := tc.svc.TrackPayment(ctx, c.Params("token"))
	if err != nil {
		return respondError(c, err)
	}

	doc := receipt.Build(tr, tc.svc.Now())
	pdf, err := receipt.Render(doc)
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename))
	return c.Send(pdf)
}

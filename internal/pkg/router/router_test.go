package router

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestgold/nestgold/app/repository"
	"github.com/nestgold/nestgold/internal/pkg/billing"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	InstallRouter(app, Dependencies{
		Billing:       billing.NewService(billing.NewMemoryRepository(), billing.Config{}),
		Users:         repository.NewMemoryUserRepository(),
		CallbackToken: "cb-token",
	})
	return app
}

func TestRoutes(t *testing.T) {
	app := newTestApp()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"api index", "GET", "/api", "", fiber.StatusOK},
		{"public plans", "GET", "/api/v1/plans", "", fiber.StatusOK},
		{"unknown tracking code", "GET", "/track/NG-00000000", "", fiber.StatusNotFound},
		{"admin needs login", "GET", "/admin/dashboard", "", fiber.StatusUnauthorized},
		{"admin plans need login", "POST", "/admin/plans", `{}`, fiber.StatusUnauthorized},
		{"queue monitor not mounted", "GET", "/admin/queues", "", fiber.StatusUnauthorized},
		{"callback without token", "POST", "/mpesa_callback", `{}`, fiber.StatusUnauthorized},
		{"callback with token", "POST", "/callback?token=cb-token", `{}`, fiber.StatusOK},
		{"logout needs login", "POST", "/logout", "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

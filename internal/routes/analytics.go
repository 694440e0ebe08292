package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pma-pay/pma_pay/internal/analytics"
)

// RegisterAnalyticsRoutes wires spending insight endpoints.
func RegisterAnalyticsRoutes(router fiber.Router, h *analytics.Handler) {
	router.Get("/analytics/insights", h.Insights)
	router.Get("/analytics/summary", h.Summary)
}

package analytics

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pma-pay/pma_pay/internal/session"
)

// Handler exposes spending analytics over HTTP.
type Handler struct {
	session *session.Session
}

// NewHandler builds the analytics HTTP handler.
func NewHandler(s *session.Session) *Handler {
	return &Handler{session: s}
}

// Insights returns the personalized insight feed.
func (h *Handler) Insights(c *fiber.Ctx) error {
	if _, ok := h.session.Wallet(); !ok {
		return fiber.NewError(http.StatusNotFound, session.ErrNoWallet.Error())
	}
	insights := GenerateInsights(h.session.Transactions(), time.Now().UTC())
	return c.JSON(fiber.Map{"insights": insights})
}

// Summary returns the current month's spending rollup.
func (h *Handler) Summary(c *fiber.Ctx) error {
	if _, ok := h.session.Wallet(); !ok {
		return fiber.NewError(http.StatusNotFound, session.ErrNoWallet.Error())
	}
	summary := MonthlySummary(h.session.Transactions(), time.Now().UTC())
	return c.JSON(summary)
}

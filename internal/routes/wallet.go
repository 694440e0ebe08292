package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pma-pay/pma_pay/internal/session"
)

// RegisterWalletRoutes wires wallet lifecycle and transaction endpoints.
func RegisterWalletRoutes(router fiber.Router, h *session.Handler) {
	router.Post("/wallet", h.Create)
	router.Post("/wallet/import", h.Import)
	router.Get("/wallet", h.Get)
	router.Delete("/wallet", h.Clear)
	router.Get("/wallet/balance/:currency", h.Balance)
	router.Post("/wallet/refresh", h.Refresh)
	router.Get("/wallet/receive", h.Receive)

	router.Post("/transactions", h.Send)
	router.Get("/transactions", h.Transactions)
	router.Post("/bank-transfers", h.BankTransfer)
}

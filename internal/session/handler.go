package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/bank"
	"github.com/pma-pay/pma_pay/internal/chain"
	"github.com/pma-pay/pma_pay/internal/keys"
	"github.com/pma-pay/pma_pay/internal/wallet"
)

// Handler exposes the wallet session over HTTP.
type Handler struct {
	session *Session
}

// NewHandler builds the session HTTP handler.
func NewHandler(session *Session) *Handler {
	return &Handler{session: session}
}

type phraseRequest struct {
	Phrase string `json:"phrase"`
}

type sendRequest struct {
	To       string      `json:"to"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

type bankTransferRequest struct {
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	BankAccount struct {
		BankName      string `json:"bank_name"`
		AccountNumber string `json:"account_number"`
		HolderName    string `json:"holder_name"`
		IBAN          string `json:"iban"`
	} `json:"bank_account"`
}

type walletResponse struct {
	Address      string               `json:"address"`
	ShortAddress string               `json:"short_address"`
	Balances     wallet.Balances      `json:"balances"`
	Transactions []wallet.Transaction `json:"transactions"`
	CreatedAt    time.Time            `json:"created_at"`
	Online       bool                 `json:"online"`
}

func (h *Handler) walletView(w wallet.Wallet) walletResponse {
	return walletResponse{
		Address:      w.Address,
		ShortAddress: wallet.ShortAddress(w.Address),
		Balances:     w.Balances,
		Transactions: w.Transactions,
		CreatedAt:    w.CreatedAt,
		Online:       h.session.Online(),
	}
}

// Create provisions a new wallet, generating a recovery phrase when the
// request omits one. The phrase is returned exactly once, here.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req phraseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	w, err := h.session.Create(c.UserContext(), req.Phrase)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"wallet":          h.walletView(w),
		"recovery_phrase": w.RecoveryPhrase,
	})
}

// Import derives a wallet from an existing recovery phrase.
func (h *Handler) Import(c *fiber.Ctx) error {
	var req phraseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	w, err := h.session.Import(c.UserContext(), req.Phrase)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(h.walletView(w))
}

// Get returns the active wallet snapshot.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, ok := h.session.Wallet()
	if !ok {
		return fiber.NewError(http.StatusNotFound, ErrNoWallet.Error())
	}
	return c.JSON(h.walletView(w))
}

// Clear wipes the wallet and its stored data.
func (h *Handler) Clear(c *fiber.Ctx) error {
	if err := h.session.Clear(c.UserContext()); err != nil {
		return mapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Balance returns one currency's balance, refreshing it best-effort.
func (h *Handler) Balance(c *fiber.Ctx) error {
	currency, err := wallet.ParseCurrency(c.Params("currency"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	amount, err := h.session.Balance(c.UserContext(), currency)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{
		"currency": currency,
		"amount":   amount,
	})
}

// Refresh re-fetches balances and history.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	if err := h.session.Refresh(c.UserContext()); err != nil {
		return mapError(err)
	}
	w, _ := h.session.Wallet()
	return c.JSON(h.walletView(w))
}

// Receive builds the payment-request URI for the receive QR code.
func (h *Handler) Receive(c *fiber.Ctx) error {
	amount := decimal.Zero
	if raw := c.Query("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid amount")
		}
		amount = parsed
	}
	var currency wallet.Currency
	if raw := c.Query("currency"); raw != "" {
		parsed, err := wallet.ParseCurrency(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		currency = parsed
	}

	uri, err := h.session.ReceiveURI(amount, currency)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"uri": uri})
}

// Send validates and submits a transfer.
func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	currency, err := wallet.ParseCurrency(req.Currency)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}

	txID, err := h.session.Send(c.UserContext(), req.To, amount, currency)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"tx_id":  txID,
		"status": wallet.StatusPending,
	})
}

// Transactions lists the transaction history, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	if _, ok := h.session.Wallet(); !ok {
		return fiber.NewError(http.StatusNotFound, ErrNoWallet.Error())
	}
	txs := h.session.Transactions()
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

// BankTransfer submits a simulated transfer to an external bank account.
func (h *Handler) BankTransfer(c *fiber.Ctx) error {
	var req bankTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	currency, err := wallet.ParseCurrency(req.Currency)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}

	reference, err := h.session.BankTransfer(c.UserContext(), bank.TransferRequest{
		Amount:   amount,
		Currency: currency,
		Account: wallet.BankAccount{
			BankName:      req.BankAccount.BankName,
			AccountNumber: req.BankAccount.AccountNumber,
			HolderName:    req.BankAccount.HolderName,
			IBAN:          req.BankAccount.IBAN,
		},
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"reference": reference,
		"status":    wallet.StatusPending,
	})
}

// mapError translates domain sentinels into distinct HTTP failures so
// the UI can show a specific message per kind.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNoWallet):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrWalletExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, keys.ErrInvalidPhrase),
		errors.Is(err, wallet.ErrInvalidRecipient),
		errors.Is(err, wallet.ErrSelfTransfer),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, bank.ErrAmountBelowMinimum),
		errors.Is(err, bank.ErrIncompleteAccount):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, chain.ErrOffline), errors.Is(err, chain.ErrNotConnected):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// Package bank simulates transfers to external bank accounts.
package bank

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

// MinTransferAmount is the smallest accepted bank transfer.
var MinTransferAmount = decimal.NewFromInt(10)

var (
	// ErrAmountBelowMinimum indicates a transfer under the bank minimum.
	ErrAmountBelowMinimum = errors.New("bank transfer below minimum amount")

	// ErrIncompleteAccount indicates missing counterparty account details.
	ErrIncompleteAccount = errors.New("incomplete bank account details")
)

// TransferRequest captures one outgoing bank transfer.
type TransferRequest struct {
	Account  wallet.BankAccount
	Amount   decimal.Decimal
	Currency wallet.Currency
}

// Validate checks the request before any funds move.
func (r TransferRequest) Validate() error {
	if r.Amount.LessThan(MinTransferAmount) {
		return ErrAmountBelowMinimum
	}
	if strings.TrimSpace(r.Account.AccountNumber) == "" ||
		strings.TrimSpace(r.Account.HolderName) == "" ||
		strings.TrimSpace(r.Account.IBAN) == "" {
		return ErrIncompleteAccount
	}
	return nil
}

// Receipt is the processor's acknowledgement of an accepted transfer.
type Receipt struct {
	Reference  string
	AcceptedAt time.Time
}

// Processor represents a connector to an external bank settlement rail.
type Processor interface {
	SubmitTransfer(ctx context.Context, req TransferRequest) (Receipt, error)
	// AwaitSettlement blocks until the transfer settles or the timeout
	// elapses; true only on successful settlement.
	AwaitSettlement(ctx context.Context, reference string, timeout time.Duration) bool
}

// StaticProcessor simulates a bank rail that accepts every transfer and
// settles it after a fixed delay.
type StaticProcessor struct {
	// SettleDelay is how long simulated settlement takes.
	SettleDelay time.Duration
}

// NewStaticProcessor builds the simulated processor with a 2s
// settlement delay, matching the provider's simulated rail.
func NewStaticProcessor() *StaticProcessor {
	return &StaticProcessor{SettleDelay: 2 * time.Second}
}

// SubmitTransfer approves the request with a synthetic reference.
func (p *StaticProcessor) SubmitTransfer(_ context.Context, req TransferRequest) (Receipt, error) {
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}
	return Receipt{Reference: uuid.NewString(), AcceptedAt: time.Now().UTC()}, nil
}

// AwaitSettlement reports success once the simulated delay passes.
func (p *StaticProcessor) AwaitSettlement(ctx context.Context, _ string, timeout time.Duration) bool {
	delay := p.SettleDelay
	if delay > timeout {
		return false
	}
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

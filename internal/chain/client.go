// Package chain talks to the remote ledger and owns degraded-mode policy.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

var (
	// ErrOffline indicates the gateway is in degraded mode and the
	// operation has no local fallback.
	ErrOffline = errors.New("ledger network unavailable")

	// ErrNotConnected indicates an operation that needs a bound account
	// was called before Connect.
	ErrNotConnected = errors.New("gateway not connected to an account")
)

// TokenContracts maps each currency to its ERC-20 contract. The AECoin
// placeholder is the zero address; calls against it are simulated.
var TokenContracts = map[wallet.Currency]common.Address{
	wallet.CurrencyUSDT:   common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
	wallet.CurrencyUSDC:   common.HexToAddress("0xA0b86a33E6c0113b7c13c8B2f8B56D3e1Fc5E6e8"),
	wallet.CurrencyAECoin: {},
}

// Client is the thin typed facade over the remote ledger RPC. One
// client serves one account, bound at Connect.
type Client interface {
	// Connect binds the client to the signing account and verifies
	// reachability of the ledger network.
	Connect(ctx context.Context, key *ecdsa.PrivateKey) error

	// BalanceOf returns the on-chain balance of the bound account.
	BalanceOf(ctx context.Context, currency wallet.Currency) (decimal.Decimal, error)

	// Transfer broadcasts a token transfer and returns its transaction
	// hash. The transfer is not confirmed when Transfer returns.
	Transfer(ctx context.Context, to string, amount decimal.Decimal, currency wallet.Currency) (string, error)

	// History returns observable send/receive records for the bound
	// account in one currency.
	History(ctx context.Context, currency wallet.Currency) ([]wallet.Transaction, error)

	// TxStatus reports the current state of a broadcast transaction.
	TxStatus(ctx context.Context, txID string) (wallet.TxStatus, error)
}

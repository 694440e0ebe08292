package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/keys"
	"github.com/pma-pay/pma_pay/internal/wallet"
)

// defaultPollInterval paces receipt polling during confirmation waits.
const defaultPollInterval = 2 * time.Second

// Gateway fronts the ledger client with degraded-mode policy: a failed
// connection flips it offline, where reads serve cached values and
// writes fail fast instead of stalling callers. It stays offline until
// a reconnect succeeds.
type Gateway struct {
	client Client
	logger *slog.Logger

	// PollInterval paces confirmation polling; tests shorten it.
	PollInterval time.Duration

	mu     sync.Mutex
	online bool
	bound  bool
	cache  map[wallet.Currency]decimal.Decimal
}

// NewGateway wraps a ledger client.
func NewGateway(client Client, logger *slog.Logger) *Gateway {
	return &Gateway{
		client:       client,
		logger:       logger,
		PollInterval: defaultPollInterval,
		cache:        make(map[wallet.Currency]decimal.Decimal),
	}
}

// Connect binds the gateway to a signing account. On failure the
// gateway enters offline mode and the error is returned for logging;
// callers remain usable offline.
func (g *Gateway) Connect(ctx context.Context, signingKeyHex string) error {
	key, err := crypto.HexToECDSA(signingKeyHex)
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}

	err = g.client.Connect(ctx, key)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.bound = true
	g.online = err == nil
	if err != nil {
		g.logger.Warn("ledger connection failed, entering offline mode", "error", err)
		return fmt.Errorf("connect ledger: %w", err)
	}
	return nil
}

// Online reports whether the gateway currently considers the ledger
// reachable.
func (g *Gateway) Online() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online
}

// Forget drops the bound account and cached balances, used on logout.
func (g *Gateway) Forget() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bound = false
	g.online = false
	g.cache = make(map[wallet.Currency]decimal.Decimal)
}

// Balance returns a usable amount in all cases: the fresh on-chain
// value on success (cached for later fallback), or the last-known
// cached value together with the error that forced the fallback. The
// zero floor applies when nothing was ever cached.
func (g *Gateway) Balance(ctx context.Context, currency wallet.Currency) (decimal.Decimal, error) {
	if !g.Online() {
		return g.cached(currency), ErrOffline
	}

	amount, err := g.client.BalanceOf(ctx, currency)
	if err != nil {
		g.logger.Warn("balance query failed, serving cached value", "currency", currency, "error", err)
		return g.cached(currency), fmt.Errorf("query %s balance: %w", currency, err)
	}

	g.mu.Lock()
	g.cache[currency] = amount
	g.mu.Unlock()
	return amount, nil
}

func (g *Gateway) cached(currency wallet.Currency) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache[currency]
}

// SubmitTransfer validates and broadcasts a transfer, returning the
// transaction id before confirmation. There is no degraded fallback for
// writes: an offline gateway fails fast with ErrOffline.
func (g *Gateway) SubmitTransfer(ctx context.Context, to string, amount decimal.Decimal, currency wallet.Currency) (string, error) {
	if !keys.IsValidAddress(to) {
		return "", wallet.ErrInvalidRecipient
	}

	g.mu.Lock()
	if !g.bound {
		g.mu.Unlock()
		return "", ErrNotConnected
	}
	if !g.online {
		g.mu.Unlock()
		return "", ErrOffline
	}
	if known, ok := g.cache[currency]; ok && amount.GreaterThan(known) {
		g.mu.Unlock()
		return "", wallet.ErrInsufficientFunds
	}
	g.mu.Unlock()

	txID, err := g.client.Transfer(ctx, keys.NormalizeAddress(to), amount, currency)
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}

	// Keep the cache in step with the broadcast spend so a second send
	// is validated against the reduced balance.
	g.mu.Lock()
	if known, ok := g.cache[currency]; ok {
		reduced := known.Sub(amount)
		if reduced.IsNegative() {
			reduced = decimal.Zero
		}
		g.cache[currency] = reduced
	}
	g.mu.Unlock()
	return txID, nil
}

// History merges per-currency histories, newest first. Currencies whose
// query failed are logged and skipped; whatever succeeded is returned
// alongside the joined error so callers can treat it as best-effort.
func (g *Gateway) History(ctx context.Context) ([]wallet.Transaction, error) {
	if !g.Online() {
		return nil, ErrOffline
	}

	var merged []wallet.Transaction
	var errs []error
	for _, currency := range wallet.Currencies() {
		txs, err := g.client.History(ctx, currency)
		if err != nil {
			g.logger.Warn("history query failed for currency", "currency", currency, "error", err)
			errs = append(errs, fmt.Errorf("%s history: %w", currency, err))
			continue
		}
		merged = append(merged, txs...)
	}

	sortNewestFirst(merged)
	return merged, errors.Join(errs...)
}

// AwaitConfirmation polls the transaction's status until it leaves
// pending or the timeout elapses. True means confirmed; failure and
// timeout both return false, never an error.
func (g *Gateway) AwaitConfirmation(ctx context.Context, txID string, timeout time.Duration) bool {
	if !g.Online() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()

	for {
		status, err := g.client.TxStatus(ctx, txID)
		if err == nil {
			switch status {
			case wallet.StatusConfirmed:
				return true
			case wallet.StatusFailed:
				return false
			}
		} else {
			g.logger.Warn("confirmation poll failed", "tx_id", txID, "error", err)
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func sortNewestFirst(txs []wallet.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})
}

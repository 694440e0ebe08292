package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/keys"
	"github.com/pma-pay/pma_pay/internal/logging"
	"github.com/pma-pay/pma_pay/internal/wallet"
)

const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

const otherAddress = "0x1111111111111111111111111111111111111111"

func testAccount(t *testing.T) keys.Account {
	t.Helper()
	account, err := keys.DeriveAccount(testPhrase)
	if err != nil {
		t.Fatalf("derive account: %v", err)
	}
	return account
}

func connectedGateway(t *testing.T, sim *SimClient) *Gateway {
	t.Helper()
	g := NewGateway(sim, logging.Discard())
	g.PollInterval = 5 * time.Millisecond
	if err := g.Connect(context.Background(), testAccount(t).PrivateKey); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return g
}

func TestBalanceCachesAndServesFallback(t *testing.T) {
	ctx := context.Background()
	sim := NewSimClient()
	sim.SeedBalance(wallet.CurrencyUSDT, decimal.NewFromInt(30))
	g := connectedGateway(t, sim)

	amount, err := g.Balance(ctx, wallet.CurrencyUSDT)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("balance %s, want 30", amount)
	}

	sim.FailBalance(wallet.CurrencyUSDT, errors.New("rpc unreachable"))
	amount, err = g.Balance(ctx, wallet.CurrencyUSDT)
	if err == nil {
		t.Fatalf("expected fallback error")
	}
	if !amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("fallback balance %s, want cached 30", amount)
	}
}

func TestConnectFailureEntersOfflineMode(t *testing.T) {
	ctx := context.Background()
	sim := NewSimClient()
	sim.FailConnect(errors.New("no route to host"))

	g := NewGateway(sim, logging.Discard())
	if err := g.Connect(ctx, testAccount(t).PrivateKey); err == nil {
		t.Fatalf("expected connect error")
	}
	if g.Online() {
		t.Fatalf("gateway should be offline after failed connect")
	}

	// Writes fail fast with no fallback.
	if _, err := g.SubmitTransfer(ctx, otherAddress, decimal.NewFromInt(1), wallet.CurrencyUSDT); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}

	// Reads degrade to the cached floor instead of failing outright.
	amount, err := g.Balance(ctx, wallet.CurrencyUSDT)
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if !amount.IsZero() {
		t.Fatalf("expected zero floor, got %s", amount)
	}

	// An offline confirmation wait resolves immediately.
	start := time.Now()
	if g.AwaitConfirmation(ctx, "0xdead", time.Second) {
		t.Fatalf("offline confirmation should fail")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("offline confirmation stalled")
	}

	// Reconnect restores service.
	sim.FailConnect(nil)
	if err := g.Connect(ctx, testAccount(t).PrivateKey); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !g.Online() {
		t.Fatalf("gateway should be online after reconnect")
	}
}

func TestSubmitTransferValidation(t *testing.T) {
	ctx := context.Background()
	sim := NewSimClient()
	sim.SeedBalance(wallet.CurrencyUSDT, decimal.NewFromInt(50))
	g := connectedGateway(t, sim)

	if _, err := g.SubmitTransfer(ctx, "0xBAD", decimal.NewFromInt(10), wallet.CurrencyUSDT); !errors.Is(err, wallet.ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}

	if _, err := g.Balance(ctx, wallet.CurrencyUSDT); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if _, err := g.SubmitTransfer(ctx, otherAddress, decimal.NewFromInt(100), wallet.CurrencyUSDT); !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	txID, err := g.SubmitTransfer(ctx, otherAddress, decimal.NewFromInt(20), wallet.CurrencyUSDT)
	if err != nil {
		t.Fatalf("submit transfer: %v", err)
	}
	if txID == "" {
		t.Fatalf("expected transaction id")
	}

	// The cache follows the spend, so overspending the remainder fails.
	if _, err := g.SubmitTransfer(ctx, otherAddress, decimal.NewFromInt(40), wallet.CurrencyUSDT); !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds after spend, got %v", err)
	}
}

func TestHistoryMergesPartialResults(t *testing.T) {
	ctx := context.Background()
	sim := NewSimClient()
	now := time.Now().UTC()
	sim.SeedHistory(
		wallet.Transaction{ID: "0x1", Kind: wallet.TxReceive, Currency: wallet.CurrencyUSDT, Amount: decimal.NewFromInt(5), Status: wallet.StatusConfirmed, Timestamp: now.Add(-time.Hour)},
		wallet.Transaction{ID: "0x2", Kind: wallet.TxSend, Currency: wallet.CurrencyUSDC, Amount: decimal.NewFromInt(3), Status: wallet.StatusConfirmed, Timestamp: now},
	)
	sim.FailHistory(wallet.CurrencyUSDC, errors.New("contract call reverted"))
	g := connectedGateway(t, sim)

	txs, err := g.History(ctx)
	if err == nil {
		t.Fatalf("expected joined error for failed currency")
	}
	if len(txs) != 1 || txs[0].ID != "0x1" {
		t.Fatalf("expected surviving USDT entry, got %+v", txs)
	}
}

func TestHistorySortsNewestFirst(t *testing.T) {
	ctx := context.Background()
	sim := NewSimClient()
	now := time.Now().UTC()
	sim.SeedHistory(
		wallet.Transaction{ID: "0xold", Currency: wallet.CurrencyUSDT, Timestamp: now.Add(-2 * time.Hour)},
		wallet.Transaction{ID: "0xnew", Currency: wallet.CurrencyUSDT, Timestamp: now},
		wallet.Transaction{ID: "0xmid", Currency: wallet.CurrencyUSDC, Timestamp: now.Add(-time.Hour)},
	)
	g := connectedGateway(t, sim)

	txs, err := g.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 3 || txs[0].ID != "0xnew" || txs[1].ID != "0xmid" || txs[2].ID != "0xold" {
		t.Fatalf("unexpected order: %+v", txs)
	}
}

func TestAwaitConfirmation(t *testing.T) {
	ctx := context.Background()
	sim := NewSimClient()
	sim.SeedBalance(wallet.CurrencyUSDT, decimal.NewFromInt(50))
	g := connectedGateway(t, sim)

	txID, err := g.SubmitTransfer(ctx, otherAddress, decimal.NewFromInt(10), wallet.CurrencyUSDT)
	if err != nil {
		t.Fatalf("submit transfer: %v", err)
	}
	if !g.AwaitConfirmation(ctx, txID, time.Second) {
		t.Fatalf("expected confirmation")
	}

	sim.SetSettlement(wallet.StatusFailed)
	txID, err = g.SubmitTransfer(ctx, otherAddress, decimal.NewFromInt(10), wallet.CurrencyUSDT)
	if err != nil {
		t.Fatalf("submit transfer: %v", err)
	}
	if g.AwaitConfirmation(ctx, txID, time.Second) {
		t.Fatalf("expected failed settlement")
	}

	// Unknown hashes stay pending and time out as false.
	if g.AwaitConfirmation(ctx, "0xunknown", 30*time.Millisecond) {
		t.Fatalf("expected timeout to report false")
	}
}

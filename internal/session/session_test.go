package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/bank"
	"github.com/pma-pay/pma_pay/internal/chain"
	"github.com/pma-pay/pma_pay/internal/keys"
	"github.com/pma-pay/pma_pay/internal/logging"
	"github.com/pma-pay/pma_pay/internal/store"
	"github.com/pma-pay/pma_pay/internal/wallet"
)

const (
	testPhrase   = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	otherAddress = "0x1111111111111111111111111111111111111111"
)

type fixture struct {
	sim     *chain.SimClient
	store   store.Store
	session *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := chain.NewSimClient()
	gw := chain.NewGateway(sim, logging.Discard())
	gw.PollInterval = 5 * time.Millisecond

	st := store.NewMemoryStore()
	proc := &bank.StaticProcessor{SettleDelay: 5 * time.Millisecond}
	s := New(st, gw, proc, nil, logging.Discard())
	s.ConfirmTimeout = 500 * time.Millisecond
	t.Cleanup(s.Close)
	return &fixture{sim: sim, store: st, session: s}
}

func (f *fixture) createFunded(t *testing.T, usdt int64) wallet.Wallet {
	t.Helper()
	f.sim.SeedBalance(wallet.CurrencyUSDT, decimal.NewFromInt(usdt))
	w, err := f.session.Create(context.Background(), testPhrase)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return w
}

func waitStatus(t *testing.T, s *Session, txID string, want wallet.TxStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, tx := range s.Transactions() {
			if tx.ID == txID && tx.Status == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("transaction %s never reached %s: %+v", txID, want, s.Transactions())
}

func TestCreateWallet(t *testing.T) {
	f := newFixture(t)
	w := f.createFunded(t, 50)

	if !keys.IsValidAddress(w.Address) {
		t.Fatalf("invalid wallet address %q", w.Address)
	}
	if w.RecoveryPhrase != testPhrase {
		t.Fatalf("recovery phrase not retained")
	}
	if !w.Balances.Amount(wallet.CurrencyUSDT).Equal(decimal.NewFromInt(50)) {
		t.Fatalf("USDT balance %s, want 50", w.Balances.Amount(wallet.CurrencyUSDT))
	}
	if !w.Balances.Amount(wallet.CurrencyUSDC).IsZero() {
		t.Fatalf("USDC balance should default to zero")
	}

	stored, err := f.store.Load(context.Background())
	if err != nil || stored == nil {
		t.Fatalf("wallet not persisted: %v", err)
	}

	if _, err := f.session.Create(context.Background(), ""); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
}

func TestCreateGeneratesPhraseWhenOmitted(t *testing.T) {
	f := newFixture(t)
	w, err := f.session.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if !keys.ValidatePhrase(w.RecoveryPhrase) {
		t.Fatalf("generated phrase invalid: %q", w.RecoveryPhrase)
	}
}

func TestCreateSurvivesOfflineGateway(t *testing.T) {
	f := newFixture(t)
	f.sim.FailConnect(errors.New("no route to host"))

	w, err := f.session.Create(context.Background(), testPhrase)
	if err != nil {
		t.Fatalf("create should not fail on connect error: %v", err)
	}
	if w.Address == "" {
		t.Fatalf("expected usable offline wallet")
	}
}

func TestImportRejectsInvalidPhraseBeforeSideEffects(t *testing.T) {
	f := newFixture(t)

	_, err := f.session.Import(context.Background(), "not a valid phrase at all")
	if !errors.Is(err, keys.ErrInvalidPhrase) {
		t.Fatalf("expected ErrInvalidPhrase, got %v", err)
	}

	stored, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored != nil {
		t.Fatalf("store written despite rejected import")
	}
	if _, ok := f.session.Wallet(); ok {
		t.Fatalf("session active despite rejected import")
	}
}

func TestSendValidationOrder(t *testing.T) {
	f := newFixture(t)
	w := f.createFunded(t, 50)
	ctx := context.Background()
	ten := decimal.NewFromInt(10)

	cases := []struct {
		name   string
		to     string
		amount decimal.Decimal
		want   error
	}{
		{"invalid recipient", "0xBAD", ten, wallet.ErrInvalidRecipient},
		{"self transfer", w.Address, ten, wallet.ErrSelfTransfer},
		{"zero amount", otherAddress, decimal.Zero, wallet.ErrInvalidAmount},
		{"negative amount", otherAddress, decimal.NewFromInt(-5), wallet.ErrInvalidAmount},
		{"insufficient funds", otherAddress, decimal.NewFromInt(100), wallet.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		if _, err := f.session.Send(ctx, tc.to, tc.amount, wallet.CurrencyUSDT); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	// No validation failure left a side effect behind.
	after, _ := f.session.Wallet()
	if !after.Balances.Amount(wallet.CurrencyUSDT).Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance changed by rejected send: %s", after.Balances.Amount(wallet.CurrencyUSDT))
	}
	if len(after.Transactions) != 0 {
		t.Fatalf("transaction appended by rejected send: %+v", after.Transactions)
	}
}

func TestSendAppliesOptimisticUpdateAndReconciles(t *testing.T) {
	f := newFixture(t)
	f.createFunded(t, 50)
	ctx := context.Background()

	// Hold the transfer in pending so the optimistic state is observable.
	f.sim.SetSettlement(wallet.StatusPending)
	txID, err := f.session.Send(ctx, otherAddress, decimal.NewFromInt(20), wallet.CurrencyUSDT)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	w, _ := f.session.Wallet()
	if !w.Balances.Amount(wallet.CurrencyUSDT).Equal(decimal.NewFromInt(30)) {
		t.Fatalf("optimistic balance %s, want 30", w.Balances.Amount(wallet.CurrencyUSDT))
	}
	if len(w.Transactions) == 0 || w.Transactions[0].ID != txID {
		t.Fatalf("pending transaction not at front: %+v", w.Transactions)
	}
	if w.Transactions[0].Status != wallet.StatusPending {
		t.Fatalf("expected pending, got %s", w.Transactions[0].Status)
	}

	f.sim.SettleTx(txID, wallet.StatusConfirmed)
	waitStatus(t, f.session, txID, wallet.StatusConfirmed)

	// Confirmation updates status in place; balance holds until refresh.
	w, _ = f.session.Wallet()
	if !w.Balances.Amount(wallet.CurrencyUSDT).Equal(decimal.NewFromInt(30)) {
		t.Fatalf("balance moved on confirmation: %s", w.Balances.Amount(wallet.CurrencyUSDT))
	}

	stored, err := f.store.Load(ctx)
	if err != nil || stored == nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Transactions[0].Status != wallet.StatusConfirmed {
		t.Fatalf("reconciled status not persisted: %+v", stored.Transactions[0])
	}
}

func TestSendFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.createFunded(t, 50)
	f.sim.FailTransfers(errors.New("broadcast rejected"))

	if _, err := f.session.Send(context.Background(), otherAddress, decimal.NewFromInt(10), wallet.CurrencyUSDT); err == nil {
		t.Fatalf("expected send failure")
	}

	w, _ := f.session.Wallet()
	if !w.Balances.Amount(wallet.CurrencyUSDT).Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance mutated on failed send: %s", w.Balances.Amount(wallet.CurrencyUSDT))
	}
	if len(w.Transactions) != 0 {
		t.Fatalf("transaction recorded on failed send")
	}
}

func TestReconciliationMarksFailedWithoutRestoringBalance(t *testing.T) {
	f := newFixture(t)
	f.createFunded(t, 50)
	f.sim.SetSettlement(wallet.StatusFailed)

	txID, err := f.session.Send(context.Background(), otherAddress, decimal.NewFromInt(20), wallet.CurrencyUSDT)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	waitStatus(t, f.session, txID, wallet.StatusFailed)

	// The deduction stays until the next successful refresh.
	w, _ := f.session.Wallet()
	if !w.Balances.Amount(wallet.CurrencyUSDT).Equal(decimal.NewFromInt(30)) {
		t.Fatalf("failed send restored balance: %s", w.Balances.Amount(wallet.CurrencyUSDT))
	}
}

func TestBalanceServesLastKnownOnGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.createFunded(t, 30)
	ctx := context.Background()

	f.sim.FailBalance(wallet.CurrencyUSDT, errors.New("rpc unreachable"))
	amount, err := f.session.Balance(ctx, wallet.CurrencyUSDT)
	if err != nil {
		t.Fatalf("balance read must not fail: %v", err)
	}
	if !amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected last-known 30, got %s", amount)
	}
}

func TestRefreshKeepsLastKnownPerCurrency(t *testing.T) {
	f := newFixture(t)
	f.sim.SeedBalance(wallet.CurrencyUSDC, decimal.NewFromInt(20))
	f.createFunded(t, 50)

	f.sim.FailBalance(wallet.CurrencyUSDT, errors.New("rpc unreachable"))
	f.sim.SeedBalance(wallet.CurrencyUSDC, decimal.NewFromInt(25))

	if err := f.session.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	w, _ := f.session.Wallet()
	if !w.Balances.Amount(wallet.CurrencyUSDT).Equal(decimal.NewFromInt(50)) {
		t.Fatalf("transient failure regressed USDT to %s", w.Balances.Amount(wallet.CurrencyUSDT))
	}
	if !w.Balances.Amount(wallet.CurrencyUSDC).Equal(decimal.NewFromInt(25)) {
		t.Fatalf("USDC not refreshed: %s", w.Balances.Amount(wallet.CurrencyUSDC))
	}
}

func TestRefreshMergesHistoryWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	f.createFunded(t, 50)
	ctx := context.Background()

	txID, err := f.session.Send(ctx, otherAddress, decimal.NewFromInt(5), wallet.CurrencyUSDT)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	waitStatus(t, f.session, txID, wallet.StatusConfirmed)

	f.sim.SeedHistory(wallet.Transaction{
		ID:        "0xincoming",
		Kind:      wallet.TxReceive,
		Amount:    decimal.NewFromInt(7),
		Currency:  wallet.CurrencyUSDC,
		From:      otherAddress,
		Status:    wallet.StatusConfirmed,
		Timestamp: time.Now().UTC().Add(time.Hour),
	})

	if err := f.session.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	txs := f.session.Transactions()
	count := 0
	for _, tx := range txs {
		if tx.ID == txID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("sent transaction duplicated %d times after merge", count)
	}

	found := false
	for _, tx := range txs {
		if tx.ID == "0xincoming" {
			found = true
		}
	}
	if !found {
		t.Fatalf("fetched history entry dropped in merge: %+v", txs)
	}
}

func TestMergeKeepsLocalPendingInFront(t *testing.T) {
	now := time.Now().UTC()
	local := []wallet.Transaction{
		{ID: "0xpending", Status: wallet.StatusPending, Timestamp: now},
		{ID: "0xdone", Status: wallet.StatusConfirmed, Timestamp: now.Add(-time.Hour)},
	}
	fetched := []wallet.Transaction{
		{ID: "0xlater", Status: wallet.StatusConfirmed, Timestamp: now.Add(time.Hour)},
		{ID: "0xpending", Status: wallet.StatusConfirmed, Timestamp: now},
	}

	merged := mergeTransactions(local, fetched)
	if len(merged) != 3 {
		t.Fatalf("expected 3 entries, got %+v", merged)
	}
	if merged[0].ID != "0xpending" || merged[0].Status != wallet.StatusPending {
		t.Fatalf("local pending not in front: %+v", merged)
	}
	if merged[1].ID != "0xlater" || merged[2].ID != "0xdone" {
		t.Fatalf("terminal entries not newest-first: %+v", merged)
	}
}

func TestBankTransfer(t *testing.T) {
	f := newFixture(t)
	f.createFunded(t, 50)
	ctx := context.Background()

	req := bank.TransferRequest{
		Amount:   decimal.NewFromInt(15),
		Currency: wallet.CurrencyUSDT,
		Account: wallet.BankAccount{
			BankName:      "Palestine Monetary Authority",
			AccountNumber: "123456789",
			HolderName:    "A Holder",
			IBAN:          "PS92PALS000000000400123456702",
		},
	}

	// Below-minimum and incomplete requests reject with no side effect.
	small := req
	small.Amount = decimal.NewFromInt(5)
	if _, err := f.session.BankTransfer(ctx, small); !errors.Is(err, bank.ErrAmountBelowMinimum) {
		t.Fatalf("expected ErrAmountBelowMinimum, got %v", err)
	}
	incomplete := req
	incomplete.Account.IBAN = ""
	if _, err := f.session.BankTransfer(ctx, incomplete); !errors.Is(err, bank.ErrIncompleteAccount) {
		t.Fatalf("expected ErrIncompleteAccount, got %v", err)
	}

	ref, err := f.session.BankTransfer(ctx, req)
	if err != nil {
		t.Fatalf("bank transfer: %v", err)
	}

	w, _ := f.session.Wallet()
	if !w.Balances.Amount(wallet.CurrencyUSDT).Equal(decimal.NewFromInt(35)) {
		t.Fatalf("balance %s, want 35", w.Balances.Amount(wallet.CurrencyUSDT))
	}
	if w.Transactions[0].Kind != wallet.TxBankTransfer || w.Transactions[0].BankAccount == nil {
		t.Fatalf("bank transfer record malformed: %+v", w.Transactions[0])
	}

	waitStatus(t, f.session, ref, wallet.StatusConfirmed)
}

func TestClearIsIdempotentAndWipesStore(t *testing.T) {
	f := newFixture(t)
	f.createFunded(t, 50)
	ctx := context.Background()

	if err := f.session.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := f.session.Clear(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}

	if _, ok := f.session.Wallet(); ok {
		t.Fatalf("wallet still active after clear")
	}
	stored, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored != nil {
		t.Fatalf("store not wiped: %+v", stored)
	}

	if _, err := f.session.Send(ctx, otherAddress, decimal.NewFromInt(1), wallet.CurrencyUSDT); !errors.Is(err, ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	created := f.createFunded(t, 50)

	// A second session over the same store picks up the wallet.
	gw := chain.NewGateway(f.sim, logging.Discard())
	gw.PollInterval = 5 * time.Millisecond
	s2 := New(f.store, gw, &bank.StaticProcessor{SettleDelay: 5 * time.Millisecond}, nil, logging.Discard())
	t.Cleanup(s2.Close)

	if err := s2.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	w, ok := s2.Wallet()
	if !ok {
		t.Fatalf("no wallet after restore")
	}
	if w.Address != created.Address {
		t.Fatalf("restored address %s, want %s", w.Address, created.Address)
	}
	if w.RecoveryPhrase != testPhrase {
		t.Fatalf("secret material lost on restore")
	}
}

func TestReceiveURI(t *testing.T) {
	f := newFixture(t)
	created := f.createFunded(t, 50)

	uri, err := f.session.ReceiveURI(decimal.NewFromInt(12), wallet.CurrencyUSDC)
	if err != nil {
		t.Fatalf("receive uri: %v", err)
	}
	req, err := wallet.ParsePaymentURI(uri)
	if err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	if !wallet.SameAddress(req.Address, created.Address) {
		t.Fatalf("uri address %s, want %s", req.Address, created.Address)
	}
	if !req.HasTerms || !req.Amount.Equal(decimal.NewFromInt(12)) || req.Currency != wallet.CurrencyUSDC {
		t.Fatalf("payment terms lost: %+v", req)
	}
}

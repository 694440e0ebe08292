// Package session owns the in-memory wallet state and orchestrates key
// derivation, persistence and chain access.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/bank"
	"github.com/pma-pay/pma_pay/internal/chain"
	"github.com/pma-pay/pma_pay/internal/keys"
	"github.com/pma-pay/pma_pay/internal/notification"
	"github.com/pma-pay/pma_pay/internal/store"
	"github.com/pma-pay/pma_pay/internal/wallet"
)

var (
	// ErrNoWallet indicates an operation that needs an active wallet
	// was called before create/import.
	ErrNoWallet = errors.New("no wallet initialized")

	// ErrWalletExists indicates create/import was called while a wallet
	// is already active; it must be cleared first.
	ErrWalletExists = errors.New("wallet already initialized")
)

// defaultConfirmTimeout bounds how long a confirmation watcher waits.
const defaultConfirmTimeout = 60 * time.Second

// Session is the single owner of one wallet's state. Mutating
// operations are serialized by opMu so the balance and transaction list
// are never read mid-mutation; snapshot reads take only the short state
// lock and observe either the pre- or post-mutation record.
type Session struct {
	logger   *slog.Logger
	store    store.Store
	gateway  *chain.Gateway
	bank     bank.Processor
	notifier notification.Notifier

	// ConfirmTimeout bounds background confirmation watchers.
	ConfirmTimeout time.Duration

	opMu sync.Mutex

	mu sync.RWMutex
	w  *wallet.Wallet

	watchers sync.WaitGroup
}

// New builds a wallet session over its collaborators.
func New(st store.Store, gw *chain.Gateway, proc bank.Processor, notifier notification.Notifier, logger *slog.Logger) *Session {
	return &Session{
		logger:         logger,
		store:          st,
		gateway:        gw,
		bank:           proc,
		notifier:       notifier,
		ConfirmTimeout: defaultConfirmTimeout,
	}
}

// Close waits for in-flight confirmation watchers to finish.
func (s *Session) Close() {
	s.watchers.Wait()
}

// Restore loads a previously persisted wallet on startup. Absence of a
// stored wallet is not an error. The gateway reconnect and history
// reload are best-effort; a stored wallet is usable offline.
func (s *Session) Restore(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	w, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore wallet: %w", err)
	}
	if w == nil {
		return nil
	}

	s.setWallet(w)
	s.connectGateway(ctx, w)
	s.reloadHistory(ctx)
	s.logger.Info("wallet restored", "address", wallet.ShortAddress(w.Address))
	return nil
}

// Create generates (or accepts) a recovery phrase, derives the account,
// persists the new wallet and connects the gateway best-effort. A
// failed connection never fails the create; the wallet works offline.
func (s *Session) Create(ctx context.Context, phrase string) (wallet.Wallet, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.current() != nil {
		return wallet.Wallet{}, ErrWalletExists
	}

	if phrase == "" {
		generated, err := keys.GeneratePhrase()
		if err != nil {
			return wallet.Wallet{}, fmt.Errorf("create wallet: %w", err)
		}
		phrase = generated
	}

	return s.initialize(ctx, phrase, false)
}

// Import derives a wallet from an existing recovery phrase. The phrase
// is validated before any side effect; on success a best-effort history
// load runs as well.
func (s *Session) Import(ctx context.Context, phrase string) (wallet.Wallet, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.current() != nil {
		return wallet.Wallet{}, ErrWalletExists
	}
	if !keys.ValidatePhrase(phrase) {
		return wallet.Wallet{}, keys.ErrInvalidPhrase
	}

	return s.initialize(ctx, phrase, true)
}

func (s *Session) initialize(ctx context.Context, phrase string, loadHistory bool) (wallet.Wallet, error) {
	account, err := keys.DeriveAccount(phrase)
	if err != nil {
		return wallet.Wallet{}, err
	}

	w := &wallet.Wallet{
		Address:        account.Address,
		CreatedAt:      time.Now().UTC(),
		RecoveryPhrase: phrase,
		SigningKey:     account.PrivateKey,
	}
	if err := s.store.Save(ctx, *w); err != nil {
		return wallet.Wallet{}, fmt.Errorf("persist wallet: %w", err)
	}
	s.setWallet(w)

	s.connectGateway(ctx, w)
	s.reloadBalances(ctx)
	if loadHistory {
		s.reloadHistory(ctx)
	}

	snapshot, _ := s.Wallet()
	return snapshot, nil
}

// Balance fetches one currency's balance through the gateway. A fresh
// value is applied and persisted; on gateway fallback the previously
// known balance is returned unchanged and no error surfaces.
func (s *Session) Balance(ctx context.Context, currency wallet.Currency) (decimal.Decimal, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	w := s.current()
	if w == nil {
		return decimal.Zero, ErrNoWallet
	}

	amount, err := s.gateway.Balance(ctx, currency)
	if err != nil {
		return w.Balances.Amount(currency), nil
	}

	updated := w.Clone()
	updated.Balances = updated.Balances.WithAmount(currency, amount)
	if err := s.commit(ctx, &updated); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// Send validates and submits a transfer. Validation rejects before any
// side effect, in order: recipient format, self transfer, amount
// positivity, sufficient balance. On success the pending transaction
// and the optimistic deduction are persisted as one snapshot, a
// background watcher is spawned and the transaction id returned.
func (s *Session) Send(ctx context.Context, to string, amount decimal.Decimal, currency wallet.Currency) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	w := s.current()
	if w == nil {
		return "", ErrNoWallet
	}

	if !keys.IsValidAddress(to) {
		return "", wallet.ErrInvalidRecipient
	}
	to = keys.NormalizeAddress(to)
	if wallet.SameAddress(to, w.Address) {
		return "", wallet.ErrSelfTransfer
	}
	if !amount.IsPositive() {
		return "", wallet.ErrInvalidAmount
	}
	if amount.GreaterThan(w.Balances.Amount(currency)) {
		return "", wallet.ErrInsufficientFunds
	}

	txID, err := s.gateway.SubmitTransfer(ctx, to, amount, currency)
	if err != nil {
		return "", err
	}

	updated := w.Clone()
	updated.Transactions = append([]wallet.Transaction{{
		ID:        txID,
		Kind:      wallet.TxSend,
		Amount:    amount,
		Currency:  currency,
		From:      w.Address,
		To:        to,
		Status:    wallet.StatusPending,
		Timestamp: time.Now().UTC(),
	}}, updated.Transactions...)
	updated.Balances = updated.Balances.WithAmount(currency, updated.Balances.Amount(currency).Sub(amount))

	if err := s.commit(ctx, &updated); err != nil {
		return "", err
	}

	s.watchConfirmation(txID)
	return txID, nil
}

// BankTransfer submits a simulated transfer to an external bank
// account, recorded as a pending bank_transfer transaction with the
// counterparty's account details attached.
func (s *Session) BankTransfer(ctx context.Context, req bank.TransferRequest) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	w := s.current()
	if w == nil {
		return "", ErrNoWallet
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.Amount.GreaterThan(w.Balances.Amount(req.Currency)) {
		return "", wallet.ErrInsufficientFunds
	}

	receipt, err := s.bank.SubmitTransfer(ctx, req)
	if err != nil {
		return "", err
	}

	account := req.Account
	updated := w.Clone()
	updated.Transactions = append([]wallet.Transaction{{
		ID:          receipt.Reference,
		Kind:        wallet.TxBankTransfer,
		Amount:      req.Amount,
		Currency:    req.Currency,
		From:        w.Address,
		Status:      wallet.StatusPending,
		Timestamp:   time.Now().UTC(),
		BankAccount: &account,
	}}, updated.Transactions...)
	updated.Balances = updated.Balances.WithAmount(req.Currency, updated.Balances.Amount(req.Currency).Sub(req.Amount))

	if err := s.commit(ctx, &updated); err != nil {
		return "", err
	}

	s.watchSettlement(receipt.Reference)
	return receipt.Reference, nil
}

// Refresh re-fetches every balance concurrently and re-merges the
// transaction history. Each currency reconciles independently: a failed
// fetch leaves that currency's last-known value untouched, so a
// transient outage never regresses a displayed balance to zero.
func (s *Session) Refresh(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.current() == nil {
		return ErrNoWallet
	}
	s.reloadBalances(ctx)
	s.reloadHistory(ctx)
	return nil
}

// Clear wipes the in-memory wallet and every secure-store entry. It is
// idempotent: clearing an uninitialized session succeeds.
func (s *Session) Clear(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear wallet data: %w", err)
	}
	s.setWallet(nil)
	s.gateway.Forget()
	return nil
}

// Wallet returns a snapshot of the active wallet, if any.
func (s *Session) Wallet() (wallet.Wallet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.w == nil {
		return wallet.Wallet{}, false
	}
	return s.w.Clone(), true
}

// Online reports whether the chain gateway currently has connectivity.
func (s *Session) Online() bool {
	return s.gateway.Online()
}

// Transactions returns a snapshot of the transaction list, newest first.
func (s *Session) Transactions() []wallet.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.w == nil {
		return nil
	}
	txs := make([]wallet.Transaction, len(s.w.Transactions))
	copy(txs, s.w.Transactions)
	return txs
}

// ReceiveURI builds the payment-request payload for the receive QR code.
func (s *Session) ReceiveURI(amount decimal.Decimal, currency wallet.Currency) (string, error) {
	w, ok := s.Wallet()
	if !ok {
		return "", ErrNoWallet
	}
	return wallet.BuildPaymentURI(w.Address, amount, currency)
}

func (s *Session) current() *wallet.Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w
}

func (s *Session) setWallet(w *wallet.Wallet) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

// commit persists the updated record and, only then, swaps it into
// memory: balance and transaction-list changes from one operation land
// as a single snapshot or not at all.
func (s *Session) commit(ctx context.Context, updated *wallet.Wallet) error {
	if err := s.store.Save(ctx, *updated); err != nil {
		return fmt.Errorf("persist wallet: %w", err)
	}
	s.setWallet(updated)
	return nil
}

func (s *Session) connectGateway(ctx context.Context, w *wallet.Wallet) {
	if w.SigningKey == "" {
		return
	}
	if err := s.gateway.Connect(ctx, w.SigningKey); err != nil {
		s.logger.Warn("gateway connect failed, wallet usable offline", "error", err)
	}
}

// reloadBalances fetches all currencies concurrently and applies only
// the fresh results. Callers hold opMu.
func (s *Session) reloadBalances(ctx context.Context) {
	type result struct {
		currency wallet.Currency
		amount   decimal.Decimal
		err      error
	}

	currencies := wallet.Currencies()
	results := make(chan result, len(currencies))
	var wg sync.WaitGroup
	for _, currency := range currencies {
		wg.Add(1)
		go func(c wallet.Currency) {
			defer wg.Done()
			amount, err := s.gateway.Balance(ctx, c)
			results <- result{currency: c, amount: amount, err: err}
		}(currency)
	}
	wg.Wait()
	close(results)

	w := s.current()
	if w == nil {
		return
	}
	updated := w.Clone()
	changed := false
	for r := range results {
		if r.err != nil {
			s.logger.Warn("balance refresh kept last-known value", "currency", r.currency, "error", r.err)
			continue
		}
		updated.Balances = updated.Balances.WithAmount(r.currency, r.amount)
		changed = true
	}
	if !changed {
		return
	}
	if err := s.commit(ctx, &updated); err != nil {
		s.logger.Error("persist refreshed balances", "error", err)
	}
}

// reloadHistory merges fetched chain history into the local list.
// Callers hold opMu.
func (s *Session) reloadHistory(ctx context.Context) {
	fetched, err := s.gateway.History(ctx)
	if err != nil {
		s.logger.Warn("history reload incomplete", "error", err)
	}
	if len(fetched) == 0 {
		return
	}

	w := s.current()
	if w == nil {
		return
	}
	updated := w.Clone()
	updated.Transactions = mergeTransactions(updated.Transactions, fetched)
	if err := s.commit(ctx, &updated); err != nil {
		s.logger.Error("persist merged history", "error", err)
	}
}

// mergeTransactions combines the local list with fetched history.
// Locally originated pending entries keep the front of the list in
// insertion order; everything else sorts newest first. Fetched entries
// whose id already exists locally are dropped, never duplicated.
func mergeTransactions(local, fetched []wallet.Transaction) []wallet.Transaction {
	seen := make(map[string]struct{}, len(local))
	var head, rest []wallet.Transaction
	for _, tx := range local {
		seen[tx.ID] = struct{}{}
		if tx.Status == wallet.StatusPending {
			head = append(head, tx)
		} else {
			rest = append(rest, tx)
		}
	}
	for _, tx := range fetched {
		if _, ok := seen[tx.ID]; ok {
			continue
		}
		seen[tx.ID] = struct{}{}
		rest = append(rest, tx)
	}

	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].Timestamp.After(rest[j].Timestamp)
	})
	return append(head, rest...)
}

package chain

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

// SimClient is a deterministic in-memory ledger used when no RPC node
// is configured and by unit tests. Balances are seedable and failures
// scriptable.
type SimClient struct {
	mu         sync.Mutex
	account    string
	balances   map[wallet.Currency]decimal.Decimal
	history    []wallet.Transaction
	statuses   map[string]wallet.TxStatus
	settlement wallet.TxStatus

	connectErr  error
	transferErr error
	balanceErr  map[wallet.Currency]error
	historyErr  map[wallet.Currency]error
}

// SimOption customizes a simulated ledger.
type SimOption func(*SimClient)

// WithDemoBalances seeds every currency with a demo starting balance.
func WithDemoBalances(amount decimal.Decimal) SimOption {
	return func(s *SimClient) {
		for _, c := range wallet.Currencies() {
			s.balances[c] = amount
		}
	}
}

// NewSimClient constructs a simulated ledger. Transfers settle as
// confirmed unless scripted otherwise.
func NewSimClient(opts ...SimOption) *SimClient {
	s := &SimClient{
		balances:   make(map[wallet.Currency]decimal.Decimal),
		statuses:   make(map[string]wallet.TxStatus),
		settlement: wallet.StatusConfirmed,
		balanceErr: make(map[wallet.Currency]error),
		historyErr: make(map[wallet.Currency]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedBalance sets the simulated balance for one currency.
func (s *SimClient) SeedBalance(c wallet.Currency, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[c] = amount
}

// SeedHistory appends scripted history entries.
func (s *SimClient) SeedHistory(txs ...wallet.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, txs...)
}

// FailConnect scripts the next Connect outcome.
func (s *SimClient) FailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// FailTransfers scripts Transfer to fail with err.
func (s *SimClient) FailTransfers(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferErr = err
}

// FailBalance scripts BalanceOf for one currency to fail with err.
func (s *SimClient) FailBalance(c wallet.Currency, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceErr[c] = err
}

// FailHistory scripts History for one currency to fail with err.
func (s *SimClient) FailHistory(c wallet.Currency, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyErr[c] = err
}

// SettleTx scripts the status of one already-broadcast transaction.
func (s *SimClient) SettleTx(txID string, status wallet.TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[txID] = status
}

// SetSettlement controls the terminal state simulated transfers reach.
func (s *SimClient) SetSettlement(status wallet.TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlement = status
}

func (s *SimClient) Connect(_ context.Context, key *ecdsa.PrivateKey) error {
	if key == nil {
		return ErrNotConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.account = crypto.PubkeyToAddress(key.PublicKey).Hex()
	return nil
}

func (s *SimClient) BalanceOf(_ context.Context, currency wallet.Currency) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.balanceErr[currency]; err != nil {
		return decimal.Zero, err
	}
	return s.balances[currency], nil
}

func (s *SimClient) Transfer(_ context.Context, to string, amount decimal.Decimal, currency wallet.Currency) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferErr != nil {
		return "", s.transferErr
	}

	txID, err := syntheticTxHash()
	if err != nil {
		return "", err
	}

	balance := s.balances[currency].Sub(amount)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	s.balances[currency] = balance
	s.statuses[txID] = s.settlement
	s.history = append(s.history, wallet.Transaction{
		ID:        txID,
		Kind:      wallet.TxSend,
		Amount:    amount,
		Currency:  currency,
		From:      s.account,
		To:        to,
		Status:    wallet.StatusConfirmed,
		Timestamp: time.Now().UTC(),
	})
	return txID, nil
}

func (s *SimClient) History(_ context.Context, currency wallet.Currency) ([]wallet.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.historyErr[currency]; err != nil {
		return nil, err
	}
	var txs []wallet.Transaction
	for _, tx := range s.history {
		if tx.Currency == currency {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (s *SimClient) TxStatus(_ context.Context, txID string) (wallet.TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[txID]
	if !ok {
		return wallet.StatusPending, nil
	}
	return status, nil
}

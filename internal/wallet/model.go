package wallet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRecipient indicates the destination address fails the
	// structural address check.
	ErrInvalidRecipient = errors.New("invalid recipient address")

	// ErrSelfTransfer indicates the destination equals the sender's own address.
	ErrSelfTransfer = errors.New("cannot send to own address")

	// ErrInvalidAmount indicates a zero or negative transfer amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds occurs when an amount exceeds the last-known
	// balance for the requested currency.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Currency is the closed set of supported token symbols.
type Currency string

const (
	CurrencyUSDT   Currency = "USDT"
	CurrencyUSDC   Currency = "USDC"
	CurrencyAECoin Currency = "AECoin"
)

// Currencies returns every supported currency in display order.
func Currencies() []Currency {
	return []Currency{CurrencyUSDT, CurrencyUSDC, CurrencyAECoin}
}

// ParseCurrency maps a symbol onto the closed currency set.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case CurrencyUSDT:
		return CurrencyUSDT, nil
	case CurrencyUSDC:
		return CurrencyUSDC, nil
	case CurrencyAECoin:
		return CurrencyAECoin, nil
	default:
		return "", fmt.Errorf("unsupported currency %q", s)
	}
}

// Balances holds one amount per supported currency. Every currency is
// always present; the zero value means all balances are zero.
type Balances struct {
	USDT   decimal.Decimal `json:"USDT"`
	USDC   decimal.Decimal `json:"USDC"`
	AECoin decimal.Decimal `json:"AECoin"`
}

// Amount returns the balance for a currency.
func (b Balances) Amount(c Currency) decimal.Decimal {
	switch c {
	case CurrencyUSDC:
		return b.USDC
	case CurrencyAECoin:
		return b.AECoin
	default:
		return b.USDT
	}
}

// WithAmount returns a copy of the balances with one currency replaced.
// Negative amounts are floored at zero.
func (b Balances) WithAmount(c Currency, amount decimal.Decimal) Balances {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	switch c {
	case CurrencyUSDC:
		b.USDC = amount
	case CurrencyAECoin:
		b.AECoin = amount
	default:
		b.USDT = amount
	}
	return b
}

// TxKind distinguishes transfer directions and bank settlements.
type TxKind string

const (
	TxSend         TxKind = "send"
	TxReceive      TxKind = "receive"
	TxBankTransfer TxKind = "bank_transfer"
)

// TxStatus is the transaction state machine: pending is the only
// non-terminal state.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// BankAccount identifies the counterparty of a bank transfer.
type BankAccount struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	HolderName    string `json:"holder_name"`
	IBAN          string `json:"iban"`
}

// Transaction records one transfer attempt. Only Status changes after
// creation, and only once, from pending to a terminal state.
type Transaction struct {
	ID          string          `json:"id"`
	Kind        TxKind          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    Currency        `json:"currency"`
	From        string          `json:"from_address"`
	To          string          `json:"to_address"`
	Status      TxStatus        `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	BankAccount *BankAccount    `json:"bank_account,omitempty"`
}

// Wallet is the root aggregate for one on-device account. RecoveryPhrase
// and SigningKey exist only for wallets created or imported locally and
// are persisted under their own store keys, never inside the wallet blob.
type Wallet struct {
	Address        string        `json:"address"`
	Balances       Balances      `json:"balances"`
	Transactions   []Transaction `json:"transactions"`
	CreatedAt      time.Time     `json:"created_at"`
	RecoveryPhrase string        `json:"-"`
	SigningKey     string        `json:"-"`
}

// Clone returns a deep copy so snapshot readers never alias the
// session's mutable state.
func (w Wallet) Clone() Wallet {
	txs := make([]Transaction, len(w.Transactions))
	copy(txs, w.Transactions)
	w.Transactions = txs
	return w
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ShortAddress renders an address in the 0x1234...abcd display form.
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// FormatAmount renders an amount with its currency symbol using four
// decimal places, the display convention for balances.
func FormatAmount(amount decimal.Decimal, c Currency) string {
	return amount.StringFixed(4) + " " + string(c)
}

// Package store persists the wallet record in an opaque secure blob store.
package store

import (
	"context"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

// Logical blob keys. The recovery phrase and signing key live under
// their own keys and never travel inside the wallet blob.
const (
	KeyWallet     = "wallet"
	KeyMnemonic   = "mnemonic"
	KeyPrivateKey = "private_key"
)

// Store is the secure wallet store. Save replaces the full record
// atomically; Load returns (nil, nil) when no wallet has been stored;
// Clear is idempotent. Storage failures are fatal to the operation in
// progress and propagate to the caller.
type Store interface {
	Save(ctx context.Context, w wallet.Wallet) error
	Load(ctx context.Context) (*wallet.Wallet, error)
	Clear(ctx context.Context) error
}

package store

import (
	"encoding/json"
	"fmt"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

// encodeRecord turns a wallet into its persisted blobs. Secret material
// only produces a blob when present, matching the locality rule for
// imported versus restored wallets.
func encodeRecord(c *Cipher, w wallet.Wallet) (map[string][]byte, error) {
	record, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode wallet: %w", err)
	}

	blobs := map[string][]byte{KeyWallet: record}
	if w.RecoveryPhrase != "" {
		blobs[KeyMnemonic] = []byte(w.RecoveryPhrase)
	}
	if w.SigningKey != "" {
		blobs[KeyPrivateKey] = []byte(w.SigningKey)
	}

	if c != nil {
		for key, blob := range blobs {
			sealed, err := c.Seal(blob)
			if err != nil {
				return nil, fmt.Errorf("seal %s: %w", key, err)
			}
			blobs[key] = sealed
		}
	}
	return blobs, nil
}

// decodeRecord reassembles a wallet from its blobs. A missing wallet
// blob means no record exists.
func decodeRecord(c *Cipher, blobs map[string][]byte) (*wallet.Wallet, error) {
	record, ok := blobs[KeyWallet]
	if !ok {
		return nil, nil
	}

	if c != nil {
		for key, blob := range blobs {
			plain, err := c.Open(blob)
			if err != nil {
				return nil, fmt.Errorf("unseal %s: %w", key, err)
			}
			blobs[key] = plain
		}
		record = blobs[KeyWallet]
	}

	var w wallet.Wallet
	if err := json.Unmarshal(record, &w); err != nil {
		return nil, fmt.Errorf("decode wallet: %w", err)
	}
	if phrase, ok := blobs[KeyMnemonic]; ok {
		w.RecoveryPhrase = string(phrase)
	}
	if key, ok := blobs[KeyPrivateKey]; ok {
		w.SigningKey = string(key)
	}
	return &w, nil
}

func blobKeys() []string {
	return []string{KeyWallet, KeyMnemonic, KeyPrivateKey}
}

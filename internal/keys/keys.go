// Package keys derives wallet accounts from BIP-39 recovery phrases.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidPhrase indicates a recovery phrase that fails word-list,
// length or checksum validation.
var ErrInvalidPhrase = errors.New("invalid recovery phrase")

// phraseEntropyBits is the entropy size for 12-word mnemonics.
const phraseEntropyBits = 128

// ethCoinType is the BIP-44 coin type for Ethereum-style accounts.
const ethCoinType = 60

// Account is the result of deriving the first external account from a
// recovery phrase.
type Account struct {
	// Address is the EIP-55 checksummed 0x-prefixed account address.
	Address string
	// PrivateKey is the raw signing key, hex encoded without prefix.
	PrivateKey string
}

// GeneratePhrase produces a fresh 12-word mnemonic. Entropy comes from
// crypto/rand via bip39.NewEntropy.
func GeneratePhrase() (string, error) {
	entropy, err := bip39.NewEntropy(phraseEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return phrase, nil
}

// ValidatePhrase reports whether a mnemonic is well formed per BIP-39:
// known words, 12 or 24 of them, and a matching checksum word.
func ValidatePhrase(phrase string) bool {
	return bip39.IsMnemonicValid(phrase)
}

// DeriveAccount derives the account at m/44'/60'/0'/0/0 from a recovery
// phrase. Derivation is deterministic: one phrase always maps to one
// address and key. The phrase is validated before any key material is
// touched, and a failure at any derivation step yields no partial result.
func DeriveAccount(phrase string) (Account, error) {
	if !ValidatePhrase(phrase) {
		return Account{}, ErrInvalidPhrase
	}

	seed := bip39.NewSeed(phrase, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return Account{}, fmt.Errorf("derive master key: %w", err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + ethCoinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	}
	key := master
	for _, step := range path {
		if key, err = key.Derive(step); err != nil {
			return Account{}, fmt.Errorf("derive path step %d: %w", step, err)
		}
	}

	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return Account{}, fmt.Errorf("extract private key: %w", err)
	}
	priv := ecPriv.ToECDSA()

	return Account{
		Address:    crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(priv)),
	}, nil
}

// IsValidAddress reports whether a candidate is structurally a valid
// account address (0x prefix, 40 hex chars). It says nothing about
// whether the address has ever been used on-chain.
func IsValidAddress(candidate string) bool {
	return common.IsHexAddress(candidate)
}

// NormalizeAddress maps any accepted hex casing onto the canonical
// EIP-55 checksummed form.
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

package chain

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

const erc20ABIJSON = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// historyBlockSpan bounds how far back Transfer events are scanned.
const historyBlockSpan = 1000

// fallbackTransferGas is used when gas estimation fails, mirroring the
// provider's default for token transfers.
const fallbackTransferGas = 100_000

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// EthereumClient implements Client against an Ethereum JSON-RPC node,
// treating each currency as an ERC-20 token contract.
type EthereumClient struct {
	rpcURL  string
	chainID *big.Int

	mu       sync.Mutex
	eth      *ethclient.Client
	key      *ecdsa.PrivateKey
	account  common.Address
	decimals map[wallet.Currency]int32
}

// NewEthereumClient builds an unconnected ledger client for the node at
// rpcURL. The chain id is queried from the node when zero.
func NewEthereumClient(rpcURL string, chainID int64) *EthereumClient {
	c := &EthereumClient{rpcURL: rpcURL, decimals: make(map[wallet.Currency]int32)}
	if chainID > 0 {
		c.chainID = big.NewInt(chainID)
	}
	return c
}

// Connect dials the node and binds the signing account.
func (c *EthereumClient) Connect(ctx context.Context, key *ecdsa.PrivateKey) error {
	if key == nil {
		return ErrNotConnected
	}

	eth, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return fmt.Errorf("dial ledger node: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID == nil {
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return fmt.Errorf("query chain id: %w", err)
		}
		c.chainID = chainID
	}

	if c.eth != nil {
		c.eth.Close()
	}
	c.eth = eth
	c.key = key
	c.account = crypto.PubkeyToAddress(key.PublicKey)
	return nil
}

func (c *EthereumClient) conn() (*ethclient.Client, common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil {
		return nil, common.Address{}, ErrNotConnected
	}
	return c.eth, c.account, nil
}

// BalanceOf queries balanceOf on the currency's token contract and
// scales the raw amount by the token's decimals.
func (c *EthereumClient) BalanceOf(ctx context.Context, currency wallet.Currency) (decimal.Decimal, error) {
	eth, account, err := c.conn()
	if err != nil {
		return decimal.Zero, err
	}
	token, ok := tokenContract(currency)
	if !ok {
		// Placeholder contract: the token is not deployed yet.
		return decimal.Zero, nil
	}

	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack balanceOf: %w", err)
	}
	raw, err := eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("call balanceOf(%s): %w", currency, err)
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(out) != 1 {
		return decimal.Zero, fmt.Errorf("unpack balanceOf(%s): %w", currency, err)
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("balanceOf(%s): unexpected return type", currency)
	}

	dec, err := c.tokenDecimals(ctx, currency, token)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(amount, -dec), nil
}

// Transfer broadcasts a signed ERC-20 transfer and returns its hash.
func (c *EthereumClient) Transfer(ctx context.Context, to string, amount decimal.Decimal, currency wallet.Currency) (string, error) {
	eth, account, err := c.conn()
	if err != nil {
		return "", err
	}
	token, ok := tokenContract(currency)
	if !ok {
		// Placeholder contract: emit a synthetic hash as the provider
		// does for tokens without a deployed contract.
		return syntheticTxHash()
	}

	dec, err := c.tokenDecimals(ctx, currency, token)
	if err != nil {
		return "", err
	}
	rawAmount := amount.Shift(dec).BigInt()

	data, err := erc20ABI.Pack("transfer", common.HexToAddress(to), rawAmount)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}

	nonce, err := eth.PendingNonceAt(ctx, account)
	if err != nil {
		return "", fmt.Errorf("query nonce: %w", err)
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := eth.EstimateGas(ctx, ethereum.CallMsg{From: account, To: &token, Data: data})
	if err != nil {
		gasLimit = fallbackTransferGas
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast transfer: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// History scans recent Transfer events involving the bound account.
func (c *EthereumClient) History(ctx context.Context, currency wallet.Currency) ([]wallet.Transaction, error) {
	eth, account, err := c.conn()
	if err != nil {
		return nil, err
	}
	token, ok := tokenContract(currency)
	if !ok {
		return nil, nil
	}

	head, err := eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("query head block: %w", err)
	}
	from := big.NewInt(0)
	if head > historyBlockSpan {
		from = new(big.Int).SetUint64(head - historyBlockSpan)
	}

	transferTopic := erc20ABI.Events["Transfer"].ID
	accountTopic := common.BytesToHash(account.Bytes())

	queries := []ethereum.FilterQuery{
		{FromBlock: from, Addresses: []common.Address{token}, Topics: [][]common.Hash{{transferTopic}, {accountTopic}}},
		{FromBlock: from, Addresses: []common.Address{token}, Topics: [][]common.Hash{{transferTopic}, nil, {accountTopic}}},
	}

	dec, err := c.tokenDecimals(ctx, currency, token)
	if err != nil {
		return nil, err
	}

	headerTimes := make(map[uint64]int64)
	var txs []wallet.Transaction
	for _, q := range queries {
		logs, err := eth.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("filter %s transfers: %w", currency, err)
		}
		for _, entry := range logs {
			if len(entry.Topics) < 3 {
				continue
			}
			ts, ok := headerTimes[entry.BlockNumber]
			if !ok {
				header, err := eth.HeaderByNumber(ctx, new(big.Int).SetUint64(entry.BlockNumber))
				if err != nil {
					return txs, fmt.Errorf("query block %d: %w", entry.BlockNumber, err)
				}
				ts = int64(header.Time)
				headerTimes[entry.BlockNumber] = ts
			}

			sender := common.BytesToAddress(entry.Topics[1].Bytes())
			recipient := common.BytesToAddress(entry.Topics[2].Bytes())
			kind := wallet.TxReceive
			if sender == account {
				kind = wallet.TxSend
			}
			txs = append(txs, wallet.Transaction{
				ID:        entry.TxHash.Hex(),
				Kind:      kind,
				Amount:    decimal.NewFromBigInt(new(big.Int).SetBytes(entry.Data), -dec),
				Currency:  currency,
				From:      sender.Hex(),
				To:        recipient.Hex(),
				Status:    wallet.StatusConfirmed,
				Timestamp: unixTime(ts),
			})
		}
	}
	return txs, nil
}

// TxStatus inspects the transaction receipt: no receipt means still
// pending, a receipt resolves to confirmed or failed.
func (c *EthereumClient) TxStatus(ctx context.Context, txID string) (wallet.TxStatus, error) {
	eth, _, err := c.conn()
	if err != nil {
		return wallet.StatusPending, err
	}

	receipt, err := eth.TransactionReceipt(ctx, common.HexToHash(txID))
	if errors.Is(err, ethereum.NotFound) {
		return wallet.StatusPending, nil
	}
	if err != nil {
		return wallet.StatusPending, fmt.Errorf("query receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return wallet.StatusConfirmed, nil
	}
	return wallet.StatusFailed, nil
}

func (c *EthereumClient) tokenDecimals(ctx context.Context, currency wallet.Currency, token common.Address) (int32, error) {
	c.mu.Lock()
	if dec, ok := c.decimals[currency]; ok {
		c.mu.Unlock()
		return dec, nil
	}
	eth := c.eth
	c.mu.Unlock()

	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}
	raw, err := eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals(%s): %w", currency, err)
	}
	out, err := erc20ABI.Unpack("decimals", raw)
	if err != nil || len(out) != 1 {
		return 0, fmt.Errorf("unpack decimals(%s): %w", currency, err)
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals(%s): unexpected return type", currency)
	}

	c.mu.Lock()
	c.decimals[currency] = int32(dec)
	c.mu.Unlock()
	return int32(dec), nil
}

func tokenContract(currency wallet.Currency) (common.Address, bool) {
	token := TokenContracts[currency]
	return token, token != (common.Address{})
}

func unixTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

func syntheticTxHash() (string, error) {
	buf := make([]byte, common.HashLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate synthetic tx hash: %w", err)
	}
	return hexutil.Encode(buf), nil
}

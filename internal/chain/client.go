// Package chain provides Ethereum interaction for the attendance service:
// token balance reads and reward transfers signed by the service wallet.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// tokenABI mirrors the reward token contract surface the service consumes.
const tokenABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"participant","type":"address"},{"name":"amount","type":"uint256"}],"name":"rewardParticipant","outputs":[],"type":"function"}
]`

// TxStatus is the observed state of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxReverted  TxStatus = "reverted"
	TxUnknown   TxStatus = "unknown"
)

// ErrNoReceipt is returned while a transaction has not been mined yet.
var ErrNoReceipt = errors.New("transaction not mined")

// Config holds client configuration.
type Config struct {
	RPCURL        string
	PrivateKey    string // hex-encoded service wallet key
	TokenContract string
	TokenDecimals uint8 // fallback when the contract does not expose decimals()
	Timeout       time.Duration
}

// Client wraps an Ethereum RPC connection, the service wallet and the reward
// token contract. Submissions are serialized by an internal mutex so the
// single sender wallet never reuses a nonce; this holds for a single service
// instance only.
type Client struct {
	eth      *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	token    common.Address
	abi      abi.ABI
	timeout  time.Duration
	nonceMu  sync.Mutex
	decOnce  sync.Once
	decimals uint8
	fallback uint8
}

// Dial connects to the configured RPC endpoint and prepares the service
// wallet.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if !common.IsHexAddress(cfg.TokenContract) {
		return nil, fmt.Errorf("token contract address %q invalid", cfg.TokenContract)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse service wallet key: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("parse token abi: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	fallback := cfg.TokenDecimals
	if fallback == 0 {
		fallback = 18
	}

	return &Client{
		eth:      eth,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		token:    common.HexToAddress(cfg.TokenContract),
		abi:      parsed,
		timeout:  timeout,
		fallback: fallback,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// From returns the service wallet address.
func (c *Client) From() common.Address {
	return c.from
}

// ChainID returns the connected network's chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Healthy reports whether the RPC endpoint answers.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.eth.BlockNumber(ctx)
	return err == nil
}

// BalanceOf returns the token balance of an address in base units.
func (c *Client) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("address %q invalid", address)
	}

	input, err := c.abi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}

	results, err := c.abi.Unpack("balanceOf", out)
	if err != nil || len(results) != 1 {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}
	return balance, nil
}

// Decimals returns the token's decimals, read from the contract once and
// cached. Falls back to the configured default when the contract does not
// answer.
func (c *Client) Decimals(ctx context.Context) uint8 {
	c.decOnce.Do(func() {
		c.decimals = c.fallback
		input, err := c.abi.Pack("decimals")
		if err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		out, err := c.eth.CallContract(callCtx, ethereum.CallMsg{To: &c.token, Data: input}, nil)
		if err != nil {
			return
		}
		results, err := c.abi.Unpack("decimals", out)
		if err != nil || len(results) != 1 {
			return
		}
		if dec, ok := results[0].(uint8); ok {
			c.decimals = dec
		}
	})
	return c.decimals
}

// Reward submits a rewardParticipant transfer for amount base units and
// returns the transaction hash. The nonce fetch, signing and send happen
// under one lock so concurrent claims cannot collide on the wallet nonce.
func (c *Client) Reward(ctx context.Context, participant string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(participant) {
		return "", fmt.Errorf("participant address %q invalid", participant)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}

	input, err := c.abi.Pack("rewardParticipant", common.HexToAddress(participant), amount)
	if err != nil {
		return "", fmt.Errorf("pack rewardParticipant: %w", err)
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.token,
		Data: input,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, c.token, big.NewInt(0), gasLimit, gasPrice, input)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitMined polls for the receipt of txHash until it is mined or ctx ends.
func (c *Client) WaitMined(ctx context.Context, txHash string) (TxStatus, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		status, err := c.TransactionStatus(ctx, txHash)
		if err == nil && status != TxPending {
			return status, nil
		}
		if err != nil && !errors.Is(err, ErrNoReceipt) {
			return TxUnknown, err
		}

		select {
		case <-ctx.Done():
			return TxPending, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TransactionStatus looks up the current state of a transaction: confirmed or
// reverted once mined, pending while known to the node, unknown when the node
// has never seen it.
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err == nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return TxConfirmed, nil
		}
		return TxReverted, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return TxUnknown, fmt.Errorf("fetch receipt: %w", err)
	}

	if _, _, err := c.eth.TransactionByHash(ctx, hash); err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxUnknown, nil
		}
		return TxUnknown, fmt.Errorf("fetch transaction: %w", err)
	}
	return TxPending, ErrNoReceipt
}

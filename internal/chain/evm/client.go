// Package evm implements the contract-chain network client on top of
// go-ethereum's JSON-RPC client.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mrz1836/herald/internal/chain"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

const (
	defaultPollInterval   = 4 * time.Second
	defaultReceiptTimeout = 10 * time.Minute
	maxPollErrors         = 5
)

var (
	// ErrRPCURLRequired indicates the RPC URL was not provided.
	ErrRPCURLRequired = &heralderr.HeraldError{
		Code:     "EVM_RPC_URL_REQUIRED",
		Message:  "RPC URL is required",
		ExitCode: heralderr.ExitInput,
	}

	// ErrWrongPayload indicates a payload of another chain type was passed in.
	ErrWrongPayload = &heralderr.HeraldError{
		Code:     "EVM_WRONG_PAYLOAD",
		Message:  "payload is not a contract-chain payload",
		ExitCode: heralderr.ExitInput,
	}

	// ErrReceiptTimeout indicates no receipt appeared before the deadline.
	ErrReceiptTimeout = &heralderr.HeraldError{
		Code:     "EVM_RECEIPT_TIMEOUT",
		Message:  "transaction receipt not found before timeout",
		ExitCode: heralderr.ExitGeneral,
	}
)

// ClientOptions contains optional configuration for the client.
type ClientOptions struct {
	PollInterval   time.Duration // Receipt polling interval
	ReceiptTimeout time.Duration // Give up waiting for a receipt after this long
}

// Compile-time interface checks
var (
	_ chain.Network          = (*Client)(nil)
	_ chain.TransferPreparer = (*Client)(nil)
	_ chain.ClientCloser     = (*Client)(nil)
)

// Client provides contract-chain operations.
type Client struct {
	info           chain.Info
	rpcURL         string
	pollInterval   time.Duration
	receiptTimeout time.Duration
	nonces         *nonceTracker

	mu        sync.Mutex
	ethClient *ethclient.Client
	chainID   *big.Int
}

// NewClient creates a client. The connection is opened on first use.
func NewClient(info chain.Info, rpcURL string, opts *ClientOptions) (*Client, error) {
	if rpcURL == "" {
		return nil, ErrRPCURLRequired
	}

	c := &Client{
		info:           info,
		rpcURL:         rpcURL,
		pollInterval:   defaultPollInterval,
		receiptTimeout: defaultReceiptTimeout,
		nonces:         newNonceTracker(),
	}
	if info.EVMChainID != 0 {
		c.chainID = big.NewInt(info.EVMChainID)
	}
	if opts != nil {
		if opts.PollInterval > 0 {
			c.pollInterval = opts.PollInterval
		}
		if opts.ReceiptTimeout > 0 {
			c.receiptTimeout = opts.ReceiptTimeout
		}
	}
	return c, nil
}

// Creator adapts NewClient to chain.Creator.
func Creator(opts *ClientOptions) chain.Creator {
	return func(_ context.Context, info chain.Info, rpcURL string) (chain.Network, error) {
		return NewClient(info, rpcURL, opts)
	}
}

// Info returns the network metadata.
func (c *Client) Info() chain.Info {
	return c.info
}

// EstimateFee returns gas price * estimated gas for the payload.
func (c *Client) EstimateFee(ctx context.Context, payload chain.Payload) (*big.Int, error) {
	p, err := asPayload(payload)
	if err != nil {
		return nil, err
	}
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	gasPrice := p.GasPrice
	if gasPrice == nil {
		if gasPrice, err = client.SuggestGasPrice(ctx); err != nil {
			return nil, nodeError("getting gas price", err)
		}
	}

	gasLimit := p.GasLimit
	if gasLimit == 0 {
		if gasLimit, err = c.estimateGas(ctx, client, p); err != nil {
			return nil, err
		}
	}

	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit)), nil
}

// GetFreeBalance returns the latest balance of address in wei.
func (c *Client) GetFreeBalance(ctx context.Context, address string) (*big.Int, error) {
	if !IsValidAddress(address) {
		return nil, heralderr.WithDetails(heralderr.ErrInvalidAddress, map[string]string{"address": address})
	}
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, nodeError("getting balance", err)
	}
	return balance, nil
}

// GetMinimumBalance returns the configured minimum balance, zero by default.
func (c *Client) GetMinimumBalance(context.Context) (*big.Int, error) {
	if c.info.MinimumBalance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(c.info.MinimumBalance), nil
}

// PrepareTransfer builds a plain value transfer payload.
func (c *Client) PrepareTransfer(_ context.Context, from, to string, amount *big.Int) (chain.Payload, error) {
	p := &Payload{From: from, To: to, Value: new(big.Int).Set(amount)}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// PrepareSigning fills nonce, gas price and gas limit, then derives the
// EIP-155 signing hash.
func (c *Client) PrepareSigning(ctx context.Context, payload chain.Payload) (*chain.Signable, error) {
	src, err := asPayload(payload)
	if err != nil {
		return nil, err
	}
	if err = src.Validate(); err != nil {
		return nil, err
	}
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	p := src.Clone()
	if p.Nonce == nil {
		pending, nonceErr := client.PendingNonceAt(ctx, common.HexToAddress(p.From))
		if nonceErr != nil {
			return nil, nodeError("getting nonce", nonceErr)
		}
		nonce := c.nonces.peek(p.From, pending)
		p.Nonce = &nonce
	}
	if p.GasPrice == nil {
		if p.GasPrice, err = client.SuggestGasPrice(ctx); err != nil {
			return nil, nodeError("getting gas price", err)
		}
	}
	if p.GasLimit == 0 {
		if p.GasLimit, err = c.estimateGas(ctx, client, p); err != nil {
			return nil, err
		}
	}

	chainID, err := c.getChainID(ctx, client)
	if err != nil {
		return nil, err
	}
	return signable(p, chainID)
}

// BuildAndSubmit broadcasts the raw signed transaction and polls for its receipt.
// A successful receipt is reported as StatusInBlock; a reverted one as StatusError.
func (c *Client) BuildAndSubmit(ctx context.Context, payload chain.Payload, signed []byte) (<-chan chain.Status, error) {
	p, err := asPayload(payload)
	if err != nil {
		return nil, err
	}
	tx, err := decodeSigned(signed)
	if err != nil {
		return nil, err
	}
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	if err = client.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("broadcasting transaction: %w", err)
	}
	c.nonces.submitted(p.From, tx.Nonce())

	out := make(chan chain.Status, 4)
	go c.watchReceipt(ctx, client, tx.Hash(), out)
	return out, nil
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ethClient != nil {
		c.ethClient.Close()
		c.ethClient = nil
	}
}

func (c *Client) watchReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash, out chan<- chain.Status) {
	defer close(out)

	hashHex := hash.Hex()
	if !emit(ctx, out, chain.Status{Kind: chain.StatusBroadcast, Hash: hashHex}) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				emit(context.Background(), out, chain.Status{Kind: chain.StatusError, Hash: hashHex, Err: ErrReceiptTimeout})
			}
			return
		case <-ticker.C:
		}

		receipt, err := client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			failures++
			if failures >= maxPollErrors {
				emit(ctx, out, chain.Status{
					Kind: chain.StatusError,
					Hash: hashHex,
					Err:  heralderr.WithCause(heralderr.ErrChainDisconnected, err),
				})
				return
			}
			continue
		}

		status := chain.Status{
			Kind:      chain.StatusInBlock,
			Hash:      hashHex,
			BlockHash: receipt.BlockHash.Hex(),
		}
		if receipt.BlockNumber != nil {
			status.BlockNumber = receipt.BlockNumber.Uint64()
		}
		if receipt.Status != 1 {
			status.Kind = chain.StatusError
			status.Err = heralderr.WithDetail(heralderr.ErrSendTransactionFailed, "execution reverted")
		}
		emit(ctx, out, status)
		return
	}
}

func emit(ctx context.Context, out chan<- chain.Status, status chain.Status) bool {
	select {
	case out <- status:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) estimateGas(ctx context.Context, client *ethclient.Client, p *Payload) (uint64, error) {
	to := common.HexToAddress(p.To)
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  common.HexToAddress(p.From),
		To:    &to,
		Value: p.Value,
		Data:  p.Data,
	})
	if err != nil {
		if len(p.Data) == 0 {
			return GasLimitTransfer, nil
		}
		return 0, nodeError("estimating gas", err)
	}
	return gas, nil
}

func (c *Client) getChainID(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
	c.mu.Lock()
	known := c.chainID
	c.mu.Unlock()
	if known != nil {
		return known, nil
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, nodeError("getting chain ID", err)
	}

	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return id, nil
}

// nodeError wraps a failed node read. Overloaded or failing nodes (HTTP 429
// and 5xx) are marked transient; JSON-RPC rejections are not.
func nodeError(op string, err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError) {
		err = chain.WrapRetryable(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// connect dials the RPC endpoint if not already connected.
func (c *Client) connect(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ethClient != nil {
		return c.ethClient, nil
	}

	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, heralderr.WithCause(heralderr.ErrChainDisconnected, err)
	}
	c.ethClient = client
	return client, nil
}

func asPayload(payload chain.Payload) (*Payload, error) {
	p, ok := payload.(*Payload)
	if !ok || p == nil {
		return nil, ErrWrongPayload
	}
	return p, nil
}

// Package substrate implements the extrinsic-chain network client: SCALE
// encoding of balance transfers, SS58 addresses, ed25519-signed v4
// extrinsics and JSON-RPC over websocket.
package substrate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/mrz1836/herald/internal/chain"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

var (
	// ErrRPCURLRequired indicates the RPC URL was not provided.
	ErrRPCURLRequired = &heralderr.HeraldError{
		Code:     "SUBSTRATE_RPC_URL_REQUIRED",
		Message:  "RPC URL is required",
		ExitCode: heralderr.ExitInput,
	}

	// ErrWrongPayload indicates a payload of another chain type was passed in.
	ErrWrongPayload = &heralderr.HeraldError{
		Code:     "SUBSTRATE_WRONG_PAYLOAD",
		Message:  "payload is not an extrinsic-chain payload",
		ExitCode: heralderr.ExitInput,
	}

	// ErrExtrinsicFailed indicates the transaction pool dropped or invalidated the extrinsic.
	ErrExtrinsicFailed = &heralderr.HeraldError{
		Code:     "SUBSTRATE_EXTRINSIC_FAILED",
		Message:  "extrinsic was not included",
		ExitCode: heralderr.ExitRejected,
	}
)

// ClientOptions contains optional configuration for the client.
type ClientOptions struct {
	TransferCallIndex *[2]byte // Defaults to DefaultTransferCallIndex
	MetadataHash      bool     // Runtime requires the CheckMetadataHash extension
}

// Compile-time interface checks
var (
	_ chain.Network          = (*Client)(nil)
	_ chain.TransferPreparer = (*Client)(nil)
	_ chain.ClientCloser     = (*Client)(nil)
)

type runtimeVersion struct {
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

// Client provides extrinsic-chain operations over a websocket JSON-RPC endpoint.
type Client struct {
	info      chain.Info
	rpcURL    string
	callIndex [2]byte
	metaHash  bool

	mu      sync.Mutex
	conn    *rpcConn
	runtime *runtimeVersion
	genesis *[32]byte
}

// NewClient creates a client. The websocket is opened on first use.
func NewClient(info chain.Info, rpcURL string, opts *ClientOptions) (*Client, error) {
	if rpcURL == "" {
		return nil, ErrRPCURLRequired
	}

	c := &Client{
		info:      info,
		rpcURL:    rpcURL,
		callIndex: DefaultTransferCallIndex,
	}
	if opts != nil {
		c.metaHash = opts.MetadataHash
		if opts.TransferCallIndex != nil {
			c.callIndex = *opts.TransferCallIndex
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

// EstimateFee quotes the partial fee of the payload through payment_queryInfo,
// using a zero signature of the correct length.
func (c *Client) EstimateFee(ctx context.Context, payload chain.Payload) (*big.Int, error) {
	src, err := asPayload(payload)
	if err != nil {
		return nil, err
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	p, err := c.normalize(ctx, conn, src)
	if err != nil {
		return nil, err
	}

	encoded, err := p.Encode(make([]byte, SignatureLength))
	if err != nil {
		return nil, err
	}

	var info struct {
		PartialFee numeric `json:"partialFee"`
	}
	if err = conn.call(ctx, "payment_queryInfo", &info, hexBytes(encoded)); err != nil {
		return nil, fmt.Errorf("querying payment info: %w", err)
	}
	if info.PartialFee.Int == nil {
		return new(big.Int), nil
	}
	return info.PartialFee.Int, nil
}

// GetFreeBalance reads System.Account(address).data.free.
func (c *Client) GetFreeBalance(ctx context.Context, address string) (*big.Int, error) {
	id, _, err := DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	var raw *string
	if err = conn.call(ctx, "state_getStorage", &raw, systemAccountKey(id)); err != nil {
		return nil, fmt.Errorf("reading account storage: %w", err)
	}
	if raw == nil {
		return new(big.Int), nil
	}

	data, err := decodeHex(*raw)
	if err != nil {
		return nil, err
	}
	return decodeFreeBalance(data)
}

// GetMinimumBalance returns the configured existential deposit.
func (c *Client) GetMinimumBalance(context.Context) (*big.Int, error) {
	if c.info.MinimumBalance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(c.info.MinimumBalance), nil
}

// PrepareTransfer builds a transfer_keep_alive payload.
func (c *Client) PrepareTransfer(_ context.Context, from, to string, amount *big.Int) (chain.Payload, error) {
	if !IsValidAddress(from) {
		return nil, invalidAddress(from)
	}
	dest, _, err := DecodeAddress(to)
	if err != nil {
		return nil, err
	}
	call, err := TransferCall(c.callIndex, dest, amount)
	if err != nil {
		return nil, err
	}
	return &Payload{From: from, Call: call}, nil
}

// PrepareSigning fills nonce, runtime versions and genesis hash, then builds
// the signing payload.
func (c *Client) PrepareSigning(ctx context.Context, payload chain.Payload) (*chain.Signable, error) {
	src, err := asPayload(payload)
	if err != nil {
		return nil, err
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	p, err := c.normalize(ctx, conn, src)
	if err != nil {
		return nil, err
	}

	raw, err := p.SigningPayload()
	if err != nil {
		return nil, err
	}

	return &chain.Signable{
		Payload: p,
		Message: SigningMessage(raw),
		Display: raw,
		Assemble: func(signature []byte) ([]byte, error) {
			return normalizeSignature(signature)
		},
	}, nil
}

// BuildAndSubmit encodes the signed extrinsic and submits it with
// author_submitAndWatchExtrinsic, translating pool updates into statuses.
func (c *Client) BuildAndSubmit(ctx context.Context, payload chain.Payload, signed []byte) (<-chan chain.Status, error) {
	p, err := asPayload(payload)
	if err != nil {
		return nil, err
	}
	encoded, err := p.Encode(signed)
	if err != nil {
		return nil, err
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := conn.subscribe(ctx, "author_submitAndWatchExtrinsic", "author_unwatchExtrinsic", hexBytes(encoded))
	if err != nil {
		return nil, fmt.Errorf("submitting extrinsic: %w", err)
	}

	out := make(chan chain.Status, 4)
	go c.watch(ctx, conn, sub, ExtrinsicHash(encoded), out)
	return out, nil
}

// Close closes the websocket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.close()
		c.conn = nil
	}
}

// watch translates transaction pool updates until a terminal one.
func (c *Client) watch(ctx context.Context, conn *rpcConn, sub *subscription, hash string, out chan<- chain.Status) {
	defer close(out)
	defer sub.Close()

	broadcast, included := false, false
	send := func(s chain.Status) bool {
		s.Hash = hash
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}
	announce := func() bool {
		if broadcast {
			return true
		}
		broadcast = true
		return send(chain.Status{Kind: chain.StatusBroadcast})
	}

	for {
		var raw json.RawMessage
		var ok bool
		select {
		case raw, ok = <-sub.C:
			if !ok {
				send(chain.Status{Kind: chain.StatusError, Err: heralderr.WithCause(heralderr.ErrChainDisconnected, ErrConnectionClosed)})
				return
			}
		case <-ctx.Done():
			return
		}

		update := parseUpdate(raw)
		switch update.kind {
		case "ready", "future", "broadcast":
			if !announce() {
				return
			}
		case "inBlock":
			if !announce() {
				return
			}
			included = true
			if !send(chain.Status{Kind: chain.StatusInBlock, BlockHash: update.block, BlockNumber: c.blockNumber(ctx, conn, update.block)}) {
				return
			}
		case "finalized":
			if !announce() {
				return
			}
			number := c.blockNumber(ctx, conn, update.block)
			if !included && !send(chain.Status{Kind: chain.StatusInBlock, BlockHash: update.block, BlockNumber: number}) {
				return
			}
			send(chain.Status{Kind: chain.StatusFinalized, BlockHash: update.block, BlockNumber: number})
			return
		case "retracted":
			included = false
		case "usurped", "dropped", "invalid", "finalityTimeout":
			send(chain.Status{Kind: chain.StatusError, BlockHash: update.block, Err: heralderr.WithDetail(ErrExtrinsicFailed, update.kind)})
			return
		}
	}
}

// blockNumber resolves a block hash to its number; 0 if unavailable.
func (c *Client) blockNumber(ctx context.Context, conn *rpcConn, blockHash string) uint64 {
	if blockHash == "" {
		return 0
	}
	var header struct {
		Number string `json:"number"`
	}
	if err := conn.call(ctx, "chain_getHeader", &header, blockHash); err != nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(header.Number, "0x"), 16, 64)
	if err != nil {
		return 0
	}
	return n
}

// normalize fills the fields the node knows about.
func (c *Client) normalize(ctx context.Context, conn *rpcConn, src *Payload) (*Payload, error) {
	if !IsValidAddress(src.From) {
		return nil, invalidAddress(src.From)
	}
	if len(src.Call) == 0 {
		return nil, heralderr.WithDetail(heralderr.ErrUnsupported, "empty call")
	}

	p := src.Clone()
	p.MetadataHash = c.metaHash
	if p.Nonce == nil {
		var nonce uint64
		if err := conn.call(ctx, "system_accountNextIndex", &nonce, p.From); err != nil {
			return nil, fmt.Errorf("getting nonce: %w", err)
		}
		p.Nonce = &nonce
	}

	if p.SpecVersion == 0 || p.TxVersion == 0 {
		rv, err := c.runtimeVersion(ctx, conn)
		if err != nil {
			return nil, err
		}
		p.SpecVersion = rv.SpecVersion
		p.TxVersion = rv.TransactionVersion
	}

	if p.GenesisHash == ([32]byte{}) {
		genesis, err := c.genesisHash(ctx, conn)
		if err != nil {
			return nil, err
		}
		p.GenesisHash = genesis
	}
	return p, nil
}

func (c *Client) runtimeVersion(ctx context.Context, conn *rpcConn) (runtimeVersion, error) {
	c.mu.Lock()
	cached := c.runtime
	c.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	var rv runtimeVersion
	if err := conn.call(ctx, "state_getRuntimeVersion", &rv); err != nil {
		return rv, fmt.Errorf("getting runtime version: %w", err)
	}

	c.mu.Lock()
	c.runtime = &rv
	c.mu.Unlock()
	return rv, nil
}

func (c *Client) genesisHash(ctx context.Context, conn *rpcConn) ([32]byte, error) {
	var genesis [32]byte

	c.mu.Lock()
	cached := c.genesis
	c.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	var raw string
	if err := conn.call(ctx, "chain_getBlockHash", &raw, 0); err != nil {
		return genesis, fmt.Errorf("getting genesis hash: %w", err)
	}
	b, err := decodeHex(raw)
	if err != nil || len(b) != len(genesis) {
		return genesis, fmt.Errorf("invalid genesis hash %q", raw)
	}
	copy(genesis[:], b)

	c.mu.Lock()
	c.genesis = &genesis
	c.mu.Unlock()
	return genesis, nil
}

// connect dials the websocket if not already connected, or reconnects after a drop.
func (c *Client) connect(ctx context.Context) (*rpcConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		select {
		case <-c.conn.done:
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	conn, err := dialRPC(ctx, c.rpcURL)
	if err != nil {
		return nil, heralderr.WithCause(heralderr.ErrChainDisconnected, err)
	}
	c.conn = conn
	return conn, nil
}

// poolUpdate is a decoded author_extrinsicUpdate notification.
type poolUpdate struct {
	kind  string
	block string
}

// parseUpdate accepts both the bare-string and single-key object forms.
func parseUpdate(raw json.RawMessage) poolUpdate {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return poolUpdate{kind: s}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return poolUpdate{}
	}
	for kind, value := range obj {
		update := poolUpdate{kind: kind}
		var block string
		if json.Unmarshal(value, &block) == nil {
			update.block = block
		}
		return update
	}
	return poolUpdate{}
}

// numeric decodes balances reported either as JSON numbers or decimal/hex strings.
type numeric struct {
	*big.Int
}

func (n *numeric) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	base := 10
	if strings.HasPrefix(s, "0x") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return fmt.Errorf("invalid numeric value %s", data)
	}
	n.Int = v
	return nil
}

func hexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding hex: %w", err)
	}
	return b, nil
}

func asPayload(payload chain.Payload) (*Payload, error) {
	p, ok := payload.(*Payload)
	if !ok || p == nil {
		return nil, ErrWrongPayload
	}
	return p, nil
}

package substrate

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/herald/internal/chain"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

const (
	testGenesis = "0x91b171bb158e2d3848fa23a9f1c25182fb8e20313b2c1eb49219da7a70ce90c3"
	testBlock   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

// mockNode is a scripted JSON-RPC node served over websocket.
type mockNode struct {
	t       *testing.T
	mu      sync.Mutex
	results map[string]any
	updates []any // notifications pushed after author_submitAndWatchExtrinsic
	calls   map[string][]json.RawMessage
	drops   int // connections closed on their first request
}

func newMockNode(t *testing.T, results map[string]any, updates []any) (*mockNode, string) {
	t.Helper()
	node := &mockNode{t: t, results: results, updates: updates, calls: make(map[string][]json.RawMessage)}
	server := httptest.NewServer(http.HandlerFunc(node.serve))
	t.Cleanup(server.Close)
	return node, "ws" + strings.TrimPrefix(server.URL, "http")
}

func (n *mockNode) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		n.mu.Lock()
		n.calls[req.Method] = append(n.calls[req.Method], req.Params...)
		result, ok := n.results[req.Method]
		drop := n.drops > 0
		if drop {
			n.drops--
		}
		n.mu.Unlock()
		if drop {
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if ok {
			resp["result"] = result
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}

		if req.Method == "author_submitAndWatchExtrinsic" && ok {
			for _, update := range n.updates {
				if err := conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0",
					"method":  "author_extrinsicUpdate",
					"params":  map[string]any{"subscription": result, "result": update},
				}); err != nil {
					return
				}
			}
		}
	}
}

// dropNext closes the next connection on its first request.
func (n *mockNode) dropNext() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drops++
}

func (n *mockNode) params(method string) []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]json.RawMessage(nil), n.calls[method]...)
}

func nodeResults(t *testing.T) map[string]any {
	t.Helper()
	return map[string]any{
		"system_accountNextIndex": 3,
		"state_getRuntimeVersion": map[string]any{"specVersion": 1002000, "transactionVersion": 26},
		"chain_getBlockHash":      testGenesis,
		"chain_getHeader":         map[string]any{"number": "0x1a"},
		"payment_queryInfo":       map[string]any{"class": "normal", "partialFee": "158000000"},
		"state_getStorage":        "0x" + hex.EncodeToString(accountInfo(2_000_000_000_000)),
		"author_unwatchExtrinsic": true,
	}
}

func polkadotInfo() chain.Info {
	return chain.Info{
		ID:             "polkadot",
		Name:           "Polkadot",
		Type:           chain.Extrinsic,
		Symbol:         "DOT",
		Decimals:       10,
		MinimumBalance: big.NewInt(10_000_000_000),
	}
}

func drain(t *testing.T, ch <-chan chain.Status) []chain.Status {
	t.Helper()
	var out []chain.Status
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
		case <-timeout:
			t.Fatal("status stream did not close")
			return out
		}
	}
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	_, err := NewClient(polkadotInfo(), "", nil)
	require.ErrorIs(t, err, ErrRPCURLRequired)

	idx := [2]byte{0x0a, 0x03}
	c, err := NewClient(polkadotInfo(), "ws://localhost:9944", &ClientOptions{TransferCallIndex: &idx, MetadataHash: true})
	require.NoError(t, err)
	assert.Equal(t, idx, c.callIndex)
	assert.True(t, c.metaHash)
	assert.Equal(t, "DOT", c.Info().Symbol)
}

func TestClient_BalancesAndFee(t *testing.T) {
	t.Parallel()
	_, from := testKey(t)
	node, url := newMockNode(t, nodeResults(t), nil)

	c, err := NewClient(polkadotInfo(), url, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	free, err := c.GetFreeBalance(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000", free.String())

	minBal, err := c.GetMinimumBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10000000000", minBal.String())

	payload, err := c.PrepareTransfer(context.Background(), from, aliceGeneric, big.NewInt(12345))
	require.NoError(t, err)

	fee, err := c.EstimateFee(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "158000000", fee.String())

	keys := node.params("state_getStorage")
	require.Len(t, keys, 1)
	assert.Contains(t, string(keys[0]), "0x26aa394eea5630e07c48ae0c9558cef7")

	_, err = c.GetFreeBalance(context.Background(), "bogus")
	require.ErrorIs(t, err, heralderr.ErrInvalidAddress)

	_, err = c.EstimateFee(context.Background(), nil)
	require.ErrorIs(t, err, ErrWrongPayload)
}

func TestClient_EmptyAccountHasZeroBalance(t *testing.T) {
	t.Parallel()
	results := nodeResults(t)
	results["state_getStorage"] = nil
	_, url := newMockNode(t, results, nil)

	c, err := NewClient(polkadotInfo(), url, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	free, err := c.GetFreeBalance(context.Background(), aliceGeneric)
	require.NoError(t, err)
	assert.Zero(t, free.Sign())
}

func TestClient_SignAndSubmit(t *testing.T) {
	t.Parallel()
	priv, from := testKey(t)
	results := nodeResults(t)
	results["author_submitAndWatchExtrinsic"] = "sub-1"
	node, url := newMockNode(t, results, []any{
		"ready",
		map[string]any{"broadcast": []string{"peer-1"}},
		map[string]any{"inBlock": testBlock},
		map[string]any{"finalized": testBlock},
	})

	c, err := NewClient(polkadotInfo(), url, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	payload, err := c.PrepareTransfer(context.Background(), from, aliceGeneric, big.NewInt(12345))
	require.NoError(t, err)

	prepared, err := c.PrepareSigning(context.Background(), payload)
	require.NoError(t, err)
	normalized, ok := prepared.Payload.(*Payload)
	require.True(t, ok)
	assert.Equal(t, uint64(3), *normalized.Nonce)
	assert.Equal(t, uint32(1002000), normalized.SpecVersion)
	assert.Equal(t, uint32(26), normalized.TxVersion)
	assert.Equal(t, testGenesis, "0x"+hex.EncodeToString(normalized.GenesisHash[:]))
	assert.Equal(t, prepared.Display, prepared.Message, "short payloads are signed unhashed")

	sig := ed25519.Sign(priv, prepared.Message)
	signed, err := prepared.Assemble(sig)
	require.NoError(t, err)

	stream, err := c.BuildAndSubmit(context.Background(), prepared.Payload, signed)
	require.NoError(t, err)
	statuses := drain(t, stream)

	require.Len(t, statuses, 3)
	assert.Equal(t, chain.StatusBroadcast, statuses[0].Kind)
	assert.Equal(t, chain.StatusInBlock, statuses[1].Kind)
	assert.Equal(t, testBlock, statuses[1].BlockHash)
	assert.Equal(t, uint64(26), statuses[1].BlockNumber)
	assert.Equal(t, chain.StatusFinalized, statuses[2].Kind)

	encoded, err := normalized.Encode(sig)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.Equal(t, ExtrinsicHash(encoded), s.Hash)
	}

	submitted := node.params("author_submitAndWatchExtrinsic")
	require.Len(t, submitted, 1)
	assert.JSONEq(t, `"`+hexBytes(encoded)+`"`, string(submitted[0]))
	assert.True(t, ed25519.Verify(priv.Public().(ed25519.PublicKey), prepared.Message, sig))
}

func TestClient_FinalizedWithoutInBlock(t *testing.T) {
	t.Parallel()
	priv, from := testKey(t)
	results := nodeResults(t)
	results["author_submitAndWatchExtrinsic"] = "sub-2"
	_, url := newMockNode(t, results, []any{
		map[string]any{"finalized": testBlock},
	})

	c, err := NewClient(polkadotInfo(), url, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	payload, err := c.PrepareTransfer(context.Background(), from, aliceGeneric, big.NewInt(1))
	require.NoError(t, err)
	prepared, err := c.PrepareSigning(context.Background(), payload)
	require.NoError(t, err)
	signed, err := prepared.Assemble(ed25519.Sign(priv, prepared.Message))
	require.NoError(t, err)

	stream, err := c.BuildAndSubmit(context.Background(), prepared.Payload, signed)
	require.NoError(t, err)
	statuses := drain(t, stream)

	require.Len(t, statuses, 3)
	assert.Equal(t, []chain.StatusKind{chain.StatusBroadcast, chain.StatusInBlock, chain.StatusFinalized},
		[]chain.StatusKind{statuses[0].Kind, statuses[1].Kind, statuses[2].Kind})
}

func TestClient_PoolRejection(t *testing.T) {
	t.Parallel()
	priv, from := testKey(t)
	results := nodeResults(t)
	results["author_submitAndWatchExtrinsic"] = "sub-3"
	_, url := newMockNode(t, results, []any{"ready", "invalid"})

	c, err := NewClient(polkadotInfo(), url, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	payload, err := c.PrepareTransfer(context.Background(), from, aliceGeneric, big.NewInt(1))
	require.NoError(t, err)
	prepared, err := c.PrepareSigning(context.Background(), payload)
	require.NoError(t, err)
	signed, err := prepared.Assemble(ed25519.Sign(priv, prepared.Message))
	require.NoError(t, err)

	stream, err := c.BuildAndSubmit(context.Background(), prepared.Payload, signed)
	require.NoError(t, err)
	statuses := drain(t, stream)

	require.Len(t, statuses, 2)
	assert.Equal(t, chain.StatusBroadcast, statuses[0].Kind)
	assert.Equal(t, chain.StatusError, statuses[1].Kind)
	require.ErrorIs(t, statuses[1].Err, ErrExtrinsicFailed)
	assert.Equal(t, "invalid", heralderr.Detail(statuses[1].Err))
}

func TestClient_SubmitRejectedByNode(t *testing.T) {
	t.Parallel()
	priv, from := testKey(t)
	_, url := newMockNode(t, nodeResults(t), nil) // no author_submitAndWatchExtrinsic handler

	c, err := NewClient(polkadotInfo(), url, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	payload, err := c.PrepareTransfer(context.Background(), from, aliceGeneric, big.NewInt(1))
	require.NoError(t, err)
	prepared, err := c.PrepareSigning(context.Background(), payload)
	require.NoError(t, err)
	signed, err := prepared.Assemble(ed25519.Sign(priv, prepared.Message))
	require.NoError(t, err)

	_, err = c.BuildAndSubmit(context.Background(), prepared.Payload, signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Method not found")
}

func TestClient_DialFailure(t *testing.T) {
	t.Parallel()

	c, err := NewClient(polkadotInfo(), "ws://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = c.GetFreeBalance(context.Background(), aliceGeneric)
	require.ErrorIs(t, err, heralderr.ErrChainDisconnected)
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	node, url := newMockNode(t, nodeResults(t), nil)
	node.dropNext()
	c, err := NewClient(polkadotInfo(), url, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	_, err = c.GetFreeBalance(context.Background(), aliceGeneric)
	require.ErrorIs(t, err, heralderr.ErrChainDisconnected)
	require.ErrorIs(t, err, ErrConnectionClosed)
	assert.True(t, chain.IsRetryable(err))

	guarded := chain.Guard(c, chain.GuardOptions{
		Retry: chain.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	node.dropNext()

	free, err := guarded.GetFreeBalance(context.Background(), aliceGeneric)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000", free.String())
	assert.Len(t, node.params("state_getStorage"), 3)
}

func TestParseUpdate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		kind  string
		block string
	}{
		{`"ready"`, "ready", ""},
		{`{"inBlock":"0x01"}`, "inBlock", "0x01"},
		{`{"broadcast":["a","b"]}`, "broadcast", ""},
		{`{"finalityTimeout":"0x02"}`, "finalityTimeout", "0x02"},
		{`42`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got := parseUpdate(json.RawMessage(tt.raw))
			assert.Equal(t, tt.kind, got.kind)
			assert.Equal(t, tt.block, got.block)
		})
	}
}

func TestNumeric(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]string{
		`"158000000"`: "158000000",
		`158000000`:   "158000000",
		`"0x10"`:      "16",
	} {
		var n numeric
		require.NoError(t, json.Unmarshal([]byte(raw), &n))
		assert.Equal(t, want, n.String())
	}

	var bad numeric
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &bad))
}

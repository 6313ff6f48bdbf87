package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/config"
	"github.com/mrz1836/herald/internal/output"
)

const (
	testMnemonic = "test test test test test test test test test test test junk"
	testPassword = "correct horse battery staple" // gitleaks:allow

	evmAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	evmPeer    = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

// promptMu serializes tests that swap the prompt functions or command flags.
var promptMu sync.Mutex //nolint:gochecknoglobals // test-wide lock

// testEnv is a command context rooted in a temporary home.
type testEnv struct {
	cc     *CommandContext
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestEnv(t *testing.T, format output.Format) *testEnv {
	t.Helper()

	cfg := config.Defaults()
	cfg.Home = t.TempDir()
	cfg.Keystore.ScryptWorkFactor = 10
	cfg.Signing.TimeoutSeconds = 5

	stdout := &bytes.Buffer{}
	return &testEnv{
		cc:     NewCommandContext(cfg, config.NullLogger(), output.NewFormatter(format, stdout)),
		stdout: stdout,
		stderr: &bytes.Buffer{},
	}
}

// command returns a bare command carrying the environment.
func (e *testEnv) command(stdin string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(e.stdout)
	cmd.SetErr(e.stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetContext(context.Background())
	SetCmdContext(cmd, e.cc)
	return cmd
}

// swapPrompts replaces the prompt functions for the duration of the test.
func swapPrompts(t *testing.T, password string, confirm bool) {
	t.Helper()
	promptMu.Lock()

	origPassword, origNew, origConfirm, origMnemonic, origPassphrase :=
		promptPasswordFn, promptNewPasswordFn, promptConfirmFn, promptMnemonicFn, promptPassphraseFn
	t.Cleanup(func() {
		promptPasswordFn, promptNewPasswordFn, promptConfirmFn, promptMnemonicFn, promptPassphraseFn =
			origPassword, origNew, origConfirm, origMnemonic, origPassphrase
		promptMu.Unlock()
	})

	promptPasswordFn = func(string) ([]byte, error) { return []byte(password), nil }
	promptNewPasswordFn = func() ([]byte, error) { return []byte(password), nil }
	promptConfirmFn = func(string) bool { return confirm }
	promptMnemonicFn = func() (string, error) { return testMnemonic, nil }
	promptPassphraseFn = func() (string, error) { return "", nil }
}

// fakePayload is a native transfer on a fake network.
type fakePayload struct {
	chainType chain.Type
	amount    *big.Int
}

func (p *fakePayload) ChainType() chain.Type { return p.chainType }

// fakeNetwork is a scripted chain.Network.
type fakeNetwork struct {
	info     chain.Info
	balance  *big.Int
	fee      *big.Int
	statuses []chain.Status

	mu     sync.Mutex
	signed [][]byte
}

func newFakeNetwork(info chain.Info) *fakeNetwork {
	return &fakeNetwork{
		info:    info,
		balance: big.NewInt(1_000_000),
		fee:     big.NewInt(1000),
		statuses: []chain.Status{
			{Kind: chain.StatusBroadcast, Hash: "0xhash"},
			{Kind: chain.StatusInBlock, Hash: "0xhash", BlockHash: "0xblock", BlockNumber: 42},
		},
	}
}

func (f *fakeNetwork) Info() chain.Info { return f.info }

func (f *fakeNetwork) EstimateFee(context.Context, chain.Payload) (*big.Int, error) {
	return new(big.Int).Set(f.fee), nil
}

func (f *fakeNetwork) GetFreeBalance(context.Context, string) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeNetwork) GetMinimumBalance(context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeNetwork) PrepareSigning(_ context.Context, payload chain.Payload) (*chain.Signable, error) {
	digest := sha256.Sum256([]byte(f.info.ID))
	return &chain.Signable{
		Payload: payload,
		Message: digest[:],
		Display: []byte("unsigned:" + string(f.info.ID)),
		Assemble: func(signature []byte) ([]byte, error) {
			return signature, nil
		},
	}, nil
}

func (f *fakeNetwork) BuildAndSubmit(ctx context.Context, _ chain.Payload, signed []byte) (<-chan chain.Status, error) {
	f.mu.Lock()
	f.signed = append(f.signed, append([]byte(nil), signed...))
	f.mu.Unlock()

	ch := make(chan chain.Status)
	go func() {
		defer close(ch)
		for _, st := range f.statuses {
			select {
			case ch <- st:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeNetwork) PrepareTransfer(_ context.Context, _, _ string, amount *big.Int) (chain.Payload, error) {
	return &fakePayload{chainType: f.info.Type, amount: amount}, nil
}

func (f *fakeNetwork) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signed)
}

// fakeNetworks serves fake networks by id.
type fakeNetworks map[chain.ID]*fakeNetwork

func (f fakeNetworks) Info(id chain.ID) (chain.Info, bool) {
	n, ok := f[id]
	if !ok {
		return chain.Info{}, false
	}
	return n.info, true
}

func (f fakeNetworks) Lookup(_ context.Context, id chain.ID) (chain.Network, error) {
	n, ok := f[id]
	if !ok {
		return nil, chain.ErrUnsupportedChain
	}
	return n, nil
}

func (f fakeNetworks) IDs() []chain.ID {
	ids := make([]chain.ID, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	return ids
}

func ethereumInfo() chain.Info {
	return chain.Info{
		ID:          "ethereum",
		Name:        "Ethereum",
		Type:        chain.Contract,
		Symbol:      "ETH",
		Decimals:    18,
		ExplorerURL: "https://etherscan.io/tx/{hash}",
		EVMChainID:  1,
	}
}

// lines splits output into non-empty lines.
func lines(r io.Reader) []string {
	data, _ := io.ReadAll(r)
	var out []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

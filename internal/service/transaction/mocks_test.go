package transaction

import (
	"context"
	"crypto/sha256"
	"errors"
	"math/big"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrz1836/herald/internal/bridge"
	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/history"
	"github.com/mrz1836/herald/internal/keystore"
	"github.com/mrz1836/herald/internal/notify"
)

const (
	testMnemonic = "test test test test test test test test test test test junk"
	testPassword = "correct horse battery staple" // gitleaks:allow

	evmAddress      = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	qrAddress       = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	readOnlyAddress = "0x000000000000000000000000000000000000dEaD"

	eventTimeout = 5 * time.Second
)

var (
	errRPC      = errors.New("rpc unavailable")
	errRevert   = errors.New("execution reverted")
	errBoundary = errors.New("display unavailable")
)

// testPayload is a minimal chain payload.
type testPayload struct {
	chainType chain.Type
	note      string
}

func (p *testPayload) ChainType() chain.Type { return p.chainType }

// mockNetwork is a scripted chain.Network.
type mockNetwork struct {
	mu sync.Mutex

	info       chain.Info
	fee        *big.Int
	feeErr     error
	balance    *big.Int
	balanceErr error
	minimum    *big.Int
	prepareErr error
	verifyErr  error // returned for raw signed transactions
	message    []byte
	submitErr  error
	statuses   []chain.Status
	hold       chan struct{} // statuses are sent once it is closed

	prepared  int
	submitted [][]byte
}

func newMockNetwork(info chain.Info) *mockNetwork {
	return &mockNetwork{
		info:    info,
		fee:     big.NewInt(1000),
		balance: big.NewInt(1_000_000),
		minimum: big.NewInt(0),
		statuses: []chain.Status{
			{Kind: chain.StatusBroadcast, Hash: "0xhash"},
			{Kind: chain.StatusInBlock, Hash: "0xhash", BlockHash: "0xblock", BlockNumber: 42},
			{Kind: chain.StatusFinalized, Hash: "0xhash", BlockHash: "0xblock", BlockNumber: 42},
		},
	}
}

func (m *mockNetwork) Info() chain.Info { return m.info }

func (m *mockNetwork) EstimateFee(context.Context, chain.Payload) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feeErr != nil {
		return nil, m.feeErr
	}
	return new(big.Int).Set(m.fee), nil
}

func (m *mockNetwork) GetFreeBalance(context.Context, string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return new(big.Int).Set(m.balance), nil
}

func (m *mockNetwork) GetMinimumBalance(context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.minimum), nil
}

func (m *mockNetwork) PrepareSigning(_ context.Context, payload chain.Payload) (*chain.Signable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared++
	if m.prepareErr != nil {
		return nil, m.prepareErr
	}
	digest := sha256.Sum256([]byte(m.info.ID))
	message := digest[:]
	if m.message != nil {
		message = m.message
	}
	verifyErr := m.verifyErr
	return &chain.Signable{
		Payload: payload,
		Message: message,
		Display: []byte("unsigned:" + string(m.info.ID)),
		Assemble: func(signature []byte) ([]byte, error) {
			return append([]byte("signed:"), signature...), nil
		},
		Verify: func([]byte) error {
			return verifyErr
		},
	}, nil
}

func (m *mockNetwork) BuildAndSubmit(ctx context.Context, _ chain.Payload, signed []byte) (<-chan chain.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted = append(m.submitted, append([]byte(nil), signed...))

	statuses := append([]chain.Status(nil), m.statuses...)
	hold := m.hold
	ch := make(chan chain.Status)
	go func() {
		defer close(ch)
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		for _, st := range statuses {
			select {
			case ch <- st:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (m *mockNetwork) PrepareTransfer(_ context.Context, from, to string, amount *big.Int) (chain.Payload, error) {
	return &testPayload{chainType: m.info.Type, note: from + "->" + to + ":" + amount.String()}, nil
}

func (m *mockNetwork) submissions() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.submitted...)
}

// mockNetworks is a NetworkProvider over mock networks.
type mockNetworks struct {
	networks  map[chain.ID]*mockNetwork
	lookupErr error
}

func newMockNetworks(networks ...*mockNetwork) *mockNetworks {
	m := &mockNetworks{networks: make(map[chain.ID]*mockNetwork)}
	for _, n := range networks {
		m.networks[n.info.ID] = n
	}
	return m
}

func (m *mockNetworks) Info(id chain.ID) (chain.Info, bool) {
	n, ok := m.networks[id]
	if !ok {
		return chain.Info{}, false
	}
	return n.info, true
}

func (m *mockNetworks) Lookup(_ context.Context, id chain.ID) (chain.Network, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	n, ok := m.networks[id]
	if !ok {
		return nil, chain.ErrUnsupportedChain
	}
	return n, nil
}

func (m *mockNetworks) IDs() []chain.ID {
	ids := make([]chain.ID, 0, len(m.networks))
	for id := range m.networks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
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

func westendInfo() chain.Info {
	return chain.Info{
		ID:          "westend",
		Name:        "Westend",
		Type:        chain.Extrinsic,
		Symbol:      "WND",
		Decimals:    12,
		ExplorerURL: "https://westend.subscan.io/extrinsic",
	}
}

// testKeys holds a keystore with one account of every kind.
type testKeys struct {
	store     *keystore.Store
	substrate string
}

func newTestKeys(t *testing.T) *testKeys {
	t.Helper()
	store, err := keystore.Open(filepath.Join(t.TempDir(), "keystore"), keystore.Options{ScryptWorkFactor: 10})
	require.NoError(t, err)

	_, err = store.Import("evm", testMnemonic, keystore.SchemeSecp256k1, keystore.DeriveOptions{}, []byte(testPassword))
	require.NoError(t, err)
	sub, err := store.Import("substrate", testMnemonic, keystore.SchemeEd25519,
		keystore.DeriveOptions{SS58Prefix: 42}, []byte(testPassword))
	require.NoError(t, err)
	require.NoError(t, store.AddExternal(keystore.Account{
		Address: qrAddress, Name: "qr", Scheme: keystore.SchemeSecp256k1, Signer: keystore.SignerQR,
	}))
	require.NoError(t, store.AddExternal(keystore.Account{
		Address: readOnlyAddress, Name: "watch", Scheme: keystore.SchemeSecp256k1, ReadOnly: true,
	}))
	return &testKeys{store: store, substrate: sub.Address}
}

// mockLogWriter records log formats.
type mockLogWriter struct {
	mu            sync.Mutex
	debugMessages []string
	errorMessages []string
}

func newMockLogWriter() *mockLogWriter {
	return &mockLogWriter{
		debugMessages: []string{},
		errorMessages: []string{},
	}
}

func (m *mockLogWriter) Debug(format string, _ ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMessages = append(m.debugMessages, format)
}

func (m *mockLogWriter) Error(format string, _ ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMessages = append(m.errorMessages, format)
}

// mockHistory records history writes.
type mockHistory struct {
	mu      sync.Mutex
	entries []history.Entry
	updates []history.Patch
	err     error
}

func (m *mockHistory) Record(_ context.Context, entry history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockHistory) Update(_ context.Context, _ chain.ID, _ string, patch history.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, patch)
	return m.err
}

func (m *mockHistory) snapshot() ([]history.Entry, []history.Patch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Entry(nil), m.entries...), append([]history.Patch(nil), m.updates...)
}

// mockNotifier records notifications.
type mockNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (m *mockNotifier) Notify(n notify.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
}

func (m *mockNotifier) notifications() []notify.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Notification(nil), m.sent...)
}

// mockMetrics counts recorder calls.
type mockMetrics struct {
	mu       sync.Mutex
	rejected []string
	submits  int
	finished []string
}

func (m *mockMetrics) ValidationRejected(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, kind)
}

func (m *mockMetrics) Submitted(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
}

func (m *mockMetrics) Finished(_, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, outcome)
}

func (m *mockMetrics) outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.finished...)
}

// mockBoundary answers external signing requests through respond.
type mockBoundary struct {
	mu       sync.Mutex
	requests []bridge.Request
	respond  func(req bridge.Request) error
}

func (m *mockBoundary) DisplayPayload(_ context.Context, req bridge.Request) error {
	return m.handle(req)
}

func (m *mockBoundary) AwaitDevice(_ context.Context, req bridge.Request) error {
	return m.handle(req)
}

func (m *mockBoundary) handle(req bridge.Request) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	respond := m.respond
	m.mu.Unlock()
	if respond == nil {
		return nil
	}
	return respond(req)
}

// fixture wires a service to mocks.
type fixture struct {
	service  *Service
	ethereum *mockNetwork
	westend  *mockNetwork
	networks *mockNetworks
	keys     *testKeys
	history  *mockHistory
	notifier *mockNotifier
	metrics  *mockMetrics
	boundary *mockBoundary
	logger   *mockLogWriter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ethereum: newMockNetwork(ethereumInfo()),
		westend:  newMockNetwork(westendInfo()),
		keys:     newTestKeys(t),
		history:  &mockHistory{},
		notifier: &mockNotifier{},
		metrics:  &mockMetrics{},
		boundary: &mockBoundary{},
		logger:   newMockLogWriter(),
	}
	f.networks = newMockNetworks(f.ethereum, f.westend)
	f.service = NewService(&Config{
		Networks:       f.networks,
		Keys:           f.keys.store,
		History:        f.history,
		Notifier:       f.notifier,
		Boundary:       f.boundary,
		Metrics:        f.metrics,
		Logger:         f.logger,
		SigningTimeout: eventTimeout,
	})
	t.Cleanup(f.service.Close)
	return f
}

func contractIntent(address string) *Intent {
	return &Intent{
		Chain:          "ethereum",
		Address:        address,
		Payload:        &testPayload{chainType: chain.Contract},
		TransferAmount: chain.NewAmount(big.NewInt(5000), 18, "ETH"),
		Password:       []byte(testPassword),
	}
}

// collect reads events until the handle closes.
func collect(t *testing.T, h *Handle) []Event {
	t.Helper()
	var events []Event
	timer := time.NewTimer(eventTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timer.C:
			t.Fatalf("timed out waiting for events of %s", h.ID())
		}
	}
}

func eventNames(events []Event) []EventName {
	names := make([]EventName, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	return names
}

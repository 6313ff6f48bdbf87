// Package transaction validates, signs, submits and tracks transactions on
// extrinsic and contract chains.
package transaction

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/mrz1836/herald/internal/bridge"
	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/history"
	"github.com/mrz1836/herald/internal/keystore"
	"github.com/mrz1836/herald/internal/notify"
	"github.com/mrz1836/herald/internal/registry"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// DefaultSigningTimeout bounds how long an external signer may take.
const DefaultSigningTimeout = 5 * time.Minute

// ErrServiceClosed is returned by Submit after Close.
var ErrServiceClosed = heralderr.WithDetail(heralderr.ErrInternal, "transaction service is closed")

// Service provides transaction sending functionality.
type Service struct {
	networks       NetworkProvider
	keys           KeyStore
	history        HistorySink
	notifier       Notifier
	boundary       SigningBoundary
	metrics        MetricsRecorder
	logger         LogWriter
	registry       *registry.Registry
	bridge         *bridge.Bridge
	signingTimeout time.Duration

	events *eventHub
	locks  *keyedMutex

	ctx    context.Context //nolint:containedctx // lifetime of dispatched transactions
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Config holds dependencies for the transaction service. Networks and Keys
// are required; the rest fall back to no-op implementations.
type Config struct {
	Networks NetworkProvider
	Keys     KeyStore
	History  HistorySink
	Notifier Notifier
	Boundary SigningBoundary
	Metrics  MetricsRecorder
	Logger   LogWriter

	// Registry and Bridge may be shared with other components.
	Registry *registry.Registry
	Bridge   *bridge.Bridge

	// SigningTimeout bounds external signing. Zero means DefaultSigningTimeout.
	SigningTimeout time.Duration
}

// NewService creates a new transaction service.
func NewService(cfg *Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		networks:       cfg.Networks,
		keys:           cfg.Keys,
		history:        cfg.History,
		notifier:       cfg.Notifier,
		boundary:       cfg.Boundary,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		registry:       cfg.Registry,
		bridge:         cfg.Bridge,
		signingTimeout: cfg.SigningTimeout,
		events:         newEventHub(),
		locks:          newKeyedMutex(),
		ctx:            ctx,
		cancel:         cancel,
	}
	if s.history == nil {
		s.history = nopHistory{}
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if s.registry == nil {
		s.registry = registry.New()
	}
	if s.bridge == nil {
		s.bridge = bridge.New(nil)
	}
	if s.signingTimeout <= 0 {
		s.signingTimeout = DefaultSigningTimeout
	}
	return s
}

// Submit validates an intent and, when nothing blocks it, registers a
// pending record and starts signing in the background. Blocked intents
// return a *ValidationError and leave no record. The returned handle
// receives the transaction's events.
func (s *Service) Submit(ctx context.Context, intent *Intent) (*Handle, error) {
	defer clear(intent.Password)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrServiceClosed
	}

	unlock := s.locks.lock(lockKey(intent))
	defer unlock()

	result := s.validate(ctx, intent)
	if result.Blocked(intent.IgnoreWarnings) {
		s.rejected(result, intent.IgnoreWarnings)
		return nil, &ValidationError{Errors: result.Errors, Warnings: result.Warnings, Fee: result.Fee}
	}

	info, _ := s.networks.Info(intent.Chain)
	account, _ := s.keys.Account(intent.Address)

	strategy, err := strategyFor(info.Type)
	if err != nil {
		return nil, err
	}
	if account.Signer.IsExternal() && s.boundary == nil {
		return nil, heralderr.WithDetail(heralderr.ErrUnsupported,
			fmt.Sprintf("no signing boundary for %s accounts", account.Signer))
	}
	method, err := s.methodFor(account.Signer, intent.Password)
	if err != nil {
		return nil, err
	}

	rec := registry.Record{
		ID:             s.registry.NextID(info.Type, info.ID, intent.IsInternal()),
		Address:        intent.Address,
		Chain:          info.ID,
		ChainType:      info.Type,
		Signer:         string(account.Signer),
		Payload:        chain.CopyPayload(intent.Payload),
		Status:         registry.StatusPending,
		Warnings:       result.Warnings,
		EstimatedFee:   result.Fee,
		TransferAmount: result.TransferAmount,
		URL:            intent.URL,
		IsInternal:     intent.IsInternal(),
	}
	if err = s.registry.InsertUnique(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.registry.Remove(rec.ID)
		return nil, ErrServiceClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	handle := s.events.attach(rec.ID)
	s.metrics.Submitted(string(rec.ChainType), rec.Signer)
	s.logger.Debug("transaction %s pending for %s on %s", rec.ID, rec.Address, rec.Chain)

	go s.dispatch(s.ctx, &job{record: rec, info: info, strategy: strategy, method: method})
	return handle, nil
}

// Validate runs the validation pipeline without creating a record.
func (s *Service) Validate(ctx context.Context, intent *Intent) *ValidationResult {
	return s.validate(ctx, intent)
}

// PrepareTransfer builds a native transfer payload on networks that support it.
func (s *Service) PrepareTransfer(ctx context.Context, chainID chain.ID, from, to string, amount *big.Int) (chain.Payload, error) {
	network, err := s.networks.Lookup(ctx, chainID)
	if err != nil {
		return nil, heralderr.WithCause(heralderr.WithDetail(heralderr.ErrChainDisconnected, string(chainID)), err)
	}
	preparer, ok := network.(chain.TransferPreparer)
	if !ok {
		return nil, heralderr.WithDetail(heralderr.ErrUnsupported, fmt.Sprintf("%s cannot build transfers", chainID))
	}
	return preparer.PrepareTransfer(ctx, from, to, amount)
}

// Get returns a copy of the record with id.
func (s *Service) Get(id string) (registry.Record, bool) {
	return s.registry.Get(id)
}

// List returns every tracked record, oldest first.
func (s *Service) List() []registry.Record {
	return s.registry.List()
}

// ListProcessing returns the records still in flight.
func (s *Service) ListProcessing() []registry.Record {
	return s.registry.ListProcessing()
}

// Subscribe follows every record through registry snapshots.
func (s *Service) Subscribe() *registry.Subscription {
	return s.registry.Subscribe()
}

// Bridge returns the external signing bridge, which boundaries answer through.
func (s *Service) Bridge() *bridge.Bridge {
	return s.bridge
}

// Close stops accepting intents, cancels in-flight transactions and waits
// for them to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.bridge.Clean()
	s.wg.Wait()
}

// rejected counts the findings that blocked an intent.
func (s *Service) rejected(result *ValidationResult, ignoreWarnings bool) {
	findings := result.Errors
	if !ignoreWarnings {
		findings = append(append([]error(nil), findings...), result.Warnings...)
	}
	for _, err := range findings {
		s.metrics.ValidationRejected(strings.ToLower(heralderr.Code(err)))
	}
}

// lockKey serializes intents for one account on one chain.
func lockKey(intent *Intent) string {
	address := intent.Address
	if strings.HasPrefix(address, "0x") {
		address = strings.ToLower(address)
	}
	return string(intent.Chain) + "/" + address
}

type nopHistory struct{}

func (nopHistory) Record(context.Context, history.Entry) error { return nil }

func (nopHistory) Update(context.Context, chain.ID, string, history.Patch) error { return nil }

type nopMetrics struct{}

func (nopMetrics) ValidationRejected(string) {}
func (nopMetrics) Submitted(string, string)  {}
func (nopMetrics) Finished(string, string)   {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

var _ KeyStore = (*keystore.Store)(nil)

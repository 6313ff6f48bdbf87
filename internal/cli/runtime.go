package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mrz1836/herald/internal/bridge"
	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/chain/evm"
	"github.com/mrz1836/herald/internal/chain/substrate"
	"github.com/mrz1836/herald/internal/config"
	"github.com/mrz1836/herald/internal/history"
	"github.com/mrz1836/herald/internal/keystore"
	"github.com/mrz1836/herald/internal/metrics"
	"github.com/mrz1836/herald/internal/notify"
	"github.com/mrz1836/herald/internal/service/transaction"
)

const (
	retryBaseDelay  = 500 * time.Millisecond
	retryMaxDelay   = 4 * time.Second
	shutdownTimeout = 5 * time.Second
)

// runtime holds the long-lived dependencies of a transaction command.
type runtime struct {
	service  *transaction.Service
	networks transaction.NetworkProvider
	keys     *keystore.Store
	history  *history.Store
	metrics  *metrics.Metrics
	owned    *chain.Networks
	server   *http.Server
	log      *config.Logger
}

// newRuntime wires the transaction service from cc. Signing prompts read
// from in and are written to out.
func newRuntime(cc *CommandContext, in io.Reader, out io.Writer) (*runtime, error) {
	log := cc.Log
	if log == nil {
		log = config.NullLogger()
	}
	rt := &runtime{metrics: metrics.New(), log: log}

	keys, err := openKeystore(cc.Cfg)
	if err != nil {
		return nil, err
	}
	rt.keys = keys

	rt.history, err = history.Open(cc.Cfg.HistoryPath())
	if err != nil {
		return nil, err
	}

	rt.networks = cc.Networks
	if rt.networks == nil {
		rt.owned, err = buildNetworks(cc.Cfg, rt.metrics)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.networks = rt.owned
	}

	signerLog := log.Component("bridge")
	br := bridge.New(func(req bridge.Request) {
		rt.metrics.ExternalRequest(string(req.Kind), req.Status.String())
		signerLog.Debug("request %s (%s) is %s: %s", req.ID, req.Kind, req.Status, req.Message)
	})

	rt.service = transaction.NewService(&transaction.Config{
		Networks:       rt.networks,
		Keys:           keys,
		History:        rt.history,
		Notifier:       notify.NewTerminal(out),
		Boundary:       newTerminalBoundary(br, in, out),
		Metrics:        rt.metrics,
		Logger:         log.Component("transaction"),
		Bridge:         br,
		SigningTimeout: cc.Cfg.SigningTimeout(),
	})

	if cc.Cfg.Metrics.Addr != "" {
		rt.serveMetrics(cc.Cfg.Metrics.Addr)
	}
	return rt, nil
}

// Close stops the service and releases every resource.
func (r *runtime) Close() {
	if r.service != nil {
		r.service.Close()
	}
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = r.server.Shutdown(ctx)
		cancel()
	}
	if r.owned != nil {
		r.owned.Close()
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.log.Error("closing history: %v", err)
		}
	}
}

func (r *runtime) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.metrics.Handler())
	r.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("metrics server on %s: %v", addr, err)
		}
	}()
}

// openKeystore opens the keystore of the configured home.
func openKeystore(c *config.Config) (*keystore.Store, error) {
	return keystore.Open(c.KeystoreDir(), keystore.Options{ScryptWorkFactor: c.Keystore.ScryptWorkFactor})
}

// buildNetworks declares every configured network behind the guarded facade.
func buildNetworks(c *config.Config, m *metrics.Metrics) (*chain.Networks, error) {
	infos, err := c.ChainInfos()
	if err != nil {
		return nil, err
	}

	guard := chain.GuardOptions{
		Retry: chain.RetryConfig{
			MaxAttempts: c.RateLimit.Retries + 1,
			BaseDelay:   retryBaseDelay,
			MaxDelay:    retryMaxDelay,
		},
		Observer: m.ObserveCall,
	}
	if c.RateLimit.RequestsPerSecond > 0 {
		guard.Limiter = chain.NewRateLimiter(c.RateLimit.RequestsPerSecond, max(c.RateLimit.Burst, 1))
	}

	networks := chain.NewNetworks()
	networks.RegisterCreator(chain.Contract, chain.GuardCreator(evm.Creator(nil), guard))
	networks.RegisterCreator(chain.Extrinsic, chain.GuardCreator(substrateCreator(c), guard))
	for i, info := range infos {
		networks.Configure(info, c.Networks[i].RPC)
	}
	return networks, nil
}

// substrateCreator opens extrinsic networks with their per-network call
// index and metadata hash settings.
func substrateCreator(c *config.Config) chain.Creator {
	return func(ctx context.Context, info chain.Info, rpcURL string) (chain.Network, error) {
		opts, err := substrateOptions(c, info.ID)
		if err != nil {
			return nil, err
		}
		return substrate.Creator(opts)(ctx, info, rpcURL)
	}
}

func substrateOptions(c *config.Config, id chain.ID) (*substrate.ClientOptions, error) {
	opts := &substrate.ClientOptions{}
	n, ok := c.Network(string(id))
	if !ok {
		return opts, nil
	}
	idx, err := n.TransferCallIndex()
	if err != nil {
		return nil, err
	}
	opts.TransferCallIndex = idx
	opts.MetadataHash = n.MetadataHash
	return opts, nil
}

package chain

import (
	"context"
	"math/big"
	"time"
)

// Observer receives the latency and outcome of every facade call.
type Observer func(chainID ID, method string, elapsed time.Duration, err error)

// GuardOptions configures a Guarded network.
type GuardOptions struct {
	Limiter  *RateLimiter // Shared limiter keyed by chain ID; nil disables limiting
	Retry    RetryConfig  // Applied to reads only; failures IsRetryable accepts are repeated
	Observer Observer
}

// Guarded wraps a Network with rate limiting, retry on reads and latency
// observation. Submission is never retried.
type Guarded struct {
	inner Network
	opts  GuardOptions
}

// Guard wraps network with the given options.
func Guard(network Network, opts GuardOptions) *Guarded {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	return &Guarded{inner: network, opts: opts}
}

// GuardCreator wraps every network creator builds.
func GuardCreator(creator Creator, opts GuardOptions) Creator {
	return func(ctx context.Context, info Info, rpcURL string) (Network, error) {
		network, err := creator(ctx, info, rpcURL)
		if err != nil {
			return nil, err
		}
		return Guard(network, opts), nil
	}
}

// Unwrap returns the wrapped network.
func (g *Guarded) Unwrap() Network {
	return g.inner
}

// Info returns the wrapped network's metadata.
func (g *Guarded) Info() Info {
	return g.inner.Info()
}

// EstimateFee quotes the fee for payload.
func (g *Guarded) EstimateFee(ctx context.Context, payload Payload) (*big.Int, error) {
	return guardedRead(ctx, g, "estimate_fee", func() (*big.Int, error) {
		return g.inner.EstimateFee(ctx, payload)
	})
}

// GetFreeBalance returns the spendable balance of address.
func (g *Guarded) GetFreeBalance(ctx context.Context, address string) (*big.Int, error) {
	return guardedRead(ctx, g, "free_balance", func() (*big.Int, error) {
		return g.inner.GetFreeBalance(ctx, address)
	})
}

// GetMinimumBalance returns the chain minimum balance.
func (g *Guarded) GetMinimumBalance(ctx context.Context) (*big.Int, error) {
	return guardedRead(ctx, g, "minimum_balance", func() (*big.Int, error) {
		return g.inner.GetMinimumBalance(ctx)
	})
}

// PrepareSigning normalizes payload for signing.
func (g *Guarded) PrepareSigning(ctx context.Context, payload Payload) (*Signable, error) {
	return guardedRead(ctx, g, "prepare_signing", func() (*Signable, error) {
		return g.inner.PrepareSigning(ctx, payload)
	})
}

// BuildAndSubmit submits once, after waiting for the rate limiter.
func (g *Guarded) BuildAndSubmit(ctx context.Context, payload Payload, signed []byte) (<-chan Status, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	ch, err := g.inner.BuildAndSubmit(ctx, payload, signed)
	g.observe("submit", start, err)
	return ch, err
}

// PrepareTransfer delegates to the wrapped network if it can build transfers.
func (g *Guarded) PrepareTransfer(ctx context.Context, from, to string, amount *big.Int) (Payload, error) {
	preparer, ok := g.inner.(TransferPreparer)
	if !ok {
		return nil, ErrUnsupportedChain
	}
	return guardedRead(ctx, g, "prepare_transfer", func() (Payload, error) {
		return preparer.PrepareTransfer(ctx, from, to, amount)
	})
}

// Close closes the wrapped network if it holds connections.
func (g *Guarded) Close() {
	if closer, ok := g.inner.(ClientCloser); ok {
		closer.Close()
	}
}

func (g *Guarded) wait(ctx context.Context) error {
	if g.opts.Limiter == nil {
		return nil
	}
	return g.opts.Limiter.Wait(ctx, g.inner.Info().ID)
}

func (g *Guarded) observe(method string, start time.Time, err error) {
	if g.opts.Observer != nil {
		g.opts.Observer(g.inner.Info().ID, method, time.Since(start), err)
	}
}

func guardedRead[T any](ctx context.Context, g *Guarded, method string, call func() (T, error)) (T, error) {
	start := time.Now()
	result, err := Retry(ctx, g.opts.Retry, func() (T, error) {
		if err := g.wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return call()
	})
	g.observe(method, start, err)
	return result, err
}

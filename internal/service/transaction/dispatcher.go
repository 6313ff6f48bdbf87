package transaction

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mrz1836/herald/internal/bridge"
	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/keystore"
	"github.com/mrz1836/herald/internal/registry"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// contractSignatureLength is the length of a bare [R || S || V] signature.
const contractSignatureLength = 65

// chainStrategy is the chain-type half of the dispatch.
type chainStrategy interface {
	chainType() chain.Type
	// scheme is the key scheme that signs for this chain type.
	scheme() keystore.Scheme
	// describe returns a progress line for external signers.
	describe(s *chain.Signable) string
	// submission turns what a signer returned into the bytes the network submits.
	submission(s *chain.Signable, data []byte) ([]byte, error)
	// settles reports whether a status kind finishes the transaction successfully.
	settles(kind chain.StatusKind) bool
}

// extrinsicStrategy signs the SCALE signing payload (hashed above 256 bytes).
// Signers return a signature.
type extrinsicStrategy struct{}

func (extrinsicStrategy) chainType() chain.Type    { return chain.Extrinsic }
func (extrinsicStrategy) scheme() keystore.Scheme { return keystore.SchemeEd25519 }

func (extrinsicStrategy) describe(s *chain.Signable) string {
	return fmt.Sprintf("sign %d-byte extrinsic payload", len(s.Display))
}

func (extrinsicStrategy) submission(s *chain.Signable, data []byte) ([]byte, error) {
	return s.Assemble(data)
}

func (extrinsicStrategy) settles(kind chain.StatusKind) bool {
	return kind == chain.StatusInBlock || kind == chain.StatusFinalized
}

// contractStrategy signs the EIP-155 hash of the canonical transaction.
// Signers return either a bare signature or the raw signed transaction; a raw
// transaction must match the prepared one.
type contractStrategy struct{}

func (contractStrategy) chainType() chain.Type    { return chain.Contract }
func (contractStrategy) scheme() keystore.Scheme { return keystore.SchemeSecp256k1 }

func (contractStrategy) describe(s *chain.Signable) string {
	return "sign transaction 0x" + hex.EncodeToString(s.Message)
}

func (contractStrategy) submission(s *chain.Signable, data []byte) ([]byte, error) {
	if len(data) == contractSignatureLength {
		return s.Assemble(data)
	}
	if len(data) == 0 {
		return nil, heralderr.WithDetail(heralderr.ErrUnableToSign, "empty signed transaction")
	}
	if s.Verify != nil {
		if err := s.Verify(data); err != nil {
			if !heralderr.Is(err, heralderr.ErrUnableToSign) {
				err = heralderr.WithCause(heralderr.WithDetail(heralderr.ErrUnableToSign, err.Error()), err)
			}
			return nil, err
		}
	}
	return data, nil
}

func (contractStrategy) settles(kind chain.StatusKind) bool {
	return kind == chain.StatusInBlock || kind == chain.StatusFinalized
}

func strategyFor(t chain.Type) (chainStrategy, error) {
	switch t {
	case chain.Extrinsic:
		return extrinsicStrategy{}, nil
	case chain.Contract:
		return contractStrategy{}, nil
	}
	return nil, heralderr.WithDetail(heralderr.ErrUnsupported, fmt.Sprintf("chain type %q", t))
}

// signingMethod is the signing-modality half of the dispatch. It returns
// whatever the signer produced for the signable.
type signingMethod interface {
	obtain(ctx context.Context, j *job, s *chain.Signable) ([]byte, error)
}

// passwordSigner unlocks a local key for exactly one signing call.
type passwordSigner struct {
	keys     KeyStore
	password []byte
}

func (p *passwordSigner) obtain(_ context.Context, j *job, s *chain.Signable) ([]byte, error) {
	defer p.release()

	key, err := p.keys.Unlock(j.record.Address, p.password)
	if err != nil {
		return nil, err
	}
	defer p.keys.Lock(key)

	if key.Scheme() != j.strategy.scheme() {
		return nil, heralderr.WithDetail(heralderr.ErrUnableToSign,
			fmt.Sprintf("%s key cannot sign for %s chains", key.Scheme(), j.strategy.chainType()))
	}
	return key.Sign(s.Message)
}

func (p *passwordSigner) release() {
	clear(p.password)
}

// releaser is implemented by signing methods holding secrets.
type releaser interface {
	release()
}

// externalSigner routes a signable through the bridge to a signing boundary.
type externalSigner struct {
	bridge   *bridge.Bridge
	boundary SigningBoundary
	timeout  time.Duration
}

func (e *externalSigner) await(ctx context.Context, j *job, s *chain.Signable, kind bridge.Kind,
	show func(context.Context, bridge.Request) error,
) ([]byte, error) {
	id := uuid.NewString()
	pending, err := e.bridge.Register(id, kind, s.Display)
	if err != nil {
		return nil, heralderr.WithCause(heralderr.WithDetail(heralderr.ErrUnableToSign, "registering external request"), err)
	}

	stage := j.strategy.describe(s)
	e.bridge.Update(id, bridge.Patch{Stage: &stage})
	if req, ok := e.bridge.Get(id); ok {
		if showErr := show(ctx, req); showErr != nil {
			e.bridge.Reject(id, showErr.Error(), true)
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return pending.Wait(ctx)
}

// qrSigner shows the payload as a QR code and waits for the scanned signature.
type qrSigner struct{ externalSigner }

func (q *qrSigner) obtain(ctx context.Context, j *job, s *chain.Signable) ([]byte, error) {
	return q.await(ctx, j, s, bridge.KindQR, q.boundary.DisplayPayload)
}

// hardwareSigner sends the payload to a device and waits for its answer.
type hardwareSigner struct{ externalSigner }

func (h *hardwareSigner) obtain(ctx context.Context, j *job, s *chain.Signable) ([]byte, error) {
	return h.await(ctx, j, s, bridge.KindHardware, h.boundary.AwaitDevice)
}

// methodFor resolves the signing modality of an account.
func (s *Service) methodFor(signer keystore.Signer, password []byte) (signingMethod, error) {
	ext := externalSigner{bridge: s.bridge, boundary: s.boundary, timeout: s.signingTimeout}
	switch signer {
	case keystore.SignerLocal:
		return &passwordSigner{keys: s.keys, password: append([]byte(nil), password...)}, nil
	case keystore.SignerQR:
		return &qrSigner{ext}, nil
	case keystore.SignerHardware:
		return &hardwareSigner{ext}, nil
	}
	return nil, heralderr.WithDetail(heralderr.ErrUnsupported, fmt.Sprintf("signer %q", signer))
}

// job is one transaction moving through the dispatcher and watcher.
type job struct {
	record   registry.Record
	info     chain.Info
	strategy chainStrategy
	method   signingMethod

	hashEmitted bool
	finished    bool
}

// dispatch signs and submits a pending record, then hands it to the watcher.
// Nothing escapes: every failure ends as an error event.
func (s *Service) dispatch(ctx context.Context, j *job) {
	defer s.wg.Done()
	if r, ok := j.method.(releaser); ok {
		defer r.release()
	}

	signed := false
	defer func() {
		if r := recover(); r != nil {
			err := heralderr.WithDetail(heralderr.ErrInternal, fmt.Sprintf("panic: %v", r))
			s.logger.Error("dispatch of %s panicked: %v", j.record.ID, r)
			if signed {
				s.fail(ctx, j, err)
			} else {
				s.discard(j, err)
			}
		}
	}()

	network, err := s.networks.Lookup(ctx, j.record.Chain)
	if err != nil {
		s.discard(j, heralderr.WithCause(heralderr.WithDetail(heralderr.ErrChainDisconnected, string(j.record.Chain)), err))
		return
	}

	signable, err := network.PrepareSigning(ctx, j.record.Payload)
	if err != nil {
		s.discard(j, classify(err))
		return
	}

	data, err := j.method.obtain(ctx, j, signable)
	if err != nil {
		s.discard(j, classify(err))
		return
	}
	raw, err := j.strategy.submission(signable, data)
	if err != nil {
		s.discard(j, classify(err))
		return
	}
	signed = true

	if err = s.registry.Update(j.record.ID, registry.Patch{Payload: signable.Payload}); err != nil {
		s.logger.Error("storing signed payload of %s: %v", j.record.ID, err)
	}
	j.record.Payload = signable.Payload

	statuses, err := network.BuildAndSubmit(ctx, signable.Payload, raw)
	if err != nil {
		s.fail(ctx, j, classify(err))
		return
	}
	s.watch(ctx, j, statuses)
}

// taxonomy lists the error kinds surfaced to callers unchanged.
//
//nolint:gochecknoglobals // fixed set of error kinds
var taxonomy = []error{
	heralderr.ErrDuplicateTransaction,
	heralderr.ErrUnsupported,
	heralderr.ErrChainDisconnected,
	heralderr.ErrInternal,
	heralderr.ErrNotEnoughBalance,
	heralderr.ErrNotEnoughExistentialDeposit,
	heralderr.ErrUserRejectRequest,
	heralderr.ErrUnableToSign,
	heralderr.ErrUnableToSend,
	heralderr.ErrSendTransactionFailed,
	heralderr.ErrInvalidPassword,
	heralderr.ErrKeyring,
}

// classify keeps errors of a known kind and turns anything else into
// InternalError carrying the original message.
func classify(err error) error {
	for _, kind := range taxonomy {
		if heralderr.Is(err, kind) {
			return err
		}
	}
	return heralderr.WithCause(heralderr.WithDetail(heralderr.ErrInternal, err.Error()), err)
}

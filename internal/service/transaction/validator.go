package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/keystore"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// maxSuggestionDistance is the largest edit distance offered as "did you mean".
const maxSuggestionDistance = 3

// balances is what the concurrent lookups of step 3 and 5 produce.
type balances struct {
	fee     *big.Int
	free    *big.Int
	minimum *big.Int
	freeErr error
}

// validate runs every check and accumulates the findings.
func (s *Service) validate(ctx context.Context, intent *Intent) *ValidationResult {
	result := &ValidationResult{}

	// Duplicate check.
	for _, rec := range s.registry.ListProcessing() {
		if rec.Chain == intent.Chain && sameAddress(rec.Address, intent.Address) {
			result.AddError(heralderr.WithDetail(heralderr.ErrDuplicateTransaction, rec.ID))
			break
		}
	}

	// Payload presence.
	if intent.Payload == nil {
		result.AddError(heralderr.WithDetail(heralderr.ErrUnsupported, "no payload"))
	}

	info, known := s.networks.Info(intent.Chain)
	if !known {
		result.AddError(s.unknownNetwork(intent.Chain))
	} else {
		s.checkChainType(intent, info, result)
	}

	// Account check.
	account, hasAccount := s.keys.Account(intent.Address)
	switch {
	case !hasAccount:
		result.AddError(heralderr.WithDetail(heralderr.ErrInternal, "no such account"))
	case s.keys.IsReadOnly(intent.Address):
		result.AddError(heralderr.WithDetail(heralderr.ErrInternal, "read-only account"))
	case known && !schemeSigns(account.Scheme, info.Type):
		result.AddError(heralderr.WithDetail(heralderr.ErrUnsupported,
			fmt.Sprintf("%s account cannot sign for %s chains", account.Scheme, info.Type)))
	}

	if known {
		s.checkBalance(ctx, intent, info, result)
	}

	if intent.Validator != nil {
		intent.Validator(ctx, result)
	}
	return result
}

// checkChainType rejects payloads built for the other execution model.
func (s *Service) checkChainType(intent *Intent, info chain.Info, result *ValidationResult) {
	if intent.ChainType != "" && intent.ChainType != info.Type {
		result.AddError(heralderr.WithDetail(heralderr.ErrUnsupported,
			fmt.Sprintf("%s is a %s chain, not %s", info.ID, info.Type, intent.ChainType)))
		return
	}
	if intent.Payload != nil && intent.Payload.ChainType() != info.Type {
		result.AddError(heralderr.WithDetail(heralderr.ErrUnsupported,
			fmt.Sprintf("%s payload on %s chain %s", intent.Payload.ChainType(), info.Type, info.ID)))
	}
}

// checkBalance quotes the fee and reads the balances concurrently, then
// compares them with the transfer amount in the chain's native decimals.
func (s *Service) checkBalance(ctx context.Context, intent *Intent, info chain.Info, result *ValidationResult) {
	result.Fee = chain.NewAmount(nil, info.Decimals, info.Symbol)

	transfer, err := normalizeAmount(intent.TransferAmount, info)
	if err != nil {
		result.AddError(err)
		return
	}
	result.TransferAmount = transfer

	b := s.lookupBalances(ctx, intent, info)
	result.Fee = chain.NewAmount(b.fee, info.Decimals, info.Symbol)

	if b.freeErr != nil {
		s.logger.Error("balance lookup for %s on %s failed: %v", intent.Address, info.ID, b.freeErr)
		result.AddError(heralderr.WithCause(heralderr.WithDetail(heralderr.ErrChainDisconnected, string(info.ID)), b.freeErr))
		return
	}
	result.Balance = chain.NewAmount(b.free, info.Decimals, info.Symbol)

	required := new(big.Int).Add(transfer.Value, b.fee)
	if required.Cmp(b.free) > 0 {
		result.AddError(heralderr.WithDetails(heralderr.ErrNotEnoughBalance, map[string]string{
			"required":  chain.NewAmount(required, info.Decimals, info.Symbol).String(),
			"available": result.Balance.String(),
		}))
		return
	}

	remainder := new(big.Int).Sub(b.free, required)
	if remainder.Cmp(b.minimum) <= 0 {
		result.AddWarning(heralderr.WithDetails(heralderr.ErrNotEnoughExistentialDeposit, map[string]string{
			"remaining": chain.NewAmount(remainder, info.Decimals, info.Symbol).String(),
			"minimum":   chain.NewAmount(b.minimum, info.Decimals, info.Symbol).String(),
		}))
	}
}

// lookupBalances runs the fee quote and both balance reads in parallel.
// A failed fee quote or minimum balance read counts as zero.
func (s *Service) lookupBalances(ctx context.Context, intent *Intent, info chain.Info) balances {
	b := balances{fee: new(big.Int), free: new(big.Int), minimum: new(big.Int)}

	network, err := s.networks.Lookup(ctx, info.ID)
	if err != nil {
		b.freeErr = err
		return b
	}

	g, gctx := errgroup.WithContext(ctx)
	if intent.Payload != nil {
		g.Go(func() error {
			fee, feeErr := network.EstimateFee(gctx, intent.Payload)
			if feeErr != nil {
				s.logger.Debug("fee estimate on %s failed, using zero: %v", info.ID, feeErr)
				return nil
			}
			b.fee = fee
			return nil
		})
	}
	g.Go(func() error {
		free, freeErr := network.GetFreeBalance(gctx, intent.Address)
		if freeErr != nil {
			return freeErr
		}
		b.free = free
		return nil
	})
	g.Go(func() error {
		minimum, minErr := network.GetMinimumBalance(gctx)
		if minErr != nil {
			s.logger.Debug("minimum balance on %s failed, using zero: %v", info.ID, minErr)
			return nil
		}
		b.minimum = minimum
		return nil
	})
	b.freeErr = g.Wait()

	for _, v := range []**big.Int{&b.fee, &b.free, &b.minimum} {
		if *v == nil {
			*v = new(big.Int)
		}
	}
	return b
}

// unknownNetwork reports a missing network, suggesting the closest configured slug.
func (s *Service) unknownNetwork(id chain.ID) error {
	err := heralderr.WithDetail(heralderr.ErrInternal, "no such network")
	best, bestDistance := "", maxSuggestionDistance+1
	for _, candidate := range s.networks.IDs() {
		d := levenshtein.ComputeDistance(strings.ToLower(string(id)), string(candidate))
		if d < bestDistance {
			best, bestDistance = string(candidate), d
		}
	}
	if best != "" {
		err = heralderr.WithSuggestion(err, fmt.Sprintf("did you mean %q?", best))
	}
	return err
}

// normalizeAmount expresses amount in the chain's decimals. A zero-value
// amount is treated as no transfer.
func normalizeAmount(amount chain.Amount, info chain.Info) (chain.Amount, error) {
	if amount.Value == nil {
		return chain.NewAmount(nil, info.Decimals, info.Symbol), nil
	}
	if amount.Value.Sign() < 0 {
		return chain.Amount{}, heralderr.WithDetail(heralderr.ErrInternal, "negative transfer amount")
	}
	if amount.Symbol != "" && info.Symbol != "" && !strings.EqualFold(amount.Symbol, info.Symbol) {
		return chain.Amount{}, heralderr.WithDetail(heralderr.ErrInternal,
			fmt.Sprintf("amount in %s on a %s chain", amount.Symbol, info.Symbol))
	}

	out, err := amount.Rescale(info.Decimals)
	if errors.Is(err, chain.ErrPrecisionLoss) {
		return chain.Amount{}, heralderr.WithDetail(heralderr.ErrInternal,
			fmt.Sprintf("amount has more than %d decimals", info.Decimals))
	}
	if err != nil {
		return chain.Amount{}, err
	}
	out.Symbol = info.Symbol
	return out, nil
}

// schemeSigns reports whether keys of scheme sign for chains of type t.
func schemeSigns(scheme keystore.Scheme, t chain.Type) bool {
	switch t {
	case chain.Extrinsic:
		return scheme == keystore.SchemeEd25519
	case chain.Contract:
		return scheme == keystore.SchemeSecp256k1
	}
	return false
}

// sameAddress compares hex addresses case-insensitively and others exactly.
func sameAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") && strings.HasPrefix(b, "0x") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

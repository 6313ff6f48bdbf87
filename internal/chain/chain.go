// Package chain provides the chain capability facade consumed by the
// transaction core: chain metadata, fee estimation, balance lookup and
// payload submission, for both extrinsic and contract execution models.
package chain

import (
	"context"
	"math/big"
	"strings"
)

// ID identifies a configured network by slug (e.g. "polkadot", "ethereum").
type ID string

// String returns the chain identifier string.
func (id ID) String() string {
	return string(id)
}

// Type is the execution model of a chain.
type Type string

// Supported execution models.
const (
	// Extrinsic chains sign structured calls (account/extrinsic model).
	Extrinsic Type = "extrinsic"
	// Contract chains sign gas-priced, nonce-ordered raw transactions.
	Contract Type = "contract"
)

// String returns the chain type string.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the chain type is a known execution model.
func (t Type) IsValid() bool {
	switch t {
	case Extrinsic, Contract:
		return true
	default:
		return false
	}
}

// ParseType parses a string into a chain Type.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	return t, t.IsValid()
}

// hashPlaceholder is replaced by the transaction hash in explorer URLs.
const hashPlaceholder = "{hash}"

// Info describes a configured network.
type Info struct {
	ID             ID
	Name           string
	Type           Type
	Symbol         string
	Decimals       int
	MinimumBalance *big.Int // Existential deposit in base units (nil means zero)
	ExplorerURL    string   // Either a template containing {hash} or a prefix
	EVMChainID     int64    // Contract chains only
}

// ExplorerLink returns the explorer URL for a transaction hash, or "" if the
// network has no explorer configured.
func (i Info) ExplorerLink(hash string) string {
	if i.ExplorerURL == "" || hash == "" {
		return ""
	}
	if strings.Contains(i.ExplorerURL, hashPlaceholder) {
		return strings.ReplaceAll(i.ExplorerURL, hashPlaceholder, hash)
	}
	return strings.TrimRight(i.ExplorerURL, "/") + "/" + hash
}

// Payload is an opaque, chain-type-specific transaction payload.
type Payload interface {
	// ChainType returns the execution model the payload belongs to.
	ChainType() Type
}

// PayloadCopier is implemented by payloads that can deep-copy themselves.
type PayloadCopier interface {
	CopyPayload() Payload
}

// CopyPayload returns a deep copy of p when it supports copying, otherwise p itself.
func CopyPayload(p Payload) Payload {
	if c, ok := p.(PayloadCopier); ok {
		return c.CopyPayload()
	}
	return p
}

// StatusKind is a step of the submission lifecycle reported by a network.
type StatusKind int

// Submission lifecycle steps.
const (
	// StatusBroadcast reports that the chain accepted the transaction and assigned its hash.
	StatusBroadcast StatusKind = iota
	// StatusInBlock reports inclusion (extrinsic inBlock, contract receipt).
	StatusInBlock
	// StatusFinalized reports finality.
	StatusFinalized
	// StatusError reports a failure at any point.
	StatusError
)

// String returns the status kind name.
func (k StatusKind) String() string {
	switch k {
	case StatusBroadcast:
		return "broadcast"
	case StatusInBlock:
		return "in_block"
	case StatusFinalized:
		return "finalized"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is one element of the submission stream.
type Status struct {
	Kind        StatusKind
	Hash        string // Transaction hash, set on every status once known
	BlockHash   string
	BlockNumber uint64
	Err         error // Set when Kind is StatusError
}

// Identifier provides chain identification.
type Identifier interface {
	// Info returns the network metadata.
	Info() Info
}

// FeeEstimator provides fee estimation capabilities.
type FeeEstimator interface {
	// EstimateFee quotes the fee for a payload in base units.
	// Extrinsic chains: payment info. Contract chains: gas price * gas estimate.
	EstimateFee(ctx context.Context, payload Payload) (*big.Int, error)
}

// BalanceReader provides balance querying capabilities.
type BalanceReader interface {
	// GetFreeBalance returns the spendable balance of an address in base units.
	GetFreeBalance(ctx context.Context, address string) (*big.Int, error)

	// GetMinimumBalance returns the minimum balance an account must retain.
	GetMinimumBalance(ctx context.Context) (*big.Int, error)
}

// Submitter builds the final transaction from a payload and its signed bytes
// and submits it.
type Submitter interface {
	// BuildAndSubmit submits the transaction and returns a stream of status
	// updates. The stream is closed after a terminal status (InBlock for
	// contract chains, Finalized or Error otherwise) or when ctx is done.
	// For extrinsic chains signed is the signature over the signing payload;
	// for contract chains it is the raw signed transaction.
	BuildAndSubmit(ctx context.Context, payload Payload, signed []byte) (<-chan Status, error)
}

// Signable is a payload prepared for signing.
type Signable struct {
	// Payload is the normalized payload (nonce, fees, versions filled in)
	// that must be passed to BuildAndSubmit.
	Payload Payload
	// Message is the exact byte string a local key signs.
	Message []byte
	// Display is the unsigned payload shown to external signers.
	Display []byte
	// Assemble turns a signature into the signed argument of BuildAndSubmit.
	Assemble func(signature []byte) ([]byte, error)
	// Verify checks a complete signed transaction returned by an external
	// signer against Payload. Nil when the chain accepts signatures only.
	Verify func(signed []byte) error
}

// SigningPreparer normalizes a payload and derives what must be signed.
type SigningPreparer interface {
	PrepareSigning(ctx context.Context, payload Payload) (*Signable, error)
}

// Network is the full capability facade for one configured chain.
type Network interface {
	Identifier
	FeeEstimator
	BalanceReader
	SigningPreparer
	Submitter
}

// TransferPreparer is implemented by networks able to build a native
// transfer payload for the caller.
type TransferPreparer interface {
	PrepareTransfer(ctx context.Context, from, to string, amount *big.Int) (Payload, error)
}

// ClientCloser is implemented by networks that hold connections.
type ClientCloser interface {
	Close()
}

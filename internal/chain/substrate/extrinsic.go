package substrate

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"

	"github.com/mrz1836/herald/internal/chain"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

const (
	// SignatureLength is the length of an ed25519 signature.
	SignatureLength = 64

	// maxUnhashedPayload is the largest signing payload signed as-is;
	// longer payloads are signed over their blake2b-256 digest.
	maxUnhashedPayload = 256

	signedExtrinsicV4 = 0x84
	multiAddressID    = 0x00
	multiSigEd25519   = 0x00
	immortalEra       = 0x00
	metadataHashOff   = 0x00
)

// DefaultTransferCallIndex is Balances.transfer_keep_alive on Polkadot-style runtimes.
var DefaultTransferCallIndex = [2]byte{0x05, 0x03}

// Payload is an extrinsic-chain transaction request. Nonce and the runtime
// fields are filled in during PrepareSigning when left zero.
type Payload struct {
	From        string // SS58 sender address
	Call        []byte // Encoded call (pallet index, call index, arguments)
	Nonce       *uint64
	Tip         *big.Int
	SpecVersion uint32
	TxVersion   uint32
	GenesisHash [32]byte
	// MetadataHash adds the CheckMetadataHash extension (mode disabled).
	MetadataHash bool
}

// ChainType marks the payload as an extrinsic-chain payload.
func (p *Payload) ChainType() chain.Type {
	return chain.Extrinsic
}

// CopyPayload implements chain.PayloadCopier.
func (p *Payload) CopyPayload() chain.Payload {
	if p == nil {
		return nil
	}
	return p.Clone()
}

// Clone returns a deep copy of the payload.
func (p *Payload) Clone() *Payload {
	out := *p
	out.Call = append([]byte(nil), p.Call...)
	if p.Tip != nil {
		out.Tip = new(big.Int).Set(p.Tip)
	}
	if p.Nonce != nil {
		nonce := *p.Nonce
		out.Nonce = &nonce
	}
	return &out
}

// TransferCall encodes a transfer_keep_alive call to dest for amount.
func TransferCall(callIndex [2]byte, dest AccountID, amount *big.Int) ([]byte, error) {
	e := &encoder{}
	e.raw(callIndex[:]...)
	e.raw(multiAddressID)
	e.raw(dest[:]...)
	if err := e.compact(amount); err != nil {
		return nil, fmt.Errorf("encoding amount: %w", err)
	}
	return e.bytes(), nil
}

// extra encodes the signed extensions carried inside the extrinsic.
func (p *Payload) extra(e *encoder) error {
	e.raw(immortalEra)
	e.compactUint(p.nonce())
	if err := e.compact(p.Tip); err != nil {
		return fmt.Errorf("encoding tip: %w", err)
	}
	if p.MetadataHash {
		e.raw(metadataHashOff)
	}
	return nil
}

// SigningPayload returns the unhashed bytes covered by the signature.
// Immortal era, so the checkpoint block is the genesis block.
func (p *Payload) SigningPayload() ([]byte, error) {
	e := &encoder{}
	e.raw(p.Call...)
	if err := p.extra(e); err != nil {
		return nil, err
	}
	e.u32(p.SpecVersion)
	e.u32(p.TxVersion)
	e.raw(p.GenesisHash[:]...)
	e.raw(p.GenesisHash[:]...)
	if p.MetadataHash {
		e.raw(0x00) // Option<H256>::None
	}
	return e.bytes(), nil
}

// SigningMessage returns the bytes a key signs: the signing payload,
// or its blake2b-256 digest when longer than 256 bytes.
func SigningMessage(payload []byte) []byte {
	if len(payload) > maxUnhashedPayload {
		sum := blake2b.Sum256(payload)
		return sum[:]
	}
	return payload
}

// Encode returns the length-prefixed signed extrinsic.
func (p *Payload) Encode(signature []byte) ([]byte, error) {
	if len(signature) != SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes, got %d",
			heralderr.ErrUnableToSign, SignatureLength, len(signature))
	}
	signer, _, err := DecodeAddress(p.From)
	if err != nil {
		return nil, err
	}

	body := &encoder{}
	body.raw(signedExtrinsicV4, multiAddressID)
	body.raw(signer[:]...)
	body.raw(multiSigEd25519)
	body.raw(signature...)
	if err = p.extra(body); err != nil {
		return nil, err
	}
	body.raw(p.Call...)

	out := &encoder{}
	out.compactUint(uint64(len(body.bytes())))
	out.raw(body.bytes()...)
	return out.bytes(), nil
}

// ExtrinsicHash returns the 0x-prefixed blake2b-256 hash of an encoded extrinsic.
func ExtrinsicHash(encoded []byte) string {
	sum := blake2b.Sum256(encoded)
	return "0x" + hex.EncodeToString(sum[:])
}

func (p *Payload) nonce() uint64 {
	if p.Nonce == nil {
		return 0
	}
	return *p.Nonce
}

// normalizeSignature accepts a bare ed25519 signature or one prefixed with
// the MultiSignature::Ed25519 variant byte.
func normalizeSignature(signature []byte) ([]byte, error) {
	switch {
	case len(signature) == SignatureLength:
		return append([]byte(nil), signature...), nil
	case len(signature) == SignatureLength+1 && signature[0] == multiSigEd25519:
		return append([]byte(nil), signature[1:]...), nil
	default:
		return nil, fmt.Errorf("%w: unexpected signature length %d", heralderr.ErrUnableToSign, len(signature))
	}
}

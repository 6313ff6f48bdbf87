package evm

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/mrz1836/herald/internal/chain"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

const (
	// GasLimitTransfer is the gas limit for a plain value transfer.
	GasLimitTransfer uint64 = 21000

	signatureLength = crypto.SignatureLength // [R || S || V]
)

// Payload is a contract-chain transaction request. Zero-valued optional
// fields (Nonce, GasLimit, GasPrice) are filled in during PrepareSigning.
type Payload struct {
	From     string   // Sender address (0x-prefixed hex)
	To       string   // Recipient or contract address
	Value    *big.Int // Value in wei
	Data     []byte   // Call data
	Nonce    *uint64
	GasLimit uint64
	GasPrice *big.Int
}

// ChainType marks the payload as a contract-chain payload.
func (p *Payload) ChainType() chain.Type {
	return chain.Contract
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
	if p.Value != nil {
		out.Value = new(big.Int).Set(p.Value)
	}
	if p.GasPrice != nil {
		out.GasPrice = new(big.Int).Set(p.GasPrice)
	}
	if p.Nonce != nil {
		nonce := *p.Nonce
		out.Nonce = &nonce
	}
	out.Data = append([]byte(nil), p.Data...)
	return &out
}

// Validate checks the fields that are never filled in automatically.
func (p *Payload) Validate() error {
	if !IsValidAddress(p.From) {
		return heralderr.WithDetails(heralderr.ErrInvalidAddress, map[string]string{
			"field":   "from",
			"address": p.From,
		})
	}
	if !IsValidAddress(p.To) {
		return heralderr.WithDetails(heralderr.ErrInvalidAddress, map[string]string{
			"field":   "to",
			"address": p.To,
		})
	}
	if p.Value != nil && p.Value.Sign() < 0 {
		return heralderr.WithDetails(heralderr.ErrInvalidAmount, map[string]string{
			"reason": "value cannot be negative",
		})
	}
	return nil
}

// IsValidAddress checks for a 0x-prefixed 20-byte hex address.
func IsValidAddress(address string) bool {
	return len(address) == 2+2*common.AddressLength && common.IsHexAddress(address)
}

// unsignedTx builds the legacy transaction described by a fully normalized payload.
func unsignedTx(p *Payload) *types.Transaction {
	to := common.HexToAddress(p.To)
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    *p.Nonce,
		To:       &to,
		Value:    value,
		Gas:      p.GasLimit,
		GasPrice: p.GasPrice,
		Data:     p.Data,
	})
}

// signingPayload returns the EIP-155 RLP list whose keccak256 is the signing hash.
func signingPayload(tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	return rlp.EncodeToBytes([]any{
		tx.Nonce(),
		tx.GasPrice(),
		tx.Gas(),
		tx.To(),
		tx.Value(),
		tx.Data(),
		chainID,
		uint(0),
		uint(0),
	})
}

// signable derives the bytes to sign and the assembler for a normalized payload.
func signable(p *Payload, chainID *big.Int) (*chain.Signable, error) {
	tx := unsignedTx(p)
	signer := types.NewEIP155Signer(chainID)

	display, err := signingPayload(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("encoding signing payload: %w", err)
	}

	return &chain.Signable{
		Payload: p,
		Message: signer.Hash(tx).Bytes(),
		Display: display,
		Assemble: func(signature []byte) ([]byte, error) {
			return assemble(tx, signer, p.From, signature)
		},
		Verify: func(raw []byte) error {
			return verifySigned(raw, tx, chainID, p.From)
		},
	}, nil
}

// assemble attaches a signature to tx and returns its raw encoding.
// The recovered sender must match from.
func assemble(tx *types.Transaction, signer types.Signer, from string, signature []byte) ([]byte, error) {
	if len(signature) != signatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes, got %d",
			heralderr.ErrUnableToSign, signatureLength, len(signature))
	}

	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", heralderr.ErrUnableToSign, err)
	}

	sender, err := types.Sender(signer, signed)
	if err != nil {
		return nil, fmt.Errorf("%w: recovering sender: %w", heralderr.ErrUnableToSign, err)
	}
	if sender != common.HexToAddress(from) {
		return nil, heralderr.WithDetails(heralderr.ErrUnableToSign, map[string]string{
			"expected": common.HexToAddress(from).Hex(),
			"signer":   sender.Hex(),
		})
	}

	return signed.MarshalBinary()
}

// verifySigned checks that a raw signed transaction is the one prepared as
// want: same chain, sender, nonce, recipient, value and call data.
func verifySigned(raw []byte, want *types.Transaction, chainID *big.Int, from string) error {
	got, err := decodeSigned(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", heralderr.ErrUnableToSign, err)
	}

	mismatch := func(field, expected, actual string) error {
		return heralderr.WithDetails(heralderr.ErrUnableToSign, map[string]string{
			"field":    field,
			"expected": expected,
			"signed":   actual,
		})
	}

	if !got.Protected() || got.ChainId().Cmp(chainID) != 0 {
		return mismatch("chain_id", chainID.String(), got.ChainId().String())
	}
	sender, err := types.LatestSignerForChainID(chainID).Sender(got)
	if err != nil {
		return fmt.Errorf("%w: recovering sender: %w", heralderr.ErrUnableToSign, err)
	}
	if sender != common.HexToAddress(from) {
		return mismatch("from", common.HexToAddress(from).Hex(), sender.Hex())
	}
	if got.Nonce() != want.Nonce() {
		return mismatch("nonce", fmt.Sprint(want.Nonce()), fmt.Sprint(got.Nonce()))
	}
	if got.To() == nil || *got.To() != *want.To() {
		signedTo := "contract creation"
		if got.To() != nil {
			signedTo = got.To().Hex()
		}
		return mismatch("to", want.To().Hex(), signedTo)
	}
	if got.Value().Cmp(want.Value()) != 0 {
		return mismatch("value", want.Value().String(), got.Value().String())
	}
	if !bytes.Equal(got.Data(), want.Data()) {
		return mismatch("data", "0x"+hex.EncodeToString(want.Data()), "0x"+hex.EncodeToString(got.Data()))
	}
	return nil
}

// decodeSigned parses a raw signed transaction.
func decodeSigned(raw []byte) (*types.Transaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decoding signed transaction: %w", err)
	}
	return tx, nil
}

package substrate

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

const (
	// AccountIDLength is the byte length of an account public key.
	AccountIDLength = 32

	checksumLength = 2
	maxPrefix      = 16383
)

var ss58Context = []byte("SS58PRE")

// AccountID is a 32-byte public key.
type AccountID [AccountIDLength]byte

// Hex returns the 0x-prefixed hex form.
func (a AccountID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// EncodeAddress encodes a public key as an SS58 address for the given network prefix.
func EncodeAddress(id AccountID, prefix uint16) string {
	var payload []byte
	switch {
	case prefix < 64:
		payload = []byte{byte(prefix)}
	default:
		first := byte((prefix&0b1111_1100)>>2) | 0b0100_0000
		second := byte(prefix>>8) | byte(prefix&0b11)<<6
		payload = []byte{first, second}
	}
	payload = append(payload, id[:]...)
	return base58.Encode(append(payload, ss58Checksum(payload)...))
}

// DecodeAddress parses an SS58 address into its public key and network prefix.
func DecodeAddress(address string) (AccountID, uint16, error) {
	var id AccountID

	raw, err := base58.Decode(strings.TrimSpace(address))
	if err != nil || len(raw) < 1+AccountIDLength+checksumLength {
		return id, 0, invalidAddress(address)
	}

	var prefix uint16
	prefixLen := 1
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
	case raw[0] < 128:
		prefixLen = 2
		lower := (raw[0]<<2 | raw[1]>>6) & 0xff
		upper := raw[1] & 0b0011_1111
		prefix = uint16(lower) | uint16(upper)<<8
	default:
		return id, 0, invalidAddress(address)
	}

	if len(raw) != prefixLen+AccountIDLength+checksumLength || prefix > maxPrefix {
		return id, 0, invalidAddress(address)
	}

	body := raw[:prefixLen+AccountIDLength]
	if !bytes.Equal(ss58Checksum(body), raw[prefixLen+AccountIDLength:]) {
		return id, 0, invalidAddress(address)
	}

	copy(id[:], body[prefixLen:])
	return id, prefix, nil
}

// IsValidAddress reports whether address is a well-formed SS58 account address.
func IsValidAddress(address string) bool {
	_, _, err := DecodeAddress(address)
	return err == nil
}

func ss58Checksum(payload []byte) []byte {
	sum := blake2b.Sum512(append(append([]byte{}, ss58Context...), payload...))
	return sum[:checksumLength]
}

func invalidAddress(address string) error {
	return heralderr.WithDetails(heralderr.ErrInvalidAddress, map[string]string{"address": address})
}

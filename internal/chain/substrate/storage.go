package substrate

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// ErrShortAccountInfo indicates a System.Account value too short to hold AccountData.free.
var ErrShortAccountInfo = errors.New("account info too short")

// accountDataFreeOffset skips nonce, consumers, providers and sufficients (u32 each).
const accountDataFreeOffset = 16

// twox128 is the 128-bit xxHash used for pallet and storage item prefixes.
func twox128(data []byte) []byte {
	out := make([]byte, 0, 16)
	for seed := uint64(0); seed < 2; seed++ {
		d := xxhash.NewWithSeed(seed)
		_, _ = d.Write(data)
		out = binary.LittleEndian.AppendUint64(out, d.Sum64())
	}
	return out
}

// blake2128Concat is the Blake2_128Concat map hasher.
func blake2128Concat(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	_, _ = h.Write(data)
	return append(h.Sum(nil), data...)
}

// systemAccountKey returns the hex storage key of System.Account(id).
func systemAccountKey(id AccountID) string {
	key := twox128([]byte("System"))
	key = append(key, twox128([]byte("Account"))...)
	key = append(key, blake2128Concat(id[:])...)
	return "0x" + hex.EncodeToString(key)
}

// decodeFreeBalance extracts AccountData.free (u128) from an encoded AccountInfo.
func decodeFreeBalance(info []byte) (*big.Int, error) {
	if len(info) < accountDataFreeOffset+16 {
		return nil, ErrShortAccountInfo
	}
	return fromLittleEndian(info[accountDataFreeOffset : accountDataFreeOffset+16]), nil
}

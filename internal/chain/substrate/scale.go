package substrate

import (
	"encoding/binary"
	"errors"
	"math/big"
)

// SCALE codec errors.
var (
	ErrCompactOverflow  = errors.New("compact value exceeds 2^536")
	ErrCompactTruncated = errors.New("truncated compact value")
	ErrNegativeCompact  = errors.New("compact value cannot be negative")
)

const (
	singleByteMax = 1<<6 - 1
	twoByteMax    = 1<<14 - 1
	fourByteMax   = 1<<30 - 1
)

// encoder accumulates SCALE-encoded bytes.
type encoder struct {
	buf []byte
}

func (e *encoder) bytes() []byte {
	return e.buf
}

func (e *encoder) raw(b ...byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) u32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) compactUint(v uint64) {
	e.buf = appendCompact(e.buf, new(big.Int).SetUint64(v))
}

func (e *encoder) compact(v *big.Int) error {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 {
		return ErrNegativeCompact
	}
	if v.BitLen() > 536 {
		return ErrCompactOverflow
	}
	e.buf = appendCompact(e.buf, v)
	return nil
}

// appendCompact appends the SCALE compact encoding of a non-negative v.
func appendCompact(buf []byte, v *big.Int) []byte {
	if v.IsUint64() {
		n := v.Uint64()
		switch {
		case n <= singleByteMax:
			return append(buf, byte(n<<2))
		case n <= twoByteMax:
			return binary.LittleEndian.AppendUint16(buf, uint16(n<<2|0b01))
		case n <= fourByteMax:
			return binary.LittleEndian.AppendUint32(buf, uint32(n<<2|0b10))
		}
	}

	le := littleEndian(v)
	return append(append(buf, byte(len(le)-4)<<2|0b11), le...)
}

// decodeCompact reads a compact integer from b, returning it and the bytes consumed.
func decodeCompact(b []byte) (*big.Int, int, error) {
	if len(b) == 0 {
		return nil, 0, ErrCompactTruncated
	}

	switch b[0] & 0b11 {
	case 0b00:
		return big.NewInt(int64(b[0] >> 2)), 1, nil
	case 0b01:
		if len(b) < 2 {
			return nil, 0, ErrCompactTruncated
		}
		return big.NewInt(int64(binary.LittleEndian.Uint16(b) >> 2)), 2, nil
	case 0b10:
		if len(b) < 4 {
			return nil, 0, ErrCompactTruncated
		}
		return big.NewInt(int64(binary.LittleEndian.Uint32(b) >> 2)), 4, nil
	default:
		n := int(b[0]>>2) + 4
		if len(b) < 1+n {
			return nil, 0, ErrCompactTruncated
		}
		return fromLittleEndian(b[1 : 1+n]), 1 + n, nil
	}
}

// littleEndian returns v as little-endian bytes, at least four long.
func littleEndian(v *big.Int) []byte {
	be := v.Bytes()
	out := make([]byte, max(len(be), 4))
	for i, c := range be {
		out[len(be)-1-i] = c
	}
	return out
}

func fromLittleEndian(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i, c := range b {
		be[len(b)-1-i] = c
	}
	return new(big.Int).SetBytes(be)
}

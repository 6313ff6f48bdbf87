package output

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"rsc.io/qr"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// MaxQRPayload is the largest signing payload, in bytes, that fits one QR
// code once hex encoded at the default error correction level.
const MaxQRPayload = 1400

// QRConfig configures QR code rendering.
type QRConfig struct {
	// Level is the error correction level.
	Level qr.Level
	// QuietZone is the number of empty blocks around the QR code.
	QuietZone int
	// HalfBlocks uses half-height blocks for a more compact display.
	HalfBlocks bool
	// Force renders even when the writer is not a terminal.
	Force bool
}

// DefaultQRConfig returns the defaults for terminal QR rendering.
func DefaultQRConfig() QRConfig {
	return QRConfig{
		Level:      qr.L,
		QuietZone:  1,
		HalfBlocks: true,
	}
}

// CanRenderQR checks if the output writer is a terminal suitable for QR rendering.
func CanRenderQR(w io.Writer) bool {
	return IsTerminal(w)
}

// RenderQR renders data as a QR code. Nothing is written to a writer that
// is not a terminal unless cfg.Force is set.
func RenderQR(w io.Writer, data string, cfg QRConfig) error {
	if !cfg.Force && !CanRenderQR(w) {
		return nil
	}

	// rsc.io/qr panics on data above the version 40 capacity
	if _, err := qr.Encode(data, cfg.Level); err != nil {
		return heralderr.WithCause(heralderr.WithDetail(heralderr.ErrInvalidInput, "data does not fit a QR code"), err)
	}

	qrterminal.GenerateWithConfig(data, qrterminal.Config{
		Level:          cfg.Level,
		Writer:         w,
		QuietZone:      cfg.QuietZone,
		HalfBlocks:     cfg.HalfBlocks,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
	})
	return nil
}

// PayloadText returns the 0x-prefixed hex form of a signing payload, as
// shown in and scanned from the QR code.
func PayloadText(payload []byte) string {
	return "0x" + hex.EncodeToString(payload)
}

// RenderPayloadQR renders a signing payload for an offline signer.
func RenderPayloadQR(w io.Writer, payload []byte, cfg QRConfig) error {
	if len(payload) == 0 {
		return heralderr.WithDetail(heralderr.ErrInvalidInput, "empty signing payload")
	}
	if len(payload) > MaxQRPayload {
		return heralderr.WithDetail(heralderr.ErrInvalidInput,
			fmt.Sprintf("signing payload of %d bytes exceeds the QR limit of %d", len(payload), MaxQRPayload))
	}
	return RenderQR(w, PayloadText(payload), cfg)
}

package transaction

import (
	"context"

	"github.com/mrz1836/herald/internal/bridge"
	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/history"
	"github.com/mrz1836/herald/internal/keystore"
	"github.com/mrz1836/herald/internal/notify"
)

// NetworkProvider resolves configured networks.
type NetworkProvider interface {
	Info(id chain.ID) (chain.Info, bool)
	Lookup(ctx context.Context, id chain.ID) (chain.Network, error)
	IDs() []chain.ID
}

// KeyStore provides account metadata and scoped key access.
type KeyStore interface {
	Account(address string) (keystore.Account, bool)
	Unlock(address string, password []byte) (*keystore.SigningKey, error)
	Lock(key *keystore.SigningKey)
	IsReadOnly(address string) bool
}

// HistorySink persists the transaction history. Failures are logged, never propagated.
type HistorySink interface {
	Record(ctx context.Context, entry history.Entry) error
	Update(ctx context.Context, chainID chain.ID, hash string, patch history.Patch) error
}

// Notifier delivers user notifications.
type Notifier interface {
	Notify(n notify.Notification)
}

// SigningBoundary shows an external signing request to the user. It answers
// later through Bridge.Resolve or Bridge.Reject.
type SigningBoundary interface {
	// DisplayPayload shows the payload to sign, e.g. as a QR code.
	DisplayPayload(ctx context.Context, req bridge.Request) error
	// AwaitDevice asks a hardware device to sign the payload.
	AwaitDevice(ctx context.Context, req bridge.Request) error
}

// MetricsRecorder receives service counters.
type MetricsRecorder interface {
	ValidationRejected(kind string)
	Submitted(chainType, signer string)
	Finished(chainType, outcome string)
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

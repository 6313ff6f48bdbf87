package bridge_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/herald/internal/bridge"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []bridge.Request
}

func (r *recorder) observe(req bridge.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, req)
}

func (r *recorder) statuses(id string) []bridge.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bridge.Status
	for _, e := range r.events {
		if e.ID == id {
			out = append(out, e.Status)
		}
	}
	return out
}

func TestBridge_ResolveCompletes(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	b := bridge.New(rec.observe)

	pending, err := b.Register("req-1", bridge.KindQR, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, "req-1", pending.ID())

	current, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, bridge.StatusPending, current.Status)
	assert.Equal(t, bridge.KindQR, current.Kind)
	assert.Equal(t, []byte{0x01}, current.Payload)

	assert.True(t, b.Resolve("req-1", []byte("signature")))
	assert.False(t, b.Resolve("req-1", []byte("again")), "second resolve is a no-op")
	assert.False(t, b.Reject("req-1", "late", true), "reject after resolve is a no-op")

	data, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("signature"), data)

	got, ok := b.Get("req-1")
	require.True(t, ok)
	assert.Equal(t, bridge.StatusCompleted, got.Status)
	assert.Equal(t, []bridge.Status{bridge.StatusPending, bridge.StatusResolved, bridge.StatusCompleted}, rec.statuses("req-1"))
}

func TestBridge_Reject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		throwError bool
		want       error
	}{
		{"silent cancellation", false, heralderr.ErrUserRejectRequest},
		{"error reject", true, heralderr.ErrUnableToSign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := bridge.New(nil)

			pending, err := b.Register("req", bridge.KindHardware, nil)
			require.NoError(t, err)

			assert.True(t, b.Reject("req", "User Rejected", tt.throwError))
			assert.False(t, b.Reject("req", "User Rejected", tt.throwError))
			assert.False(t, b.Resolve("req", []byte("sig")))

			_, err = pending.Wait(context.Background())
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, "User Rejected", heralderr.Detail(err))

			got, ok := b.Get("req")
			require.True(t, ok)
			assert.Equal(t, bridge.StatusRejected, got.Status)
			assert.Equal(t, "User Rejected", got.Message)
		})
	}
}

func TestBridge_RegisterSupersedesPending(t *testing.T) {
	t.Parallel()
	b := bridge.New(nil)

	first, err := b.Register("first", bridge.KindQR, nil)
	require.NoError(t, err)
	second, err := b.Register("second", bridge.KindQR, nil)
	require.NoError(t, err)

	_, err = first.Wait(context.Background())
	require.ErrorIs(t, err, bridge.ErrSuperseded)
	require.ErrorIs(t, err, heralderr.ErrUserRejectRequest)

	assert.False(t, b.Resolve("first", []byte("sig")), "superseded request cannot be resolved")
	assert.False(t, b.Reject("first", "", false))
	_, ok := b.Get("first")
	assert.False(t, ok)

	assert.True(t, b.Resolve("second", []byte("sig")))
	data, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("sig"), data)
}

func TestBridge_Clean(t *testing.T) {
	t.Parallel()
	b := bridge.New(nil)

	b.Clean()

	pending, err := b.Register("req", bridge.KindQR, nil)
	require.NoError(t, err)
	b.Clean()

	_, ok := b.Current()
	assert.False(t, ok)
	_, err = pending.Wait(context.Background())
	require.ErrorIs(t, err, bridge.ErrSuperseded)
}

func TestBridge_RegisterValidation(t *testing.T) {
	t.Parallel()
	b := bridge.New(nil)

	_, err := b.Register("", bridge.KindQR, nil)
	require.ErrorIs(t, err, bridge.ErrEmptyID)

	_, err = b.Register("req", bridge.KindQR, nil)
	require.NoError(t, err)
	_, err = b.Register("req", bridge.KindQR, nil)
	require.ErrorIs(t, err, bridge.ErrIDInUse)

	current, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, bridge.StatusPending, current.Status, "failed register leaves the slot alone")
}

func TestBridge_Update(t *testing.T) {
	t.Parallel()
	b := bridge.New(nil)

	_, err := b.Register("req", bridge.KindHardware, nil)
	require.NoError(t, err)

	stage := "waiting for device"
	assert.True(t, b.Update("req", bridge.Patch{Stage: &stage}))
	assert.False(t, b.Update("other", bridge.Patch{Stage: &stage}))

	got, ok := b.Get("req")
	require.True(t, ok)
	assert.Equal(t, stage, got.Stage)
	assert.Empty(t, got.Message)
	assert.Equal(t, bridge.StatusPending, got.Status)
}

func TestPending_WaitContextDone(t *testing.T) {
	t.Parallel()
	b := bridge.New(nil)

	pending, err := b.Register("req", bridge.KindQR, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pending.Wait(ctx)
	require.ErrorIs(t, err, heralderr.ErrUnableToSign)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, ok := b.Get("req")
	require.True(t, ok)
	assert.Equal(t, bridge.StatusRejected, got.Status)
	assert.False(t, b.Resolve("req", []byte("late")))
}

func TestBridge_ResolveFromOtherGoroutine(t *testing.T) {
	t.Parallel()
	b := bridge.New(nil)

	pending, err := b.Register("req", bridge.KindQR, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.Resolve("req", []byte("signed"))
	}()

	data, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("signed"), data)
}

func TestStatus_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "pending", bridge.StatusPending.String())
	assert.Equal(t, "resolved", bridge.StatusResolved.String())
	assert.Equal(t, "rejected", bridge.StatusRejected.String())
	assert.Equal(t, "completed", bridge.StatusCompleted.String())
	assert.Equal(t, "unknown", bridge.Status(42).String())
}

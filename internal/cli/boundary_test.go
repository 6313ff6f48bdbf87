package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/herald/internal/bridge"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

func TestTerminalBoundary_Answers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantData []byte
		wantErr  error
		detail   string
	}{
		{name: "hex signature", input: "0xdeadbeef\n", wantData: []byte{0xde, 0xad, 0xbe, 0xef}},
		{name: "hex without prefix or newline", input: "  CAFE  ", wantData: []byte{0xca, 0xfe}},
		{name: "empty line rejects", input: "\n", wantErr: heralderr.ErrUserRejectRequest},
		{name: "reject keyword", input: "Reject\n", wantErr: heralderr.ErrUserRejectRequest},
		{name: "not hex", input: "zzzz\n", wantErr: heralderr.ErrUnableToSign, detail: "signer answer is not hex"},
		{name: "no input", input: "", wantErr: heralderr.ErrUnableToSign, detail: "no answer from signer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := bridge.New(nil)
			var out bytes.Buffer
			boundary := newTerminalBoundary(b, strings.NewReader(tt.input), &out)

			pending, err := b.Register("tx.1", bridge.KindQR, []byte{0x01, 0x02})
			require.NoError(t, err)
			req, ok := b.Get("tx.1")
			require.True(t, ok)
			req.Stage = "signing transfer"

			require.NoError(t, boundary.DisplayPayload(context.Background(), req))
			assert.Contains(t, out.String(), "Signing payload: 0x0102")
			assert.Contains(t, out.String(), "signing transfer")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			data, err := pending.Wait(ctx)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.wantData, data)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, heralderr.Detail(err))
			}
		})
	}
}

func TestTerminalBoundary_AnswerGoesToLatestRequest(t *testing.T) {
	t.Parallel()

	b := bridge.New(nil)
	in, typed := io.Pipe()
	t.Cleanup(func() { _ = typed.Close() })
	boundary := newTerminalBoundary(b, in, io.Discard)

	display := func(id string) *bridge.Pending {
		t.Helper()
		pending, err := b.Register(id, bridge.KindQR, []byte{0x01})
		require.NoError(t, err)
		req, ok := b.Get(id)
		require.True(t, ok)
		require.NoError(t, boundary.DisplayPayload(context.Background(), req))
		return pending
	}

	// The first request times out before anything is typed.
	first := display("tx.1")
	expired, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := first.Wait(expired)
	require.ErrorIs(t, err, heralderr.ErrUnableToSign)

	second := display("tx.2")
	go func() { _, _ = io.WriteString(typed, "0xbeef\n") }()

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	data, err := second.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbe, 0xef}, data)
}

func TestTerminalBoundary_ClosedInputRejectsLaterRequests(t *testing.T) {
	t.Parallel()

	b := bridge.New(nil)
	boundary := newTerminalBoundary(b, strings.NewReader(""), io.Discard)

	for _, id := range []string{"tx.1", "tx.2"} {
		pending, err := b.Register(id, bridge.KindQR, []byte{0x01})
		require.NoError(t, err)
		req, ok := b.Get(id)
		require.True(t, ok)
		require.NoError(t, boundary.DisplayPayload(context.Background(), req))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = pending.Wait(ctx)
		cancel()
		require.ErrorIs(t, err, heralderr.ErrUnableToSign, id)
		assert.Equal(t, "no answer from signer", heralderr.Detail(err), id)
	}
}

func TestTerminalBoundary_DisplayErrors(t *testing.T) {
	t.Parallel()

	b := bridge.New(nil)
	var out bytes.Buffer
	boundary := newTerminalBoundary(b, strings.NewReader(""), &out)

	err := boundary.DisplayPayload(context.Background(), bridge.Request{ID: "tx.1"})
	require.ErrorIs(t, err, heralderr.ErrInvalidInput)

	err = boundary.AwaitDevice(context.Background(), bridge.Request{ID: "tx.1", Kind: bridge.KindHardware})
	require.ErrorIs(t, err, heralderr.ErrUnsupported)
	var he *heralderr.HeraldError
	require.ErrorAs(t, err, &he)
	assert.Contains(t, he.Suggestion, "--signer qr")
}

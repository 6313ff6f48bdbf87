package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"strings"
	"sync"

	"github.com/mrz1836/herald/internal/bridge"
	"github.com/mrz1836/herald/internal/output"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// terminalBoundary shows external signing requests on the terminal and
// reads the signer's answer, a hex signature or signed transaction, from in.
// A single reader routes every input line to the request displayed last.
type terminalBoundary struct {
	bridge *bridge.Bridge
	out    io.Writer
	qr     output.QRConfig
	in     *bufio.Reader

	readerOnce sync.Once

	mu      sync.Mutex
	waiting string // request the next line answers
	closed  bool   // input reached EOF
}

func newTerminalBoundary(b *bridge.Bridge, in io.Reader, out io.Writer) *terminalBoundary {
	return &terminalBoundary{
		bridge: b,
		out:    out,
		qr:     output.DefaultQRConfig(),
		in:     inputReader(in),
	}
}

// DisplayPayload renders the payload as a QR code. The answer is read in the
// background and settles the request through the bridge.
func (t *terminalBoundary) DisplayPayload(_ context.Context, req bridge.Request) error {
	if err := output.RenderPayloadQR(t.out, req.Payload, t.qr); err != nil {
		return err
	}
	if req.Stage != "" {
		output.InfoTo(t.out, req.Stage)
	}
	out(t.out, "Signing payload: %s\n", output.PayloadText(req.Payload))
	output.PendingTo(t.out, "Scan the code with your signer, then paste its answer (empty line rejects):")

	t.mu.Lock()
	closed := t.closed
	if !closed {
		t.waiting = req.ID
	}
	t.mu.Unlock()

	if closed {
		t.bridge.Reject(req.ID, "no answer from signer", true)
		return nil
	}
	t.readerOnce.Do(func() { go t.readAnswers() })
	return nil
}

// AwaitDevice fails: this build has no hardware transport.
func (t *terminalBoundary) AwaitDevice(context.Context, bridge.Request) error {
	return heralderr.WithSuggestion(
		heralderr.WithDetail(heralderr.ErrUnsupported, "no hardware signer transport available"),
		"register the account with --signer qr to sign with an air-gapped device",
	)
}

// readAnswers reads input lines until EOF. A line typed while no request is
// pending is dropped.
func (t *terminalBoundary) readAnswers() {
	for {
		line, err := t.in.ReadString('\n')
		if answer := strings.TrimSpace(line); err == nil || answer != "" {
			t.deliver(answer)
		}
		if err == nil {
			continue
		}

		t.mu.Lock()
		t.closed = true
		id := t.waiting
		t.waiting = ""
		t.mu.Unlock()
		if id != "" {
			t.bridge.Reject(id, "no answer from signer", true)
		}
		return
	}
}

func (t *terminalBoundary) deliver(answer string) {
	t.mu.Lock()
	id := t.waiting
	t.mu.Unlock()

	req, ok := t.bridge.Get(id)
	if !ok || req.Status != bridge.StatusPending {
		return
	}

	t.mu.Lock()
	if t.waiting == id {
		t.waiting = ""
	}
	t.mu.Unlock()

	switch {
	case answer == "" || strings.EqualFold(answer, "reject"):
		t.bridge.Reject(id, "", false)
	default:
		data, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(answer, "0x"), "0X"))
		if err != nil || len(data) == 0 {
			t.bridge.Reject(id, "signer answer is not hex", true)
			return
		}
		t.bridge.Resolve(id, data)
	}
}

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/mrz1836/herald/internal/keystore"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// minPasswordLength is the shortest accepted keystore password.
const minPasswordLength = 8

// Prompt functions are variables so tests can replace them.
//
//nolint:gochecknoglobals // swapped in tests
var (
	promptPasswordFn    = promptPassword
	promptNewPasswordFn = promptNewPassword
	promptConfirmFn     = promptConfirm
	promptMnemonicFn    = promptMnemonic
	promptPassphraseFn  = promptPassphrase
)

// stdinReader is shared by every line prompt so buffered input is never lost
// between prompts.
var stdinReader = sync.OnceValue(func() *bufio.Reader { //nolint:gochecknoglobals // one stdin per process
	return bufio.NewReader(os.Stdin)
})

// inputReader returns a line reader for r, reusing the shared stdin reader.
func inputReader(r io.Reader) *bufio.Reader {
	if f, ok := r.(*os.File); ok && f == os.Stdin {
		return stdinReader()
	}
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

// promptPassword prompts for a password with hidden input.
// The caller is responsible for zeroing the returned bytes after use.
func promptPassword(prompt string) ([]byte, error) {
	out(os.Stderr, "%s", prompt)

	password, err := term.ReadPassword(syscall.Stdin)
	outln(os.Stderr) // Add newline after hidden input

	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	return password, nil
}

// promptNewPassword prompts for a new password with confirmation.
// The caller is responsible for zeroing the returned bytes after use.
func promptNewPassword() ([]byte, error) {
	password, err := promptPasswordFn("Enter keystore password: ")
	if err != nil {
		return nil, err
	}

	if len(password) < minPasswordLength {
		clear(password)
		return nil, heralderr.WithSuggestion(
			heralderr.ErrInvalidInput,
			fmt.Sprintf("password must be at least %d characters", minPasswordLength),
		)
	}

	confirm, err := promptPasswordFn("Confirm password: ")
	if err != nil {
		clear(password)
		return nil, err
	}
	defer clear(confirm)

	if string(password) != string(confirm) {
		clear(password)
		return nil, heralderr.WithSuggestion(heralderr.ErrInvalidInput, "passwords do not match")
	}

	return password, nil
}

// promptPassphrase prompts for an optional BIP39 passphrase.
func promptPassphrase() (string, error) {
	outln(os.Stderr, "BIP39 passphrase (leave empty for none):")

	passphrase, err := promptPasswordFn("Enter passphrase: ")
	if err != nil {
		return "", err
	}
	defer clear(passphrase)

	return string(passphrase), nil
}

// promptMnemonic reads the mnemonic to import. Input is hidden on a terminal.
func promptMnemonic() (string, error) {
	var raw string
	if term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // G115: Fd() returns uintptr, safe conversion for term.IsTerminal
		secret, err := promptPasswordFn("Enter mnemonic (all words on one line): ")
		if err != nil {
			return "", err
		}
		raw = string(secret)
		clear(secret)
	} else {
		line, err := stdinReader().ReadString('\n')
		if err != nil && line == "" {
			return "", heralderr.WithSuggestion(heralderr.ErrInvalidMnemonic, "no mnemonic provided on stdin")
		}
		raw = line
	}

	mnemonic := keystore.NormalizeMnemonic(raw)
	if mnemonic == "" {
		return "", heralderr.WithSuggestion(heralderr.ErrInvalidMnemonic, "no mnemonic provided")
	}
	return mnemonic, nil
}

// promptConfirm asks the user to confirm an action.
func promptConfirm(question string) bool {
	out(os.Stderr, "%s [y/N]: ", question)

	line, err := stdinReader().ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	response := strings.ToLower(strings.TrimSpace(line))
	return response == "y" || response == "yes"
}

package keystore

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// seal encrypts secret for password with an age scrypt recipient.
// A workFactor of zero keeps age's default.
func seal(secret, password []byte, workFactor int) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(string(password))
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}
	if _, err := w.Write(secret); err != nil {
		return nil, fmt.Errorf("writing encrypted key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// open decrypts ciphertext straight into pinned memory.
func open(ciphertext, password []byte) (*SecureBytes, error) {
	identity, err := age.NewScryptIdentity(string(password))
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("initializing decryption: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		zero(plaintext)
		return nil, fmt.Errorf("reading decrypted key: %w", err)
	}
	return newSecureBytes(plaintext), nil
}

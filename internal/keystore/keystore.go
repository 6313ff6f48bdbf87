// Package keystore stores herald accounts and their signing keys.
//
// Local keys are encrypted at rest with age (scrypt) and only decrypted into
// pinned memory for the duration of a signing call. Accounts backed by an
// external QR or hardware signer carry no key material.
package keystore

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mrz1836/herald/internal/fileutil"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

const (
	// accountsFileName is the name of the accounts index inside the keystore directory.
	accountsFileName = "accounts.json"

	filePermissions = 0o600
)

// Scheme is the key scheme of an account.
type Scheme string

const (
	// SchemeEd25519 keys sign for extrinsic chains.
	SchemeEd25519 Scheme = "ed25519"
	// SchemeSecp256k1 keys sign for contract chains.
	SchemeSecp256k1 Scheme = "secp256k1"
)

// IsValid reports whether s is a known scheme.
func (s Scheme) IsValid() bool {
	return s == SchemeEd25519 || s == SchemeSecp256k1
}

// Signer is the signing modality of an account.
type Signer string

const (
	// SignerLocal accounts hold a password-protected key in this store.
	SignerLocal Signer = "local"
	// SignerQR accounts sign on an air-gapped device via QR codes.
	SignerQR Signer = "qr"
	// SignerHardware accounts sign on a hardware device over a transport.
	SignerHardware Signer = "hardware"
)

// IsValid reports whether s is a known signer.
func (s Signer) IsValid() bool {
	switch s {
	case SignerLocal, SignerQR, SignerHardware:
		return true
	}
	return false
}

// IsExternal reports whether signing happens outside this process.
func (s Signer) IsExternal() bool {
	return s == SignerQR || s == SignerHardware
}

// Account is the public metadata of a stored account.
type Account struct {
	Address   string    `json:"address"`
	Name      string    `json:"name,omitempty"`
	Scheme    Scheme    `json:"scheme"`
	Signer    Signer    `json:"signer"`
	ReadOnly  bool      `json:"read_only,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// entry is the on-disk form of an account.
type entry struct {
	Account

	EncryptedKey []byte `json:"encrypted_key,omitempty"`
}

// Options configures a Store.
type Options struct {
	// ScryptWorkFactor overrides age's scrypt work factor (log2 N). Zero keeps the default.
	ScryptWorkFactor int
}

// Store is a file-backed account and key store. It is safe for concurrent use.
type Store struct {
	dir        string
	workFactor int

	mu      sync.RWMutex
	entries map[string]*entry
}

// Open loads the keystore in dir, creating an empty one if none exists.
func Open(dir string, opts Options) (*Store, error) {
	s := &Store{
		dir:        dir,
		workFactor: opts.ScryptWorkFactor,
		entries:    make(map[string]*entry),
	}

	var list []*entry
	found, err := fileutil.ReadJSON(s.path(), &list)
	if err != nil && found {
		return nil, heralderr.WithCause(heralderr.WithDetail(heralderr.ErrKeyring, "accounts file is corrupted"), err)
	}
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		s.entries[addressKey(e.Address)] = e
	}
	return s, nil
}

// Add stores a local account, encrypting secret with password.
// secret is zeroed before Add returns.
func (s *Store) Add(account Account, secret, password []byte) error {
	defer zero(secret)

	account.Signer = SignerLocal
	if err := validateAccount(account); err != nil {
		return err
	}
	if len(password) == 0 {
		return heralderr.WithDetail(heralderr.ErrInvalidPassword, "password must not be empty")
	}

	encrypted, err := seal(secret, password, s.workFactor)
	if err != nil {
		return heralderr.WithCause(heralderr.ErrKeyring, err)
	}
	return s.insert(&entry{Account: account, EncryptedKey: encrypted})
}

// AddExternal stores an account without key material: an external QR or
// hardware signer, or a read-only (watch) account.
func (s *Store) AddExternal(account Account) error {
	if !account.Signer.IsExternal() && !account.ReadOnly {
		return heralderr.WithDetail(heralderr.ErrInvalidInput, "external accounts need a qr or hardware signer, or read-only")
	}
	if account.Signer == "" {
		account.Signer = SignerLocal
	}
	if err := validateAccount(account); err != nil {
		return err
	}
	return s.insert(&entry{Account: account})
}

// Remove deletes an account and its key.
func (s *Store) Remove(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addressKey(address)
	e, ok := s.entries[key]
	if !ok {
		return heralderr.ErrAccountNotFound
	}
	delete(s.entries, key)
	if err := s.saveLocked(); err != nil {
		s.entries[key] = e
		return err
	}
	return nil
}

// Account returns the metadata for address.
func (s *Store) Account(address string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[addressKey(address)]
	if !ok {
		return Account{}, false
	}
	return e.Account, true
}

// Accounts returns all accounts ordered by creation time.
func (s *Store) Accounts() []Account {
	s.mu.RLock()
	out := make([]Account, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Account)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Address, b.Address)
	})
	return out
}

// IsReadOnly reports whether address is a watch-only account.
// Unknown addresses are not read-only.
func (s *Store) IsReadOnly(address string) bool {
	account, ok := s.Account(address)
	return ok && account.ReadOnly
}

// Unlock decrypts the key of a local account. The caller must Lock the
// returned key once signing is done.
func (s *Store) Unlock(address string, password []byte) (*SigningKey, error) {
	s.mu.RLock()
	e, ok := s.entries[addressKey(address)]
	s.mu.RUnlock()

	if !ok {
		return nil, heralderr.ErrAccountNotFound
	}
	if e.ReadOnly {
		return nil, heralderr.WithDetail(heralderr.ErrKeyring, "read-only account")
	}
	if e.Signer != SignerLocal || len(e.EncryptedKey) == 0 {
		return nil, heralderr.WithDetail(heralderr.ErrKeyring, "account has no local key")
	}

	secret, err := open(e.EncryptedKey, password)
	if err != nil {
		return nil, heralderr.ErrInvalidPassword
	}
	return &SigningKey{address: e.Address, scheme: e.Scheme, secret: secret}, nil
}

// Lock wipes an unlocked key. Locking a nil or already locked key is a no-op.
func (s *Store) Lock(key *SigningKey) {
	if key != nil {
		key.wipe()
	}
}

func (s *Store) insert(e *entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := addressKey(e.Address)
	if _, exists := s.entries[key]; exists {
		return heralderr.ErrAccountExists
	}
	s.entries[key] = e
	if err := s.saveLocked(); err != nil {
		delete(s.entries, key)
		return err
	}
	return nil
}

// saveLocked writes the accounts index. Callers must hold s.mu.
func (s *Store) saveLocked() error {
	list := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	slices.SortFunc(list, func(a, b *entry) int {
		return strings.Compare(a.Address, b.Address)
	})

	if err := fileutil.WriteJSON(s.path(), list, filePermissions); err != nil {
		return fmt.Errorf("writing accounts: %w", err)
	}
	return nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, accountsFileName)
}

func validateAccount(account Account) error {
	if strings.TrimSpace(account.Address) == "" {
		return heralderr.WithDetail(heralderr.ErrInvalidAddress, "address is required")
	}
	if !account.Scheme.IsValid() {
		return heralderr.WithDetail(heralderr.ErrInvalidInput, fmt.Sprintf("unknown key scheme %q", account.Scheme))
	}
	if !account.Signer.IsValid() {
		return heralderr.WithDetail(heralderr.ErrInvalidInput, fmt.Sprintf("unknown signer %q", account.Signer))
	}
	return nil
}

// addressKey folds hex addresses to lower case. SS58 addresses are case sensitive.
func addressKey(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}

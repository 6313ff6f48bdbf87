package keystore

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"

	"github.com/mrz1836/herald/internal/chain/substrate"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// ethCoinType is the BIP44 coin type used for secp256k1 accounts.
const ethCoinType = 60

// DeriveOptions selects the account derived from a mnemonic.
type DeriveOptions struct {
	// Passphrase is the optional BIP39 passphrase.
	Passphrase string
	// SS58Prefix is the network prefix for ed25519 addresses (42 is the generic format).
	SS58Prefix uint16
	// Index is the BIP44 address index for secp256k1 accounts.
	Index uint32
}

// NormalizeMnemonic collapses whitespace and lower-cases the words.
func NormalizeMnemonic(mnemonic string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(mnemonic, ",", " ")), " "))
}

// DeriveFromMnemonic derives an address and its raw secret key.
//
// ed25519 keys use the mini-secret derivation of extrinsic chain wallets:
// PBKDF2-SHA512 over the mnemonic entropy, keeping the first 32 bytes as seed.
// secp256k1 keys follow BIP32/BIP44 at m/44'/60'/0'/0/index.
// The caller owns the returned secret and should zero it after use.
func DeriveFromMnemonic(mnemonic string, scheme Scheme, opts DeriveOptions) (string, []byte, error) {
	mnemonic = NormalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", nil, heralderr.ErrInvalidMnemonic
	}

	switch scheme {
	case SchemeEd25519:
		return deriveEd25519(mnemonic, opts)
	case SchemeSecp256k1:
		return deriveSecp256k1(mnemonic, opts)
	}
	return "", nil, heralderr.WithDetail(heralderr.ErrInvalidInput, fmt.Sprintf("unknown key scheme %q", scheme))
}

// Import derives a key from mnemonic and stores it as a local account.
func (s *Store) Import(name, mnemonic string, scheme Scheme, opts DeriveOptions, password []byte) (Account, error) {
	address, secret, err := DeriveFromMnemonic(mnemonic, scheme, opts)
	if err != nil {
		return Account{}, err
	}

	account := Account{Address: address, Name: name, Scheme: scheme, Signer: SignerLocal}
	if err := s.Add(account, secret, password); err != nil {
		return Account{}, err
	}
	stored, _ := s.Account(address)
	return stored, nil
}

// AddressOf returns the address a raw secret key controls.
func AddressOf(scheme Scheme, secret []byte, ss58Prefix uint16) (string, error) {
	pub, err := publicKey(scheme, secret)
	if err != nil {
		return "", err
	}
	switch scheme {
	case SchemeEd25519:
		var id substrate.AccountID
		copy(id[:], pub)
		return substrate.EncodeAddress(id, ss58Prefix), nil
	default:
		return common.BytesToAddress(ethcrypto.Keccak256(pub[1:])[12:]).Hex(), nil
	}
}

func deriveEd25519(mnemonic string, opts DeriveOptions) (string, []byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return "", nil, heralderr.ErrInvalidMnemonic
	}
	defer zero(entropy)

	seed := pbkdf2.Key(entropy, []byte("mnemonic"+opts.Passphrase), 2048, 64, sha512.New)
	defer zero(seed)

	secret := make([]byte, ed25519.SeedSize)
	copy(secret, seed[:ed25519.SeedSize])

	address, err := AddressOf(SchemeEd25519, secret, opts.SS58Prefix)
	if err != nil {
		zero(secret)
		return "", nil, err
	}
	return address, secret, nil
}

func deriveSecp256k1(mnemonic string, opts DeriveOptions) (string, []byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, opts.Passphrase)
	if err != nil {
		return "", nil, heralderr.ErrInvalidMnemonic
	}
	defer zero(seed)

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return "", nil, fmt.Errorf("creating master key: %w", err)
	}

	// m/44'/60'/0'/0/index
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + ethCoinType,
		bip32.FirstHardenedChild,
		0,
		opts.Index,
	}
	for _, idx := range path {
		if key, err = key.NewChildKey(idx); err != nil {
			return "", nil, fmt.Errorf("deriving child key %d: %w", idx, err)
		}
	}

	secret := make([]byte, 32)
	copy(secret[32-len(key.Key):], key.Key)

	address, err := AddressOf(SchemeSecp256k1, secret, 0)
	if err != nil {
		zero(secret)
		return "", nil, err
	}
	return address, secret, nil
}

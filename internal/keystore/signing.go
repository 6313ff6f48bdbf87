package keystore

import (
	"crypto/ed25519"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// SigningKey is an unlocked account key. It stays usable until locked.
type SigningKey struct {
	address string
	scheme  Scheme
	secret  *SecureBytes
}

// Address returns the account address the key belongs to.
func (k *SigningKey) Address() string { return k.address }

// Scheme returns the key scheme.
func (k *SigningKey) Scheme() Scheme { return k.scheme }

// Locked reports whether the key material has been wiped.
func (k *SigningKey) Locked() bool {
	return k.secret == nil || k.secret.Wiped()
}

// Sign signs msg.
//
// ed25519 keys sign msg as is and return a 64-byte signature.
// secp256k1 keys require a 32-byte digest and return a 65-byte [R || S || V]
// signature with V in {0, 1}.
func (k *SigningKey) Sign(msg []byte) ([]byte, error) {
	if k.Locked() {
		return nil, heralderr.WithDetail(heralderr.ErrUnableToSign, "key is locked")
	}

	var sig []byte
	err := k.secret.Use(func(secret []byte) error {
		var err error
		switch k.scheme {
		case SchemeEd25519:
			sig, err = signEd25519(secret, msg)
		case SchemeSecp256k1:
			sig, err = signSecp256k1(secret, msg)
		default:
			err = fmt.Errorf("unknown key scheme %q", k.scheme)
		}
		return err
	})
	if err != nil {
		return nil, heralderr.WithCause(heralderr.ErrUnableToSign, err)
	}
	return sig, nil
}

// PublicKey returns the public key: 32 bytes for ed25519, 65 uncompressed bytes for secp256k1.
func (k *SigningKey) PublicKey() ([]byte, error) {
	var pub []byte
	err := k.secret.Use(func(secret []byte) error {
		var err error
		pub, err = publicKey(k.scheme, secret)
		return err
	})
	return pub, err
}

func (k *SigningKey) wipe() {
	if k.secret != nil {
		k.secret.Wipe()
	}
}

func signEd25519(seed, msg []byte) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	defer zero(priv)
	return ed25519.Sign(priv, msg), nil
}

func signSecp256k1(secret, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("secp256k1 signs 32-byte digests, got %d bytes", len(digest))
	}
	priv, err := ethcrypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("loading secp256k1 key: %w", err)
	}
	defer priv.D.SetInt64(0)
	return ethcrypto.Sign(digest, priv)
}

func publicKey(scheme Scheme, secret []byte) ([]byte, error) {
	switch scheme {
	case SchemeEd25519:
		if len(secret) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed is %d bytes, want %d", len(secret), ed25519.SeedSize)
		}
		priv := ed25519.NewKeyFromSeed(secret)
		defer zero(priv)
		pub := make([]byte, ed25519.PublicKeySize)
		copy(pub, priv[ed25519.SeedSize:])
		return pub, nil
	case SchemeSecp256k1:
		priv, err := ethcrypto.ToECDSA(secret)
		if err != nil {
			return nil, fmt.Errorf("loading secp256k1 key: %w", err)
		}
		defer priv.D.SetInt64(0)
		return ethcrypto.FromECDSAPub(&priv.PublicKey), nil
	}
	return nil, fmt.Errorf("unknown key scheme %q", scheme)
}

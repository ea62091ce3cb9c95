package crypto

import (
	"errors"

	"github.com/NebulousLabs/ed25519"
	"github.com/NebulousLabs/fastrand"
)

const (
	// EntropySize is the amount of entropy used to derive a keypair.
	EntropySize = ed25519.EntropySize
	// PublicKeySize is the length of an ed25519 public key.
	PublicKeySize = ed25519.PublicKeySize
	// SecretKeySize is the length of an ed25519 secret key.
	SecretKeySize = ed25519.SecretKeySize
	// SignatureSize is the length of an ed25519 signature.
	SignatureSize = ed25519.SignatureSize
)

type (
	// PublicKey is an ed25519 public key, used to verify delegate
	// signatures on node-to-node requests.
	PublicKey [PublicKeySize]byte
	// SecretKey is an ed25519 secret key.
	SecretKey [SecretKeySize]byte
	// Signature is an ed25519 signature.
	Signature [SignatureSize]byte
)

var (
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

// GenerateKeyPair creates a public-secret keypair that can be used to sign
// and verify messages.
func GenerateKeyPair() (sk SecretKey, pk PublicKey) {
	var entropy [EntropySize]byte
	fastrand.Read(entropy[:])
	return GenerateKeyPairDeterministic(entropy)
}

// GenerateKeyPairDeterministic generates keys deterministically using the
// input entropy.
func GenerateKeyPairDeterministic(entropy [EntropySize]byte) (SecretKey, PublicKey) {
	skPointer, pkPointer := ed25519.GenerateKey(entropy)
	return *skPointer, *pkPointer
}

// SignHash signs a message using a secret key.
func SignHash(data Hash, sk SecretKey) (sig Signature) {
	skNorm := [SecretKeySize]byte(sk)
	sig = *ed25519.Sign(&skNorm, data[:])
	return sig
}

// VerifyHash uses a public key and input data to verify a signature.
func VerifyHash(data Hash, pk PublicKey, sig Signature) error {
	pkNorm := [PublicKeySize]byte(pk)
	sigNorm := [SignatureSize]byte(sig)
	verifies := ed25519.Verify(&pkNorm, data[:], &sigNorm)
	if !verifies {
		return ErrInvalidSignature
	}
	return nil
}

// PublicKey returns the public key that corresponds to a secret key.
func (sk SecretKey) PublicKey() (pk PublicKey) {
	copy(pk[:], sk[32:])
	return
}

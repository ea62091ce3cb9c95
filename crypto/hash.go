package crypto

// hash.go supplies the general hashing functions for the content node, using
// the hashing algorithm blake2b. Content identifiers are the hash of the
// bytes they name, so changing the hashing algorithm would orphan every blob
// already on disk; blake2b is the only supported algorithm.

import (
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/dchest/blake2b"
)

const (
	// HashSize is the length of a Hash in bytes.
	HashSize = 32
)

type (
	// Hash is a blake2b 256-bit digest.
	Hash [HashSize]byte

	// CID is the string form of a content identifier. Equal CIDs name
	// identical bytes.
	CID string
)

var (
	// ErrHashWrongLen is returned when a hex string decodes to the wrong
	// number of bytes.
	ErrHashWrongLen = errors.New("encoded value has the wrong length to be a hash")
)

// HashBytes takes a byte slice and returns the result.
func HashBytes(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// HashAll takes a set of byte slices, concatenates them, and hashes the
// result.
func HashAll(data ...[]byte) Hash {
	var b []byte
	for _, d := range data {
		b = append(b, d...)
	}
	return HashBytes(b)
}

// String prints the hash in hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// CID returns the content identifier form of the hash.
func (h Hash) CID() CID {
	return CID(h.String())
}

// MarshalJSON marshals a hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes the json hex string of the hash.
func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return h.LoadString(s)
}

// LoadString takes a string prefix and loads it into the hash.
func (h *Hash) LoadString(s string) error {
	// Decode the string into the hash.
	hBytes, err := hex.DecodeString(s)
	if err != nil {
		return errors.New("could not unmarshal hash: " + err.Error())
	}
	if len(hBytes) != HashSize {
		return ErrHashWrongLen
	}
	copy(h[:], hBytes)
	return nil
}

// ComputeCID returns the content identifier of a byte slice.
func ComputeCID(data []byte) CID {
	return HashBytes(data).CID()
}

// VerifyCID checks that data hashes to the provided content identifier.
func VerifyCID(cid CID, data []byte) bool {
	return ComputeCID(data) == cid
}

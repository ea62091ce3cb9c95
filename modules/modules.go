// Package modules contains definitions for all of the major modules of the
// content node, as well as the types used when the modules communicate with
// one another. Each end-user is assigned a replica set of three nodes: one
// primary, which accepts writes, and two secondaries, which converge on the
// primary's state via pull-based sync.
package modules

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthonymartin/audius-protocol/crypto"
)

type (
	// Wallet is the stable identifier of an end-user: a hex blob treated as
	// an opaque key. Wallets are normalized to lower case before use.
	Wallet string

	// UserUUID is a node-local opaque identifier for a user. Different
	// nodes may assign different UUIDs to the same wallet.
	UserUUID string

	// ClockValue is a per-user monotonic counter, incremented once per
	// content row. ClockAbsent indicates that no rows exist for the user.
	ClockValue int64

	// SourceKind names the content table a clock record reserves a value
	// for.
	SourceKind string

	// FileType classifies a stored file row.
	FileType string
)

const (
	// ClockAbsent is the clock value of a user with no rows.
	ClockAbsent ClockValue = -1

	// SourceAudiusUser marks a clock record reserved for a user metadata
	// row.
	SourceAudiusUser SourceKind = "AudiusUser"
	// SourceTrack marks a clock record reserved for a track row.
	SourceTrack SourceKind = "Track"
	// SourceFile marks a clock record reserved for a file row.
	SourceFile SourceKind = "File"

	// FileTypeMetadata is a metadata json blob.
	FileTypeMetadata FileType = "metadata"
	// FileTypeImage is an image inside a directory CID.
	FileTypeImage FileType = "image"
	// FileTypeAudio is a transcoded audio blob.
	FileTypeAudio FileType = "audio"
	// FileTypeDir is a directory CID; it has no blob payload of its own.
	FileTypeDir FileType = "dir"
)

// IsValid returns whether the wallet is a plausible hex identifier.
func (w Wallet) IsValid() bool {
	s := strings.TrimPrefix(strings.ToLower(string(w)), "0x")
	if len(s) == 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Normalized returns the canonical lower-case form of the wallet.
func (w Wallet) Normalized() Wallet {
	return Wallet(strings.ToLower(string(w)))
}

// IsValidKind returns whether k names a known content table.
func (k SourceKind) IsValidKind() bool {
	return k == SourceAudiusUser || k == SourceTrack || k == SourceFile
}

type (
	// CNodeUser is the per-node record of an end-user.
	CNodeUser struct {
		UserUUID          UserUUID   `json:"userUUID"`
		WalletPublicKey   Wallet     `json:"walletPublicKey"`
		LatestBlockNumber int64      `json:"latestBlockNumber"`
		Clock             ClockValue `json:"clock"`
		CreatedAt         time.Time  `json:"createdAt"`
	}

	// ClockRecord is the log entry that reserves a clock value for a
	// specific content kind. Records are append-only.
	ClockRecord struct {
		UserUUID   UserUUID   `json:"userUUID"`
		Clock      ClockValue `json:"clock"`
		SourceKind SourceKind `json:"sourceKind"`
		CreatedAt  time.Time  `json:"createdAt"`
	}

	// AudiusUser is a user metadata row.
	AudiusUser struct {
		UserUUID        UserUUID        `json:"userUUID"`
		Clock           ClockValue      `json:"clock"`
		Metadata        json.RawMessage `json:"metadata,omitempty"`
		MetadataFileCID crypto.CID      `json:"metadataFileCID"`
		BlockNumber     int64           `json:"blockNumber"`
		CreatedAt       time.Time       `json:"createdAt"`
	}

	// Track is a track metadata row.
	Track struct {
		UserUUID        UserUUID        `json:"userUUID"`
		Clock           ClockValue      `json:"clock"`
		Metadata        json.RawMessage `json:"metadata,omitempty"`
		MetadataFileCID crypto.CID      `json:"metadataFileCID"`
		BlockchainID    int64           `json:"blockchainId"`
		CreatedAt       time.Time       `json:"createdAt"`
	}

	// File is a stored blob row. Multihash is the content identifier of
	// the blob. Files of type dir carry no blob payload; files inside an
	// image directory carry the DirMultihash of their parent and the
	// FileName used to address them through a gateway.
	File struct {
		UserUUID          UserUUID   `json:"userUUID"`
		Clock             ClockValue `json:"clock"`
		Multihash         crypto.CID `json:"multihash"`
		StoragePath       string     `json:"storagePath"`
		Type              FileType   `json:"type"`
		DirMultihash      crypto.CID `json:"dirMultihash,omitempty"`
		FileName          string     `json:"fileName,omitempty"`
		TrackBlockchainID int64      `json:"trackBlockchainId,omitempty"`
		CreatedAt         time.Time  `json:"createdAt"`
	}

	// ReplicaSet is the ordered node triple assigned to a user.
	ReplicaSet struct {
		Primary     NetAddress   `json:"primary"`
		Secondaries []NetAddress `json:"secondaries"`
	}

	// SyncStatus reports a node's replication state for one wallet.
	SyncStatus struct {
		Wallet            Wallet     `json:"walletPublicKey"`
		LatestBlockNumber int64      `json:"latestBlockNumber"`
		ClockValue        ClockValue `json:"clockValue"`
	}

	// HealthStatus is the body of a node's health check route, consumed by
	// the service selector when probing candidates.
	HealthStatus struct {
		Healthy bool   `json:"healthy"`
		Service string `json:"service"`
		Version string `json:"version"`
	}
)

// IsTrackFile returns whether the file belongs to a track. Track files are
// fetched and imported separately from non-track files because they
// reference their track row.
func (f File) IsTrackFile() bool {
	return f.TrackBlockchainID != 0
}

// Peers returns every node in the replica set.
func (rs ReplicaSet) Peers() []NetAddress {
	return append([]NetAddress{rs.Primary}, rs.Secondaries...)
}

// PeersExcept returns every node in the replica set except self. Used when a
// node consults its user's other replicas for a blob.
func (rs ReplicaSet) PeersExcept(self NetAddress) []NetAddress {
	var peers []NetAddress
	for _, p := range rs.Peers() {
		if p != self {
			peers = append(peers, p)
		}
	}
	return peers
}

package modules

import (
	"encoding/json"

	"github.com/anthonymartin/audius-protocol/crypto"
)

type (
	// ExportRequest asks a node for the clock-ordered records of a set of
	// wallets, bounded to an inclusive clock window.
	ExportRequest struct {
		Wallets        []Wallet   `json:"wallets"`
		ClockRangeMin  ClockValue `json:"clockRangeMin"`
		ClockRangeMax  ClockValue `json:"clockRangeMax"`
		SourceEndpoint NetAddress `json:"sourceEndpoint,omitempty"`
	}

	// ClockInfo describes the window an export response actually covers.
	// LocalClockMax carries the exporter's true clock so that an importer
	// knows to request another window after applying this one.
	ClockInfo struct {
		RequestedClockRangeMin ClockValue `json:"requestedClockRangeMin"`
		RequestedClockRangeMax ClockValue `json:"requestedClockRangeMax"`
		LocalClockMax          ClockValue `json:"localClockMax"`
	}

	// ExportedUser bundles every record of one user inside the export
	// window, each set ordered by ascending clock. The User row's clock is
	// clamped to the window max; the true value lives in ClockInfo. The
	// clamp is a signal on the response only, the exporter's database row
	// is never modified.
	ExportedUser struct {
		User         CNodeUser     `json:"user"`
		ClockRecords []ClockRecord `json:"clockRecords"`
		AudiusUsers  []AudiusUser  `json:"audiusUsers"`
		Tracks       []Track       `json:"tracks"`
		Files        []File        `json:"files"`
		ClockInfo    ClockInfo     `json:"clockInfo"`
	}

	// Export is the full response to an ExportRequest.
	Export struct {
		CNodeUsers map[UserUUID]*ExportedUser `json:"cnodeUsers"`
		PeerInfo   []NetAddress               `json:"peerInfo,omitempty"`
	}

	// FileUpload describes a file row to be written by WriteFiles. The
	// store assigns the UserUUID and clock.
	FileUpload struct {
		Multihash         crypto.CID
		StoragePath       string
		Type              FileType
		DirMultihash      crypto.CID
		FileName          string
		TrackBlockchainID int64
	}
)

// A ContentDB stores the append-only per-user content rows underneath a
// monotonic clock. All multi-row writes are atomic: either every row of a
// logical operation lands together with its clock records, or none do.
type ContentDB interface {
	// UserClock returns the current clock for a wallet, or ClockAbsent if
	// the wallet has no rows.
	UserClock(wallet Wallet) (ClockValue, error)

	// UserByWallet returns the node's user record for a wallet.
	UserByWallet(wallet Wallet) (CNodeUser, error)

	// WriteAudiusUser appends a user metadata row, creating the user on
	// first write, and returns the clock value assigned to the row.
	WriteAudiusUser(wallet Wallet, metadata json.RawMessage, metadataFileCID crypto.CID, blockNumber int64) (ClockValue, error)

	// WriteTrack appends a track row and returns its clock value.
	WriteTrack(wallet Wallet, metadata json.RawMessage, metadataFileCID crypto.CID, blockchainID int64) (ClockValue, error)

	// WriteFiles appends a batch of file rows, allocating consecutive
	// clocks in slice order, and returns the assigned clock values.
	WriteFiles(wallet Wallet, uploads []FileUpload) ([]ClockValue, error)

	// Export reads every record of the requested wallets inside the clock
	// window in one snapshot.
	Export(req ExportRequest) (Export, error)

	// ApplyImport commits an exported user bundle atomically, in an order
	// that satisfies the row references: user, clock records, non-track
	// files, tracks, track files, audius users.
	ApplyImport(wallet Wallet, exported *ExportedUser) error

	// LookupFileByCID returns the file row for a multihash.
	LookupFileByCID(cid crypto.CID) (File, error)

	// LookupDirEntry returns the file row addressed by a directory CID and
	// a file name.
	LookupDirEntry(dirCID crypto.CID, fileName string) (File, error)

	// FilesInDir returns every file row inside a directory CID.
	FilesInDir(dirCID crypto.CID) ([]File, error)

	Close() error
}

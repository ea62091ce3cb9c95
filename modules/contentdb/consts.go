package contentdb

import (
	"github.com/anthonymartin/audius-protocol/persist"
)

const (
	// dbFilename is the name of the database file within the persist
	// directory.
	dbFilename = "contentdb.db"

	// logFilename is the name of the contentdb log file.
	logFilename = "contentdb.log"
)

var (
	// dbMetadata guards the database file against being opened by a
	// different component or an incompatible version.
	dbMetadata = persist.Metadata{
		Header:  "Content Node DB",
		Version: "1.2.0",
	}
)

var (
	// bucketCNodeUsers maps userUUID to the user row.
	bucketCNodeUsers = []byte("CNodeUsers")
	// bucketWalletIndex maps a normalized wallet to its local userUUID.
	bucketWalletIndex = []byte("WalletIndex")
	// bucketClockRecords maps userUUID/clock to the clock record. The key
	// encoding sorts by ascending clock within a user, and doubles as the
	// uniqueness constraint on (userUUID, clock).
	bucketClockRecords = []byte("ClockRecords")
	// bucketAudiusUsers maps userUUID/clock to user metadata rows.
	bucketAudiusUsers = []byte("AudiusUsers")
	// bucketTracks maps userUUID/clock to track rows.
	bucketTracks = []byte("Tracks")
	// bucketFiles maps userUUID/clock to file rows.
	bucketFiles = []byte("Files")
	// bucketCIDIndex maps a multihash to the userUUID/clock key of a file
	// row carrying it.
	bucketCIDIndex = []byte("CIDIndex")
	// bucketDirIndex maps dirMultihash/fileName to the userUUID/clock key
	// of the file row inside that directory.
	bucketDirIndex = []byte("DirIndex")
)

// dbBuckets lists every bucket created when the database is opened.
var dbBuckets = [][]byte{
	bucketCNodeUsers,
	bucketWalletIndex,
	bucketClockRecords,
	bucketAudiusUsers,
	bucketTracks,
	bucketFiles,
	bucketCIDIndex,
	bucketDirIndex,
}

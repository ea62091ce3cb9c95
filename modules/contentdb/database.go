// Package contentdb implements the append-only per-user content store of the
// content node. Every content row is written together with a clock record
// underneath a per-user monotonic clock, inside a single database
// transaction per logical operation. The (userUUID, clock) composite key is
// the uniqueness constraint that serializes concurrent writers even if the
// advisory sync lock is lost.
package contentdb

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/persist"

	"github.com/NebulousLabs/demotemutex"
	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"
	bolt "github.com/coreos/bbolt"
)

var (
	// ErrClockConflict is returned when a write would reuse an existing
	// (userUUID, clock) pair. The caller retries at a higher layer.
	ErrClockConflict = errors.New("clock record already exists for this user and clock value")

	// ErrBadRange is returned when an export window's minimum exceeds its
	// maximum.
	ErrBadRange = errors.New("export clock range minimum exceeds maximum")

	// ErrUnknownUser is returned when no user row exists for a wallet.
	ErrUnknownUser = errors.New("no user for the provided wallet")

	// ErrNotFound is returned when no file row matches a lookup.
	ErrNotFound = errors.New("no file row for the provided identifier")

	// ErrInvalidWallet is returned when a wallet fails validation.
	ErrInvalidWallet = errors.New("wallet is not a valid hex identifier")
)

// ContentDB is the bolt-backed implementation of modules.ContentDB.
type ContentDB struct {
	// The clock cache holds the latest committed clock per wallet so that
	// read probes do not open a database transaction. It is updated under
	// a demotable write lock after every commit.
	clockCache map[modules.Wallet]modules.ClockValue
	mu         demotemutex.DemoteMutex

	// nodeSecret salts the wallet-to-UUID derivation so that every node
	// assigns its own opaque UUIDs.
	nodeSecret [32]byte

	db         *persist.BoltDatabase
	log        *persist.Logger
	persistDir string
}

// clockKey builds the composite (userUUID, clock) key. UUIDs are hex and
// cannot contain '/', so the separator keeps prefixes unambiguous, and the
// big-endian clock suffix sorts records by ascending clock.
func clockKey(uuid modules.UserUUID, clock modules.ClockValue) []byte {
	key := make([]byte, 0, len(uuid)+9)
	key = append(key, uuid...)
	key = append(key, '/')
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(clock))
	return append(key, b[:]...)
}

// userPrefix is the key prefix shared by all of a user's records.
func userPrefix(uuid modules.UserUUID) []byte {
	return append([]byte(uuid), '/')
}

// dirEntryKey builds the (dirMultihash, fileName) index key.
func dirEntryKey(dirCID crypto.CID, fileName string) []byte {
	return []byte(string(dirCID) + "/" + fileName)
}

// deriveUUID deterministically derives this node's opaque UUID for a wallet.
// The node secret guarantees that different nodes derive different UUIDs for
// the same user.
func (cdb *ContentDB) deriveUUID(wallet modules.Wallet) modules.UserUUID {
	h := crypto.HashAll(cdb.nodeSecret[:], []byte(wallet))
	return modules.UserUUID(hex.EncodeToString(h[:16]))
}

// New creates and opens a content database rooted at persistDir.
func New(persistDir string) (*ContentDB, error) {
	if err := os.MkdirAll(persistDir, 0700); err != nil {
		return nil, errors.AddContext(err, "unable to create contentdb persist dir")
	}
	log, err := persist.NewFileLogger(filepath.Join(persistDir, logFilename))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create contentdb logger")
	}
	db, err := persist.OpenDatabase(dbMetadata, filepath.Join(persistDir, dbFilename))
	if err != nil {
		return nil, errors.Compose(errors.AddContext(err, "unable to open contentdb database"), log.Close())
	}

	cdb := &ContentDB{
		clockCache: make(map[modules.Wallet]modules.ClockValue),
		db:         db,
		log:        log,
		persistDir: persistDir,
	}
	err = cdb.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range dbBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return cdb.initNodeSecret(tx)
	})
	if err != nil {
		return nil, errors.Compose(errors.AddContext(err, "unable to initialize contentdb buckets"), db.Close(), log.Close())
	}
	return cdb, nil
}

// initNodeSecret loads the node secret from the metadata bucket, creating it
// on first startup. The secret must be stable across restarts or the node
// would re-derive new UUIDs for every known user.
func (cdb *ContentDB) initNodeSecret(tx *bolt.Tx) error {
	bucket := tx.Bucket([]byte("Metadata"))
	if bucket == nil {
		return persist.ErrNilBucket
	}
	secret := bucket.Get([]byte("NodeSecret"))
	if secret == nil {
		secret = fastrand.Bytes(32)
		if err := bucket.Put([]byte("NodeSecret"), secret); err != nil {
			return err
		}
	}
	copy(cdb.nodeSecret[:], secret)
	return nil
}

// managedSetCachedClock records the latest committed clock for a wallet. The
// lock is demoted for the debug log line so that read probes are not blocked
// on logging I/O.
func (cdb *ContentDB) managedSetCachedClock(wallet modules.Wallet, clock modules.ClockValue) {
	cdb.mu.Lock()
	cdb.clockCache[wallet] = clock
	cdb.mu.Demote()
	defer cdb.mu.DemotedUnlock()
	cdb.log.Debugf("clock for %v advanced to %v", wallet, clock)
}

// Close shuts down the content database.
func (cdb *ContentDB) Close() error {
	return errors.Compose(cdb.db.Close(), cdb.log.Close())
}

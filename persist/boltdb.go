package persist

import (
	"time"

	"github.com/NebulousLabs/errors"
	bolt "github.com/coreos/bbolt"
)

// BoltDatabase is a persist-level wrapper for a bolt database, providing a
// metadata guard so that a database file cannot be opened by the wrong
// component or the wrong version of the software.
type BoltDatabase struct {
	Metadata
	*bolt.DB
}

var (
	// ErrNilEntry is returned when a bucket lookup finds no entry.
	ErrNilEntry = errors.New("entry does not exist")
	// ErrNilBucket is returned when an expected bucket does not exist.
	ErrNilBucket = errors.New("bucket does not exist")
)

// updateMetadata will set the contents of the metadata bucket to be what is
// stored inside the metadata argument.
func (db *BoltDatabase) updateMetadata(tx *bolt.Tx) error {
	bucket, err := tx.CreateBucketIfNotExists([]byte("Metadata"))
	if err != nil {
		return err
	}
	err = bucket.Put([]byte("Header"), []byte(db.Header))
	if err != nil {
		return err
	}
	err = bucket.Put([]byte("Version"), []byte(db.Version))
	if err != nil {
		return err
	}
	return nil
}

// checkMetadata confirms that the metadata in the database is correct. If
// there is no metadata, correct metadata is inserted.
func (db *BoltDatabase) checkMetadata(md Metadata) error {
	return db.Update(func(tx *bolt.Tx) error {
		// Check if the database has metadata. If not, create metadata for
		// the database.
		bucket := tx.Bucket([]byte("Metadata"))
		if bucket == nil {
			return db.updateMetadata(tx)
		}

		// Verify that the metadata matches the expected metadata.
		header := bucket.Get([]byte("Header"))
		if string(header) != md.Header {
			return ErrBadHeader
		}
		version := bucket.Get([]byte("Version"))
		if string(version) != md.Version {
			return ErrBadVersion
		}
		return nil
	})
}

// Close closes the database.
func (db *BoltDatabase) Close() error {
	return db.DB.Close()
}

// OpenDatabase opens a database filename and checks its metadata.
func OpenDatabase(md Metadata, filename string) (*BoltDatabase, error) {
	// Open the database using a 3 second timeout (without the timeout,
	// database will potentially hang indefinitely).
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.AddContext(err, "error opening database "+filename)
	}

	// Check the metadata.
	boltDB := &BoltDatabase{
		Metadata: md,
		DB:       db,
	}
	err = boltDB.checkMetadata(md)
	if err != nil {
		db.Close()
		return nil, errors.AddContext(err, "error checking database metadata")
	}

	return boltDB, nil
}

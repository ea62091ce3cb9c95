package contentdb

import (
	"encoding/json"
	"time"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
	bolt "github.com/coreos/bbolt"
)

// putFileRow inserts a file row at its clock key and maintains the CID and
// directory indexes. Rows are append-only; overwriting an existing row is a
// developer error caught by the clock record constraint before this point.
func putFileRow(tx *bolt.Tx, file modules.File) error {
	key := clockKey(file.UserUUID, file.Clock)
	fileBytes, err := json.Marshal(file)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketFiles).Put(key, fileBytes); err != nil {
		return err
	}
	// Multiple rows may legitimately carry the same multihash (the same
	// bytes uploaded for two users); any of them resolves the lookup, so
	// last-writer-wins is fine for the index.
	if err := tx.Bucket(bucketCIDIndex).Put([]byte(file.Multihash), key); err != nil {
		return err
	}
	if file.DirMultihash != "" && file.FileName != "" {
		if err := tx.Bucket(bucketDirIndex).Put(dirEntryKey(file.DirMultihash, file.FileName), key); err != nil {
			return err
		}
	}
	return nil
}

// putTrackRow inserts a track row at its clock key.
func putTrackRow(tx *bolt.Tx, track modules.Track) error {
	trackBytes, err := json.Marshal(track)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTracks).Put(clockKey(track.UserUUID, track.Clock), trackBytes)
}

// putAudiusUserRow inserts a user metadata row at its clock key.
func putAudiusUserRow(tx *bolt.Tx, au modules.AudiusUser) error {
	auBytes, err := json.Marshal(au)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketAudiusUsers).Put(clockKey(au.UserUUID, au.Clock), auBytes)
}

// WriteAudiusUser appends a user metadata row under a freshly allocated
// clock value, creating the user on first write. The write is atomic: the
// clock record, the content row, and the block number bump land in one
// transaction or not at all.
func (cdb *ContentDB) WriteAudiusUser(wallet modules.Wallet, metadata json.RawMessage, metadataFileCID crypto.CID, blockNumber int64) (modules.ClockValue, error) {
	wallet = wallet.Normalized()
	if !wallet.IsValid() {
		return 0, ErrInvalidWallet
	}
	var clock modules.ClockValue
	err := cdb.db.Update(func(tx *bolt.Tx) error {
		user, err := cdb.ensureUser(tx, wallet)
		if err != nil {
			return err
		}
		clock, err = nextClock(tx, user.UserUUID, modules.SourceAudiusUser)
		if err != nil {
			return err
		}
		err = putAudiusUserRow(tx, modules.AudiusUser{
			UserUUID:        user.UserUUID,
			Clock:           clock,
			Metadata:        metadata,
			MetadataFileCID: metadataFileCID,
			BlockNumber:     blockNumber,
			CreatedAt:       time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return bumpBlockNumber(tx, user.UserUUID, blockNumber)
	})
	if err != nil {
		return 0, errors.AddContext(err, "unable to write audius user")
	}
	cdb.managedSetCachedClock(wallet, clock)
	return clock, nil
}

// WriteTrack appends a track row under a freshly allocated clock value.
func (cdb *ContentDB) WriteTrack(wallet modules.Wallet, metadata json.RawMessage, metadataFileCID crypto.CID, blockchainID int64) (modules.ClockValue, error) {
	wallet = wallet.Normalized()
	if !wallet.IsValid() {
		return 0, ErrInvalidWallet
	}
	var clock modules.ClockValue
	err := cdb.db.Update(func(tx *bolt.Tx) error {
		user, err := cdb.ensureUser(tx, wallet)
		if err != nil {
			return err
		}
		clock, err = nextClock(tx, user.UserUUID, modules.SourceTrack)
		if err != nil {
			return err
		}
		return putTrackRow(tx, modules.Track{
			UserUUID:        user.UserUUID,
			Clock:           clock,
			Metadata:        metadata,
			MetadataFileCID: metadataFileCID,
			BlockchainID:    blockchainID,
			CreatedAt:       time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, errors.AddContext(err, "unable to write track")
	}
	cdb.managedSetCachedClock(wallet, clock)
	return clock, nil
}

// WriteFiles appends a batch of file rows, allocating consecutive clock
// values in slice order so that an importer replaying by ascending clock
// reproduces the same state. The whole batch commits in one transaction.
func (cdb *ContentDB) WriteFiles(wallet modules.Wallet, uploads []modules.FileUpload) ([]modules.ClockValue, error) {
	wallet = wallet.Normalized()
	if !wallet.IsValid() {
		return nil, ErrInvalidWallet
	}
	if len(uploads) == 0 {
		return nil, errors.New("no files provided")
	}
	clocks := make([]modules.ClockValue, 0, len(uploads))
	err := cdb.db.Update(func(tx *bolt.Tx) error {
		user, err := cdb.ensureUser(tx, wallet)
		if err != nil {
			return err
		}
		for _, upload := range uploads {
			clock, err := nextClock(tx, user.UserUUID, modules.SourceFile)
			if err != nil {
				return err
			}
			err = putFileRow(tx, modules.File{
				UserUUID:          user.UserUUID,
				Clock:             clock,
				Multihash:         upload.Multihash,
				StoragePath:       upload.StoragePath,
				Type:              upload.Type,
				DirMultihash:      upload.DirMultihash,
				FileName:          upload.FileName,
				TrackBlockchainID: upload.TrackBlockchainID,
				CreatedAt:         time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			clocks = append(clocks, clock)
		}
		return nil
	})
	if err != nil {
		return nil, errors.AddContext(err, "unable to write files")
	}
	cdb.managedSetCachedClock(wallet, clocks[len(clocks)-1])
	return clocks, nil
}

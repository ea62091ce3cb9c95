package contentdb

import (
	"encoding/json"

	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
	bolt "github.com/coreos/bbolt"
)

// ApplyImport commits an exported user bundle atomically. Row UUIDs are
// rewritten to this node's UUID for the wallet; the source node's UUIDs are
// opaque and never stored locally. Rows are inserted in an order that
// satisfies their references: user row, clock records, non-track files,
// tracks, track files, audius users. Any failure rolls back the entire
// bundle.
//
// The caller (the sync worker) is responsible for validating contiguity
// before committing; ApplyImport enforces only the (userUUID, clock)
// uniqueness constraint, failing with ErrClockConflict on any collision.
func (cdb *ContentDB) ApplyImport(wallet modules.Wallet, exported *modules.ExportedUser) error {
	wallet = wallet.Normalized()
	if !wallet.IsValid() {
		return ErrInvalidWallet
	}
	if len(exported.ClockRecords) == 0 {
		return errors.New("export bundle contains no clock records")
	}
	lastClock := exported.ClockRecords[len(exported.ClockRecords)-1].Clock
	if exported.User.Clock != lastClock {
		return errors.New("export bundle user clock does not match its last clock record")
	}

	err := cdb.db.Update(func(tx *bolt.Tx) error {
		user, err := cdb.ensureUser(tx, wallet)
		if err != nil {
			return err
		}
		uuid := user.UserUUID

		// Clock records first: their keys are the uniqueness constraint
		// that rejects a duplicate or overlapping import.
		records := tx.Bucket(bucketClockRecords)
		for _, record := range exported.ClockRecords {
			record.UserUUID = uuid
			key := clockKey(uuid, record.Clock)
			if records.Get(key) != nil {
				return ErrClockConflict
			}
			recordBytes, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := records.Put(key, recordBytes); err != nil {
				return err
			}
		}

		// Non-track files before tracks, track files after their tracks.
		for _, file := range exported.Files {
			if file.IsTrackFile() {
				continue
			}
			file.UserUUID = uuid
			if err := putFileRow(tx, file); err != nil {
				return err
			}
		}
		for _, track := range exported.Tracks {
			track.UserUUID = uuid
			if err := putTrackRow(tx, track); err != nil {
				return err
			}
		}
		for _, file := range exported.Files {
			if !file.IsTrackFile() {
				continue
			}
			file.UserUUID = uuid
			if err := putFileRow(tx, file); err != nil {
				return err
			}
		}
		for _, au := range exported.AudiusUsers {
			au.UserUUID = uuid
			if err := putAudiusUserRow(tx, au); err != nil {
				return err
			}
		}

		// Advance the user row last. latestBlockNumber is monotonic, the
		// clock takes the bundle's final value.
		user, err = getUser(tx, uuid)
		if err != nil {
			return err
		}
		user.Clock = exported.User.Clock
		if exported.User.LatestBlockNumber > user.LatestBlockNumber {
			user.LatestBlockNumber = exported.User.LatestBlockNumber
		}
		return putUser(tx, user)
	})
	if err != nil {
		return errors.AddContext(err, "unable to apply import for "+string(wallet))
	}
	cdb.managedSetCachedClock(wallet, exported.User.Clock)
	return nil
}

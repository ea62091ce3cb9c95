package contentdb

import (
	"bytes"
	"encoding/json"

	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
	bolt "github.com/coreos/bbolt"
)

// collectRange walks a bucket over one user's clock window, calling decode
// for every value. The composite key encoding sorts records by ascending
// clock, so iteration order is the response order.
func collectRange(tx *bolt.Tx, bucket []byte, uuid modules.UserUUID, min, max modules.ClockValue, decode func([]byte) error) error {
	cursor := tx.Bucket(bucket).Cursor()
	first := clockKey(uuid, min)
	last := clockKey(uuid, max)
	for k, v := cursor.Seek(first); k != nil && bytes.Compare(k, last) <= 0; k, v = cursor.Next() {
		if err := decode(v); err != nil {
			return err
		}
	}
	return nil
}

// exportUser reads every record of one user inside the clock window. The
// returned user row's clock is clamped to the window max when the true
// clock lies beyond it; the true value is carried in ClockInfo so the
// importer knows to request another window. Only the response object is
// clamped, the stored row is untouched.
func exportUser(tx *bolt.Tx, user modules.CNodeUser, min, max modules.ClockValue) (*modules.ExportedUser, error) {
	exported := &modules.ExportedUser{
		User: user,
		ClockInfo: modules.ClockInfo{
			RequestedClockRangeMin: min,
			RequestedClockRangeMax: max,
			LocalClockMax:          user.Clock,
		},
	}
	if exported.User.Clock > max {
		exported.User.Clock = max
	}

	uuid := user.UserUUID
	err := collectRange(tx, bucketClockRecords, uuid, min, max, func(v []byte) error {
		var record modules.ClockRecord
		if err := json.Unmarshal(v, &record); err != nil {
			return err
		}
		exported.ClockRecords = append(exported.ClockRecords, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = collectRange(tx, bucketAudiusUsers, uuid, min, max, func(v []byte) error {
		var au modules.AudiusUser
		if err := json.Unmarshal(v, &au); err != nil {
			return err
		}
		exported.AudiusUsers = append(exported.AudiusUsers, au)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = collectRange(tx, bucketTracks, uuid, min, max, func(v []byte) error {
		var track modules.Track
		if err := json.Unmarshal(v, &track); err != nil {
			return err
		}
		exported.Tracks = append(exported.Tracks, track)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = collectRange(tx, bucketFiles, uuid, min, max, func(v []byte) error {
		var file modules.File
		if err := json.Unmarshal(v, &file); err != nil {
			return err
		}
		exported.Files = append(exported.Files, file)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exported, nil
}

// Export reads every record of the requested wallets inside the clock
// window, in a single snapshot transaction. The effective window is bounded
// by MaxExportRange; wallets with no local rows are omitted from the
// response.
func (cdb *ContentDB) Export(req modules.ExportRequest) (modules.Export, error) {
	export := modules.Export{
		CNodeUsers: make(map[modules.UserUUID]*modules.ExportedUser),
	}

	min := req.ClockRangeMin
	if min < 1 {
		min = 1
	}
	// Zero means no caller bound; a negative maximum is never satisfiable.
	if req.ClockRangeMax < 0 || (req.ClockRangeMax > 0 && req.ClockRangeMin > req.ClockRangeMax) {
		return modules.Export{}, ErrBadRange
	}
	max := min + modules.MaxExportRange - 1
	if req.ClockRangeMax > 0 && req.ClockRangeMax < max {
		max = req.ClockRangeMax
	}

	err := cdb.db.View(func(tx *bolt.Tx) error {
		walletIndex := tx.Bucket(bucketWalletIndex)
		for _, wallet := range req.Wallets {
			uuidBytes := walletIndex.Get([]byte(wallet.Normalized()))
			if uuidBytes == nil {
				continue
			}
			user, err := getUser(tx, modules.UserUUID(uuidBytes))
			if err != nil {
				return err
			}
			exported, err := exportUser(tx, user, min, max)
			if err != nil {
				return errors.AddContext(err, "unable to export user "+string(wallet))
			}
			export.CNodeUsers[user.UserUUID] = exported
		}
		return nil
	})
	if err != nil {
		return modules.Export{}, err
	}
	return export, nil
}

package contentdb

import (
	"encoding/json"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
	bolt "github.com/coreos/bbolt"
)

// UserClock returns the current clock for a wallet, or ClockAbsent if the
// wallet has no rows. The clock cache answers repeat probes without opening
// a transaction.
func (cdb *ContentDB) UserClock(wallet modules.Wallet) (modules.ClockValue, error) {
	wallet = wallet.Normalized()
	cdb.mu.RLock()
	clock, exists := cdb.clockCache[wallet]
	cdb.mu.RUnlock()
	if exists {
		return clock, nil
	}

	user, err := cdb.UserByWallet(wallet)
	if errors.Contains(err, ErrUnknownUser) {
		return modules.ClockAbsent, nil
	}
	if err != nil {
		return modules.ClockAbsent, err
	}
	cdb.managedSetCachedClock(wallet, user.Clock)
	return user.Clock, nil
}

// UserByWallet returns the node's user record for a wallet.
func (cdb *ContentDB) UserByWallet(wallet modules.Wallet) (modules.CNodeUser, error) {
	wallet = wallet.Normalized()
	var user modules.CNodeUser
	err := cdb.db.View(func(tx *bolt.Tx) error {
		uuidBytes := tx.Bucket(bucketWalletIndex).Get([]byte(wallet))
		if uuidBytes == nil {
			return ErrUnknownUser
		}
		var err error
		user, err = getUser(tx, modules.UserUUID(uuidBytes))
		return err
	})
	return user, err
}

// lookupFileAt reads the file row stored at a clock key.
func lookupFileAt(tx *bolt.Tx, key []byte) (modules.File, error) {
	var file modules.File
	fileBytes := tx.Bucket(bucketFiles).Get(key)
	if fileBytes == nil {
		// The index pointed at a missing row; the indexes are only
		// written in the same transaction as the row itself.
		return file, errors.Compose(ErrNotFound, errors.New("file index points at a missing row"))
	}
	err := json.Unmarshal(fileBytes, &file)
	return file, err
}

// LookupFileByCID returns the file row for a multihash.
func (cdb *ContentDB) LookupFileByCID(cid crypto.CID) (modules.File, error) {
	var file modules.File
	err := cdb.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketCIDIndex).Get([]byte(cid))
		if key == nil {
			return ErrNotFound
		}
		var err error
		file, err = lookupFileAt(tx, key)
		return err
	})
	return file, err
}

// LookupDirEntry returns the file row addressed by a directory CID and a
// file name.
func (cdb *ContentDB) LookupDirEntry(dirCID crypto.CID, fileName string) (modules.File, error) {
	var file modules.File
	err := cdb.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketDirIndex).Get(dirEntryKey(dirCID, fileName))
		if key == nil {
			return ErrNotFound
		}
		var err error
		file, err = lookupFileAt(tx, key)
		return err
	})
	return file, err
}

// FilesInDir returns every file row inside a directory CID.
func (cdb *ContentDB) FilesInDir(dirCID crypto.CID) ([]modules.File, error) {
	var files []modules.File
	err := cdb.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketDirIndex).Cursor()
		prefix := []byte(string(dirCID) + "/")
		for k, v := cursor.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = cursor.Next() {
			file, err := lookupFileAt(tx, v)
			if err != nil {
				return err
			}
			files = append(files, file)
		}
		return nil
	})
	return files, err
}

package contentdb

import (
	"encoding/json"
	"time"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
	bolt "github.com/coreos/bbolt"
)

// getUser reads a user row inside a transaction.
func getUser(tx *bolt.Tx, uuid modules.UserUUID) (modules.CNodeUser, error) {
	var user modules.CNodeUser
	userBytes := tx.Bucket(bucketCNodeUsers).Get([]byte(uuid))
	if userBytes == nil {
		return user, ErrUnknownUser
	}
	err := json.Unmarshal(userBytes, &user)
	return user, err
}

// putUser writes a user row inside a transaction.
func putUser(tx *bolt.Tx, user modules.CNodeUser) error {
	userBytes, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCNodeUsers).Put([]byte(user.UserUUID), userBytes)
}

// ensureUser returns the user row for a wallet, creating it on first write.
func (cdb *ContentDB) ensureUser(tx *bolt.Tx, wallet modules.Wallet) (modules.CNodeUser, error) {
	walletIndex := tx.Bucket(bucketWalletIndex)
	if uuidBytes := walletIndex.Get([]byte(wallet)); uuidBytes != nil {
		return getUser(tx, modules.UserUUID(uuidBytes))
	}

	// First write for this wallet; create the user row.
	user := modules.CNodeUser{
		UserUUID:        cdb.deriveUUID(wallet),
		WalletPublicKey: wallet,
		Clock:           0,
		CreatedAt:       time.Now().UTC(),
	}
	if err := walletIndex.Put([]byte(wallet), []byte(user.UserUUID)); err != nil {
		return modules.CNodeUser{}, err
	}
	if err := putUser(tx, user); err != nil {
		return modules.CNodeUser{}, err
	}
	return user, nil
}

// nextClock atomically allocates the next clock value for a user: it reads
// the user's clock, inserts a clock record at clock+1, and advances the user
// row. The clock record key is the uniqueness constraint; if the key already
// exists a concurrent writer won the value and the caller gets
// ErrClockConflict, rolling back the enclosing transaction.
func nextClock(tx *bolt.Tx, uuid modules.UserUUID, kind modules.SourceKind) (modules.ClockValue, error) {
	if !kind.IsValidKind() {
		build.Critical("nextClock called with unknown source kind:", kind)
	}
	user, err := getUser(tx, uuid)
	if err != nil {
		return 0, errors.AddContext(err, "unable to read user for clock allocation")
	}
	clock := user.Clock + 1

	records := tx.Bucket(bucketClockRecords)
	key := clockKey(uuid, clock)
	if records.Get(key) != nil {
		return 0, ErrClockConflict
	}
	record := modules.ClockRecord{
		UserUUID:   uuid,
		Clock:      clock,
		SourceKind: kind,
		CreatedAt:  time.Now().UTC(),
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return 0, err
	}
	if err := records.Put(key, recordBytes); err != nil {
		return 0, err
	}

	user.Clock = clock
	if err := putUser(tx, user); err != nil {
		return 0, err
	}
	return clock, nil
}

// bumpBlockNumber raises the user's latestBlockNumber. The value is
// monotonic; a lower block number is ignored.
func bumpBlockNumber(tx *bolt.Tx, uuid modules.UserUUID, blockNumber int64) error {
	user, err := getUser(tx, uuid)
	if err != nil {
		return err
	}
	if blockNumber <= user.LatestBlockNumber {
		return nil
	}
	user.LatestBlockNumber = blockNumber
	return putUser(tx, user)
}

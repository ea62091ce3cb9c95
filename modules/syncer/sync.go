package syncer

import (
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
)

// findBundle locates the exported bundle for a wallet. The source keys its
// response by its own UUIDs, which differ from local UUIDs, so the match is
// on the wallet inside the user row.
func findBundle(export modules.Export, wallet modules.Wallet) *modules.ExportedUser {
	for _, bundle := range export.CNodeUsers {
		if bundle != nil && bundle.User.WalletPublicKey.Normalized() == wallet {
			return bundle
		}
	}
	return nil
}

// validateBundle checks that a window extends local state at localMax
// without gaps or rollback. A valid bundle's records start at localMax+1
// and carry strictly consecutive clocks.
func validateBundle(bundle *modules.ExportedUser, localMax modules.ClockValue) error {
	trueClock := bundle.ClockInfo.LocalClockMax
	if trueClock < localMax {
		return ErrRegression
	}
	if len(bundle.ClockRecords) == 0 {
		if trueClock > localMax {
			return errors.AddContext(ErrBadBundle, "source claims newer records but exported none")
		}
		return nil
	}

	windowMin := localMax + 1
	if localMax == modules.ClockAbsent {
		windowMin = 1
	}
	if bundle.ClockRecords[0].Clock != windowMin {
		return ErrNonContiguous
	}
	for i := 1; i < len(bundle.ClockRecords); i++ {
		if bundle.ClockRecords[i].Clock != bundle.ClockRecords[i-1].Clock+1 {
			return errors.AddContext(ErrNonContiguous, "clock records skip a value")
		}
	}
	if last := bundle.ClockRecords[len(bundle.ClockRecords)-1].Clock; bundle.User.Clock != last {
		return errors.AddContext(ErrBadBundle, "user clock does not match last exported record")
	}
	return nil
}

// managedFetchBlobs retrieves every blob the bundle references. Non-track
// files land first; track files reference their track row and import after
// it, so their blobs are fetched in a second batch.
func (s *Syncer) managedFetchBlobs(bundle *modules.ExportedUser, gateways []modules.NetAddress) error {
	var trackFiles, otherFiles []modules.File
	for _, file := range bundle.Files {
		if file.IsTrackFile() {
			trackFiles = append(trackFiles, file)
		} else {
			otherFiles = append(otherFiles, file)
		}
	}
	if err := s.blobs.FetchBatch(otherFiles, gateways); err != nil {
		return errors.AddContext(err, "unable to fetch non-track blobs")
	}
	if err := s.blobs.FetchBatch(trackFiles, gateways); err != nil {
		return errors.AddContext(err, "unable to fetch track blobs")
	}
	return nil
}

// rewriteStoragePaths points every imported file row at this node's blob
// layout. The exported rows carry the source node's paths, which mean
// nothing here.
func (s *Syncer) rewriteStoragePaths(bundle *modules.ExportedUser) {
	for i := range bundle.Files {
		file := &bundle.Files[i]
		if file.DirMultihash != "" && file.Type != modules.FileTypeDir {
			file.StoragePath = s.blobs.DirEntryPath(file.DirMultihash, file.Multihash)
		} else {
			file.StoragePath = s.blobs.Path(file.Multihash)
		}
	}
}

// managedSyncWallet pages export windows from the source until the local
// clock reaches the source's. The caller holds the wallet's sync lock.
func (s *Syncer) managedSyncWallet(wallet modules.Wallet, source modules.NetAddress) error {
	for {
		localMax, err := s.db.UserClock(wallet)
		if err != nil {
			return errors.AddContext(err, "unable to read local clock")
		}
		windowMin := localMax + 1
		if localMax == modules.ClockAbsent {
			windowMin = 1
		}

		export, err := s.client.Export(source, modules.ExportRequest{
			Wallets:        []modules.Wallet{wallet},
			ClockRangeMin:  windowMin,
			SourceEndpoint: s.self,
		})
		if err != nil {
			return err
		}
		bundle := findBundle(export, wallet)
		if bundle == nil {
			// The source has never seen this wallet. There is nothing to
			// pull; the next trigger will carry data once it exists.
			s.log.Printf("source %v has no records for wallet %v", source, wallet)
			return nil
		}
		if err := validateBundle(bundle, localMax); err != nil {
			return err
		}
		if len(bundle.ClockRecords) == 0 {
			// Already caught up.
			return nil
		}

		gateways := append([]modules.NetAddress{source}, export.PeerInfo...)
		if err := s.managedFetchBlobs(bundle, gateways); err != nil {
			return err
		}
		s.rewriteStoragePaths(bundle)
		if err := s.db.ApplyImport(wallet, bundle); err != nil {
			return errors.AddContext(err, "unable to commit import window")
		}
		s.log.Printf("imported wallet %v window [%v, %v] from %v", wallet, windowMin, bundle.User.Clock, source)

		if bundle.User.Clock >= bundle.ClockInfo.LocalClockMax {
			return nil
		}
	}
}

// Sync imports the listed wallets from the source endpoint. Every wallet's
// sync lock is taken before any import starts; if any wallet is already
// being synced the whole request is refused, so callers can safely retry
// the full set.
func (s *Syncer) Sync(wallets []modules.Wallet, source modules.NetAddress) error {
	if err := s.tg.Add(); err != nil {
		return err
	}
	defer s.tg.Done()
	if !source.IsValid() {
		return errors.New("invalid source endpoint " + string(source))
	}

	tokens := make(map[modules.Wallet]string)
	order := make([]modules.Wallet, 0, len(wallets))
	for _, wallet := range wallets {
		wallet = wallet.Normalized()
		if !wallet.IsValid() {
			for held, token := range tokens {
				s.locker.Release(held, token)
			}
			return errors.New("invalid wallet " + string(wallet))
		}
		if _, ok := tokens[wallet]; ok {
			continue
		}
		token, err := s.locker.Acquire(wallet)
		if err != nil {
			for held, token := range tokens {
				s.locker.Release(held, token)
			}
			return errors.AddContext(err, "unable to lock wallet "+string(wallet))
		}
		tokens[wallet] = token
		order = append(order, wallet)
	}
	defer func() {
		for held, token := range tokens {
			s.locker.Release(held, token)
		}
	}()

	var errs []error
	for _, wallet := range order {
		if err := s.managedSyncWallet(wallet, source); err != nil {
			s.log.Printf("sync of wallet %v from %v failed: %v", wallet, source, err)
			errs = append(errs, errors.AddContext(err, "sync of wallet "+string(wallet)+" failed"))
		}
	}
	return errors.Compose(errs...)
}

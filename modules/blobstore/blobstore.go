// Package blobstore stores content-addressed blobs on disk and retrieves
// missing blobs from peer gateways. Blobs are immutable: the path of a blob
// is derived from its CID, and writing the same CID twice is a no-op in
// effect.
package blobstore

import (
	"os"
	"path/filepath"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/persist"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/threadgroup"
)

const (
	// logFilename is the name of the blobstore log file.
	logFilename = "blobstore.log"

	// blobDirname is the directory under the persist dir that roots the
	// content-addressed tree.
	blobDirname = "blobs"
)

var (
	// ErrNotFound is returned when a blob is not on disk.
	ErrNotFound = errors.New("blob not found on disk")

	// ErrForbidden is returned when a CID is blacklisted.
	ErrForbidden = errors.New("CID is blacklisted on this node")

	// ErrUpstream is returned when neither the peers nor the content
	// network could provide a blob.
	ErrUpstream = errors.New("unable to retrieve blob from any source")

	// ErrCIDMismatch is returned when fetched or stored bytes do not hash
	// to their claimed CID.
	ErrCIDMismatch = errors.New("data does not hash to the provided CID")
)

// BlobStore implements modules.BlobStore over a directory tree.
type BlobStore struct {
	storageRoot string

	// upstream lists public content-network gateways used as the final
	// read-path fallback.
	upstream []modules.NetAddress

	blacklist *blacklist
	rehydrate *rehydrateQueue

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// New creates a blob store rooted at persistDir. The upstream gateways are
// optional; without them the read path has no content-network fallback.
func New(persistDir string, upstream []modules.NetAddress) (*BlobStore, error) {
	storageRoot := filepath.Join(persistDir, blobDirname)
	if err := os.MkdirAll(storageRoot, 0700); err != nil {
		return nil, errors.AddContext(err, "unable to create blob storage root")
	}
	log, err := persist.NewFileLogger(filepath.Join(persistDir, logFilename))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create blobstore logger")
	}
	bs := &BlobStore{
		storageRoot: storageRoot,
		upstream:    upstream,
		log:         log,
	}
	bs.blacklist, err = newBlacklist(persistDir)
	if err != nil {
		return nil, errors.Compose(errors.AddContext(err, "unable to load CID blacklist"), log.Close())
	}
	bs.rehydrate = bs.newRehydrateQueue()
	return bs, nil
}

// Path returns the storage path of a CID without touching the disk.
func (bs *BlobStore) Path(cid crypto.CID) string {
	return filepath.Join(bs.storageRoot, string(cid))
}

// DirEntryPath returns the storage path of a blob inside a directory CID
// without touching the disk.
func (bs *BlobStore) DirEntryPath(dirCID, cid crypto.CID) string {
	return filepath.Join(bs.storageRoot, string(dirCID), string(cid))
}

// Has reports whether the blob for a CID is present on disk.
func (bs *BlobStore) Has(cid crypto.CID) bool {
	_, err := os.Stat(bs.Path(cid))
	return err == nil
}

// write writes a verified blob to path. An existing file is left in place:
// equal CIDs name identical bytes, so rewriting is pointless and skipping
// keeps disk writes idempotent.
func (bs *BlobStore) write(path string, cid crypto.CID, data []byte) (string, error) {
	if !crypto.VerifyCID(cid, data) {
		return "", ErrCIDMismatch
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", errors.AddContext(err, "unable to create blob directory")
	}
	// Write through a temp file so a crash cannot leave a partial blob at
	// the content address.
	tmpname := path + "_temp_" + persist.RandomSuffix()
	if err := os.WriteFile(tmpname, data, 0600); err != nil {
		return "", errors.AddContext(err, "unable to write blob")
	}
	if err := os.Rename(tmpname, path); err != nil {
		return "", errors.Compose(errors.AddContext(err, "unable to move blob into place"), os.Remove(tmpname))
	}
	return path, nil
}

// Put writes a blob, verifying that the data hashes to the CID, and returns
// the storage path.
func (bs *BlobStore) Put(cid crypto.CID, data []byte) (string, error) {
	return bs.write(bs.Path(cid), cid, data)
}

// PutDirEntry writes a blob underneath a directory CID.
func (bs *BlobStore) PutDirEntry(dirCID, cid crypto.CID, data []byte) (string, error) {
	return bs.write(bs.DirEntryPath(dirCID, cid), cid, data)
}

// Open opens the blob at a stored path for streaming.
func (bs *BlobStore) Open(storagePath string) (*os.File, error) {
	file, err := os.Open(storagePath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return file, err
}

// IsBlacklisted reports whether serving a CID is forbidden on this node.
func (bs *BlobStore) IsBlacklisted(cid crypto.CID) bool {
	return bs.blacklist.contains(cid)
}

// Blacklist forbids serving a CID and persists the decision.
func (bs *BlobStore) Blacklist(cid crypto.CID) error {
	return bs.blacklist.add(cid)
}

// Close shuts down the blob store's background workers.
func (bs *BlobStore) Close() error {
	return errors.Compose(bs.tg.Stop(), bs.log.Close())
}

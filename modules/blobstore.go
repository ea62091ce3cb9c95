package modules

import (
	"os"

	"github.com/anthonymartin/audius-protocol/crypto"
)

// A BlobStore holds content-addressed blobs on disk. Single files live at
// <storageRoot>/<CID>; entries of a directory CID live at
// <storageRoot>/<dirCID>/<CID>. Writing the same CID twice is a no-op in
// effect, so disk writes are idempotent.
type BlobStore interface {
	// Put writes a blob, verifying that the data hashes to the CID, and
	// returns the storage path.
	Put(cid crypto.CID, data []byte) (string, error)

	// PutDirEntry writes a blob underneath a directory CID.
	PutDirEntry(dirCID, cid crypto.CID, data []byte) (string, error)

	// Has reports whether the blob for a CID is present on disk.
	Has(cid crypto.CID) bool

	// Open opens the blob at a stored path for streaming. A missing blob
	// fails with a not-found error.
	Open(storagePath string) (*os.File, error)

	// Path returns the storage path of a CID without touching the disk.
	Path(cid crypto.CID) string

	// DirEntryPath returns the storage path of a blob inside a directory
	// CID without touching the disk.
	DirEntryPath(dirCID, cid crypto.CID) string

	// Fetch retrieves the blob for a file row from the given peer
	// gateways, writing it to disk. Fetching a file row of type dir is a
	// no-op.
	Fetch(file File, gateways []NetAddress) error

	// FetchBatch retrieves the blobs of many file rows with bounded
	// concurrency. The first error encountered is returned after all
	// in-flight fetches finish.
	FetchBatch(files []File, gateways []NetAddress) error

	// FetchUpstream retrieves the blob for a file row directly from the
	// content-addressed network's public gateways, under a short deadline.
	// It is the last fallback of the read path.
	FetchUpstream(file File) error

	// IsBlacklisted reports whether serving a CID is forbidden on this
	// node.
	IsBlacklisted(cid crypto.CID) bool

	// EnqueueRehydrate queues a best-effort task that re-announces a CID
	// to the content-addressed overlay. The queue drops work when full.
	EnqueueRehydrate(cid crypto.CID)

	Close() error
}

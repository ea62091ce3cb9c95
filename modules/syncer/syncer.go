// Package syncer keeps a node's replica of a user converging on the user's
// primary. The import worker pulls bounded export windows from a source
// node, validates that each window extends local state contiguously,
// fetches the blobs the window references, and commits the window in one
// transaction. The trigger queue is the other half of the loop: after each
// primary write it asks the user's secondaries to pull, debounced so that a
// burst of writes costs one sync.
package syncer

import (
	"os"
	"path/filepath"

	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/persist"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/threadgroup"
)

// logFilename is the name of the syncer log file.
const logFilename = "syncer.log"

var (
	// ErrRegression is returned when the sync source's clock is behind the
	// local clock. Importing would roll the user back, so the import is
	// refused.
	ErrRegression = errors.New("source clock is behind local clock")

	// ErrNonContiguous is returned when an export window does not start
	// directly above the local clock or skips a value inside the window.
	// Applying it would leave a gap in the user's history.
	ErrNonContiguous = errors.New("export window does not extend local state contiguously")

	// ErrBadBundle is returned when an export response is internally
	// inconsistent.
	ErrBadBundle = errors.New("malformed export bundle")
)

// An exportClient pulls an export window from a source node. Tests swap in
// a stub to exercise failure paths that a live source will not produce.
type exportClient interface {
	Export(source modules.NetAddress, req modules.ExportRequest) (modules.Export, error)
}

// Syncer implements modules.Syncer.
type Syncer struct {
	db     modules.ContentDB
	locker modules.Locker
	blobs  modules.BlobStore

	// self is this node's public endpoint, sent to the source so it can
	// record where its data is replicated.
	self modules.NetAddress

	client exportClient

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// New creates a syncer that commits into db under locker, storing fetched
// blobs in blobs.
func New(db modules.ContentDB, locker modules.Locker, blobs modules.BlobStore, self modules.NetAddress, persistDir string) (*Syncer, error) {
	if err := os.MkdirAll(persistDir, 0700); err != nil {
		return nil, errors.AddContext(err, "unable to create syncer persist dir")
	}
	log, err := persist.NewFileLogger(filepath.Join(persistDir, logFilename))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create syncer logger")
	}
	return &Syncer{
		db:     db,
		locker: locker,
		blobs:  blobs,
		self:   self,
		client: newHTTPExportClient(),
		log:    log,
	}, nil
}

// Close shuts down the syncer.
func (s *Syncer) Close() error {
	return errors.Compose(s.tg.Stop(), s.log.Close())
}

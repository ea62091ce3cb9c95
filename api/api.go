// Package api implements the content node's HTTP surface: the client write
// routes, the CID read path, and the node-to-node replication routes that
// other nodes pull from.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/modules/blobstore"
	"github.com/anthonymartin/audius-protocol/modules/contentdb"
	"github.com/anthonymartin/audius-protocol/modules/locker"
	"github.com/anthonymartin/audius-protocol/modules/syncer"
	"github.com/anthonymartin/audius-protocol/persist"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/threadgroup"
	"github.com/julienschmidt/httprouter"
)

// logFilename is the name of the api log file.
const logFilename = "api.log"

// An API dispatches requests to the node's modules. It implements
// http.Handler.
type API struct {
	db       modules.ContentDB
	locker   modules.Locker
	blobs    modules.BlobStore
	syncer   modules.Syncer
	triggers modules.TriggerQueue

	// peers are the other members of the node's replica cluster. They
	// receive sync triggers after each write and serve as gateways on the
	// read path.
	peers []modules.NetAddress

	// delegates holds the registered delegate public keys, hex-encoded,
	// that may sign node-to-node file lookups.
	delegates map[string]crypto.PublicKey

	router http.Handler
	log    *persist.Logger
	tg     threadgroup.ThreadGroup
}

// New creates an API from the node's modules.
func New(db modules.ContentDB, lk modules.Locker, blobs modules.BlobStore, sync modules.Syncer, triggers modules.TriggerQueue, peers []modules.NetAddress, delegates map[string]crypto.PublicKey, persistDir string) (*API, error) {
	if err := os.MkdirAll(persistDir, 0700); err != nil {
		return nil, errors.AddContext(err, "unable to create api persist dir")
	}
	log, err := persist.NewFileLogger(filepath.Join(persistDir, logFilename))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create api logger")
	}
	api := &API{
		db:        db,
		locker:    lk,
		blobs:     blobs,
		syncer:    sync,
		triggers:  triggers,
		peers:     peers,
		delegates: delegates,
		log:       log,
	}
	api.initRouter()
	return api, nil
}

// initRouter determines which functions handle each API call.
func (api *API) initRouter() {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(api.unrecognizedCallHandler)

	// Node-to-node replication calls.
	router.GET("/export", api.exportHandler)
	router.POST("/sync", api.syncHandler)
	router.GET("/sync_status/:wallet", api.syncStatusHandler)
	router.GET("/file_lookup", api.fileLookupHandler)

	// Client write calls.
	router.POST("/audius_users/metadata", api.audiusUserMetadataHandler)
	router.POST("/audius_users", api.audiusUserHandler)
	router.POST("/tracks/metadata", api.trackMetadataHandler)
	router.POST("/tracks", api.trackHandler)
	router.POST("/image_upload", api.imageUploadHandler)
	router.POST("/track_content", api.trackContentHandler)

	// Read calls.
	router.GET("/users/clock_status/:wallet", api.clockStatusHandler)
	router.GET("/ipfs/:cid", api.fileHandler)
	router.GET("/ipfs/:cid/:filename", api.dirFileHandler)

	// Node status calls.
	router.GET("/health_check", api.healthCheckHandler)
	router.GET("/version", api.versionHandler)

	api.router = router
}

// ServeHTTP implements the http.Handler interface.
func (api *API) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	api.router.ServeHTTP(w, req)
}

// Close shuts down the API's background threads.
func (api *API) Close() error {
	return errors.Compose(api.tg.Stop(), api.log.Close())
}

// managedTriggerSync enqueues a debounced sync trigger to the node's peers
// after a successful write.
func (api *API) managedTriggerSync(wallet modules.Wallet) {
	if api.triggers == nil || len(api.peers) == 0 {
		return
	}
	api.triggers.Enqueue(wallet, api.peers)
}

// unrecognizedCallHandler handles calls to unknown routes (404).
func (api *API) unrecognizedCallHandler(w http.ResponseWriter, req *http.Request) {
	http.Error(w, "404 - Refer to API.md", http.StatusNotFound)
}

// writeError writes an error to the API caller.
func writeError(w http.ResponseWriter, msg string, err int) {
	http.Error(w, msg, err)
}

// writeJSON writes the object to the ResponseWriter. If the encoding fails,
// an error is written instead.
func writeJSON(w http.ResponseWriter, obj interface{}) {
	if json.NewEncoder(w).Encode(obj) != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeSuccess writes the success json object ({"Success":true}) to the
// ResponseWriter.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, struct{ Success bool }{true})
}

// errorStatus maps a module error onto its stable HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Contains(err, contentdb.ErrInvalidWallet):
		return http.StatusBadRequest
	case errors.Contains(err, contentdb.ErrBadRange):
		return http.StatusBadRequest
	case errors.Contains(err, syncer.ErrRegression):
		return http.StatusBadRequest
	case errors.Contains(err, syncer.ErrNonContiguous):
		return http.StatusBadRequest
	case errors.Contains(err, contentdb.ErrClockConflict):
		return http.StatusConflict
	case errors.Contains(err, contentdb.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Contains(err, contentdb.ErrNotFound):
		return http.StatusNotFound
	case errors.Contains(err, blobstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Contains(err, blobstore.ErrForbidden):
		return http.StatusForbidden
	case errors.Contains(err, locker.ErrLocked):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// writeModuleError writes an error with its mapped status.
func writeModuleError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), errorStatus(err))
}

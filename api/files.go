package api

import (
	"encoding/hex"
	"net/http"
	"os"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/modules/blobstore"

	"github.com/NebulousLabs/errors"
	"github.com/julienschmidt/httprouter"
)

// managedServeBlob streams a file row's blob, filling a disk miss from the
// node's peers and then from the content network before giving up. Byte
// ranges are honored; every served blob enqueues a rehydration task.
func (api *API) managedServeBlob(w http.ResponseWriter, req *http.Request, file modules.File) {
	blob, err := api.blobs.Open(file.StoragePath)
	if errors.Contains(err, blobstore.ErrNotFound) {
		// The row exists but the blob is missing locally, which happens
		// after a partial restore. Repair from the replica set first, then
		// from the network at large.
		fetchErr := api.blobs.Fetch(file, api.peers)
		if fetchErr != nil {
			fetchErr = api.blobs.FetchUpstream(file)
		}
		if fetchErr != nil {
			api.log.Printf("unable to repair blob %v: %v", file.Multihash, fetchErr)
			writeError(w, "blob unavailable from any source", http.StatusInternalServerError)
			return
		}
		blob, err = api.blobs.Open(file.StoragePath)
	}
	if err != nil {
		writeModuleError(w, err)
		return
	}
	defer blob.Close()

	api.blobs.EnqueueRehydrate(file.Multihash)
	http.ServeContent(w, req, string(file.Multihash), file.CreatedAt, blob)
}

// fileHandler streams a blob by CID. The row lookup runs before the
// blacklist check, so a CID this node has never stored answers 404 whether
// or not it is blacklisted.
func (api *API) fileHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	cid := crypto.CID(ps.ByName("cid"))
	file, err := api.db.LookupFileByCID(cid)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	if api.blobs.IsBlacklisted(cid) {
		writeError(w, "CID is blacklisted on this node", http.StatusForbidden)
		return
	}
	if file.Type == modules.FileTypeDir {
		writeError(w, "CID names a directory, not a blob", http.StatusBadRequest)
		return
	}
	api.managedServeBlob(w, req, file)
}

// dirFileHandler streams an entry of a directory CID by file name.
func (api *API) dirFileHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	dirCID := crypto.CID(ps.ByName("cid"))
	fileName := ps.ByName("filename")
	file, err := api.db.LookupDirEntry(dirCID, fileName)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	if api.blobs.IsBlacklisted(dirCID) || api.blobs.IsBlacklisted(file.Multihash) {
		writeError(w, "CID is blacklisted on this node", http.StatusForbidden)
		return
	}
	api.managedServeBlob(w, req, file)
}

// fileLookupHandler is the node-to-node file read. The caller signs the CID
// and a timestamp with a registered delegate key; an unknown delegate gets
// 401, a bad signature 403. The blob is served from disk only, with no peer
// fallback, so nodes cannot chase each other in a fetch loop.
func (api *API) fileLookupHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	query := req.URL.Query()
	cidStr := query.Get("cid")
	timestamp := query.Get("timestamp")
	delegateID := query.Get("delegate_id")
	sigHex := query.Get("signature")
	if cidStr == "" || timestamp == "" || delegateID == "" || sigHex == "" {
		writeError(w, "cid, timestamp, delegate_id and signature are required", http.StatusBadRequest)
		return
	}

	pk, registered := api.delegates[delegateID]
	if !registered {
		writeError(w, "unregistered delegate", http.StatusUnauthorized)
		return
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil || len(sigBytes) != crypto.SignatureSize {
		writeError(w, "malformed signature", http.StatusBadRequest)
		return
	}
	var sig crypto.Signature
	copy(sig[:], sigBytes)
	if crypto.VerifyHash(crypto.HashAll([]byte(cidStr), []byte(timestamp)), pk, sig) != nil {
		writeError(w, "signature does not verify", http.StatusForbidden)
		return
	}

	cid := crypto.CID(cidStr)
	file, err := api.db.LookupFileByCID(cid)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	if api.blobs.IsBlacklisted(cid) {
		writeError(w, "CID is blacklisted on this node", http.StatusForbidden)
		return
	}
	blob, err := api.blobs.Open(file.StoragePath)
	if os.IsNotExist(err) || errors.Contains(err, blobstore.ErrNotFound) {
		writeError(w, "blob not on disk", http.StatusNotFound)
		return
	}
	if err != nil {
		writeModuleError(w, err)
		return
	}
	defer blob.Close()
	http.ServeContent(w, req, string(file.Multihash), file.CreatedAt, blob)
}

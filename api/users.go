package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/julienschmidt/httprouter"
)

// maxUploadBytes caps the size of a single upload request body.
const maxUploadBytes = 1 << 29 // 512 MiB

type (
	// ClockStatusGET is the response to a clock status request.
	ClockStatusGET struct {
		ClockValue        modules.ClockValue `json:"clockValue"`
		LatestBlockNumber int64              `json:"latestBlockNumber"`
	}

	// MetadataPOST is the request body shared by the user and track
	// metadata upload routes.
	MetadataPOST struct {
		Wallet   modules.Wallet  `json:"walletPublicKey"`
		Metadata json.RawMessage `json:"metadata"`
	}

	// MetadataPOSTResponse is the response to a metadata upload: the CID
	// under which the metadata blob was stored and the clock of its file
	// row.
	MetadataPOSTResponse struct {
		MetadataMultihash crypto.CID         `json:"metadataMultihash"`
		Clock             modules.ClockValue `json:"clock"`
	}

	// AudiusUserPOST is the request body that associates an uploaded
	// metadata blob with a user at a block number.
	AudiusUserPOST struct {
		Wallet                modules.Wallet `json:"walletPublicKey"`
		BlockNumber           int64          `json:"blockNumber"`
		MetadataFileMultihash crypto.CID     `json:"metadataFileMultihash"`
	}

	// TrackPOST is the request body that creates a track row from an
	// uploaded metadata blob.
	TrackPOST struct {
		Wallet                modules.Wallet `json:"walletPublicKey"`
		BlockchainID          int64          `json:"blockchainId"`
		MetadataFileMultihash crypto.CID     `json:"metadataFileMultihash"`
	}

	// WritePOSTResponse is the response to a content row write.
	WritePOSTResponse struct {
		Clock modules.ClockValue `json:"clock"`
	}

	// ImagePOSTResponse is the response to an image upload.
	ImagePOSTResponse struct {
		DirMultihash crypto.CID           `json:"dirMultihash"`
		Multihash    crypto.CID           `json:"multihash"`
		Clocks       []modules.ClockValue `json:"clocks"`
	}

	// TrackContentPOSTResponse is the response to a track content upload.
	TrackContentPOSTResponse struct {
		Multihash crypto.CID         `json:"multihash"`
		Clock     modules.ClockValue `json:"clock"`
	}
)

// clockStatusHandler returns the current clock for a wallet.
func (api *API) clockStatusHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	wallet := modules.Wallet(ps.ByName("wallet")).Normalized()
	if !wallet.IsValid() {
		writeError(w, "invalid wallet", http.StatusBadRequest)
		return
	}
	user, err := api.db.UserByWallet(wallet)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	writeJSON(w, ClockStatusGET{
		ClockValue:        user.Clock,
		LatestBlockNumber: user.LatestBlockNumber,
	})
}

// managedWriteMetadata stores a metadata blob and its file row, returning
// the CID and assigned clock. Shared by the user and track metadata routes.
func (api *API) managedWriteMetadata(wallet modules.Wallet, metadata json.RawMessage) (crypto.CID, modules.ClockValue, error) {
	cid := crypto.ComputeCID(metadata)
	path, err := api.blobs.Put(cid, metadata)
	if err != nil {
		return "", 0, err
	}
	clocks, err := api.db.WriteFiles(wallet, []modules.FileUpload{{
		Multihash:   cid,
		StoragePath: path,
		Type:        modules.FileTypeMetadata,
	}})
	if err != nil {
		return "", 0, err
	}
	return cid, clocks[0], nil
}

// metadataHandler implements both metadata upload routes.
func (api *API) metadataHandler(w http.ResponseWriter, req *http.Request) {
	var body MetadataPOST
	if err := json.NewDecoder(io.LimitReader(req.Body, maxUploadBytes)).Decode(&body); err != nil {
		writeError(w, "unparsable metadata request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body.Metadata) == 0 {
		writeError(w, "metadata is required", http.StatusBadRequest)
		return
	}
	wallet := body.Wallet.Normalized()
	if !wallet.IsValid() {
		writeError(w, "invalid wallet", http.StatusBadRequest)
		return
	}
	cid, clock, err := api.managedWriteMetadata(wallet, body.Metadata)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	api.managedTriggerSync(wallet)
	writeJSON(w, MetadataPOSTResponse{MetadataMultihash: cid, Clock: clock})
}

// audiusUserMetadataHandler stores a user metadata blob ahead of the user
// row that will reference it.
func (api *API) audiusUserMetadataHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	api.metadataHandler(w, req)
}

// trackMetadataHandler stores a track metadata blob ahead of the track row
// that will reference it.
func (api *API) trackMetadataHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	api.metadataHandler(w, req)
}

// managedReadMetadata loads the previously uploaded metadata blob for a
// CID. The file row must exist; a dangling CID means the client skipped the
// metadata upload step.
func (api *API) managedReadMetadata(cid crypto.CID) (json.RawMessage, error) {
	file, err := api.db.LookupFileByCID(cid)
	if err != nil {
		return nil, err
	}
	blob, err := api.blobs.Open(file.StoragePath)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	return io.ReadAll(io.LimitReader(blob, maxUploadBytes))
}

// audiusUserHandler writes a user metadata row referencing an uploaded
// metadata blob.
func (api *API) audiusUserHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body AudiusUserPOST
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, "unparsable audius user request: "+err.Error(), http.StatusBadRequest)
		return
	}
	wallet := body.Wallet.Normalized()
	if !wallet.IsValid() {
		writeError(w, "invalid wallet", http.StatusBadRequest)
		return
	}
	metadata, err := api.managedReadMetadata(body.MetadataFileMultihash)
	if err != nil {
		writeError(w, "metadata blob has not been uploaded: "+err.Error(), http.StatusBadRequest)
		return
	}
	clock, err := api.db.WriteAudiusUser(wallet, metadata, body.MetadataFileMultihash, body.BlockNumber)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	api.managedTriggerSync(wallet)
	writeJSON(w, WritePOSTResponse{Clock: clock})
}

// trackHandler writes a track row referencing an uploaded metadata blob.
func (api *API) trackHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body TrackPOST
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, "unparsable track request: "+err.Error(), http.StatusBadRequest)
		return
	}
	wallet := body.Wallet.Normalized()
	if !wallet.IsValid() {
		writeError(w, "invalid wallet", http.StatusBadRequest)
		return
	}
	metadata, err := api.managedReadMetadata(body.MetadataFileMultihash)
	if err != nil {
		writeError(w, "metadata blob has not been uploaded: "+err.Error(), http.StatusBadRequest)
		return
	}
	clock, err := api.db.WriteTrack(wallet, metadata, body.MetadataFileMultihash, body.BlockchainID)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	api.managedTriggerSync(wallet)
	writeJSON(w, WritePOSTResponse{Clock: clock})
}

// readUploadFile pulls the uploaded file and wallet out of a multipart
// request.
func readUploadFile(req *http.Request) (modules.Wallet, []byte, string, error) {
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, "", err
	}
	wallet := modules.Wallet(req.FormValue("wallet_public_key")).Normalized()
	file, header, err := req.FormFile("file")
	if err != nil {
		return "", nil, "", err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return "", nil, "", err
	}
	return wallet, data, header.Filename, nil
}

// imageUploadHandler stores an image inside a fresh directory CID. The
// directory row and the image row are written in one batch so their clocks
// are consecutive.
func (api *API) imageUploadHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	wallet, data, filename, err := readUploadFile(req)
	if err != nil {
		writeError(w, "unparsable image upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !wallet.IsValid() {
		writeError(w, "invalid wallet", http.StatusBadRequest)
		return
	}

	cid := crypto.ComputeCID(data)
	dirCID := crypto.HashAll([]byte(filename), data).CID()
	path, err := api.blobs.PutDirEntry(dirCID, cid, data)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	clocks, err := api.db.WriteFiles(wallet, []modules.FileUpload{
		{
			Multihash:   dirCID,
			StoragePath: api.blobs.Path(dirCID),
			Type:        modules.FileTypeDir,
		},
		{
			Multihash:    cid,
			StoragePath:  path,
			Type:         modules.FileTypeImage,
			DirMultihash: dirCID,
			FileName:     filename,
		},
	})
	if err != nil {
		writeModuleError(w, err)
		return
	}
	api.managedTriggerSync(wallet)
	writeJSON(w, ImagePOSTResponse{DirMultihash: dirCID, Multihash: cid, Clocks: clocks})
}

// trackContentHandler stores a track's audio blob. The row is not yet bound
// to a track; the binding happens when the track row arrives with its
// blockchain id.
func (api *API) trackContentHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	wallet, data, _, err := readUploadFile(req)
	if err != nil {
		writeError(w, "unparsable track content upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !wallet.IsValid() {
		writeError(w, "invalid wallet", http.StatusBadRequest)
		return
	}

	cid := crypto.ComputeCID(data)
	path, err := api.blobs.Put(cid, data)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	clocks, err := api.db.WriteFiles(wallet, []modules.FileUpload{{
		Multihash:   cid,
		StoragePath: path,
		Type:        modules.FileTypeAudio,
	}})
	if err != nil {
		writeModuleError(w, err)
		return
	}
	api.managedTriggerSync(wallet)
	writeJSON(w, TrackContentPOSTResponse{Multihash: cid, Clock: clocks[0]})
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/modules/contentdb"

	"github.com/NebulousLabs/errors"
	"github.com/julienschmidt/httprouter"
)

// syncHandler asks this node to pull the listed wallets from a source node.
// Immediate requests block and surface the import's result; everything else
// is acknowledged right away and imported in the background.
func (api *API) syncHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var sr modules.SyncRequest
	if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
		writeError(w, "unparsable sync request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(sr.Wallets) == 0 {
		writeError(w, "at least one wallet is required", http.StatusBadRequest)
		return
	}
	if !sr.SourceEndpoint.IsValid() {
		writeError(w, "invalid creator_node_endpoint", http.StatusBadRequest)
		return
	}

	if sr.Immediate {
		if err := api.syncer.Sync(sr.Wallets, sr.SourceEndpoint); err != nil {
			writeModuleError(w, err)
			return
		}
		writeSuccess(w)
		return
	}

	wallets := make([]modules.Wallet, len(sr.Wallets))
	copy(wallets, sr.Wallets)
	go func() {
		if api.tg.Add() != nil {
			return
		}
		defer api.tg.Done()
		if err := api.syncer.Sync(wallets, sr.SourceEndpoint); err != nil {
			api.log.Printf("background sync from %v failed: %v", sr.SourceEndpoint, err)
		}
	}()
	writeSuccess(w)
}

// syncStatusHandler reports this node's replication state for one wallet. A
// wallet mid-import answers 423 so that probes do not read a half-applied
// window.
func (api *API) syncStatusHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	wallet := modules.Wallet(ps.ByName("wallet")).Normalized()
	if !wallet.IsValid() {
		writeError(w, "invalid wallet", http.StatusBadRequest)
		return
	}
	if api.locker.Held(wallet) {
		writeError(w, "sync in progress for wallet", http.StatusLocked)
		return
	}

	user, err := api.db.UserByWallet(wallet)
	if errors.Contains(err, contentdb.ErrUnknownUser) {
		// A wallet this node has never seen is reported as absent rather
		// than erroring; the selector's first-time gate depends on it.
		writeJSON(w, modules.SyncStatus{
			Wallet:     wallet,
			ClockValue: modules.ClockAbsent,
		})
		return
	}
	if err != nil {
		writeModuleError(w, err)
		return
	}
	writeJSON(w, modules.SyncStatus{
		Wallet:            wallet,
		LatestBlockNumber: user.LatestBlockNumber,
		ClockValue:        user.Clock,
	})
}

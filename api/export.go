package api

import (
	"net/http"
	"strconv"

	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/julienschmidt/httprouter"
)

// exportHandler handles the paged replication read. Wallets arrive as
// repeated wallet_public_key parameters; the clock window is clamped
// server-side, so a caller asking for too much gets a partial window plus
// the true clock in clockInfo.
func (api *API) exportHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	query := req.URL.Query()
	walletParams := query["wallet_public_key"]
	if len(walletParams) == 0 {
		writeError(w, "at least one wallet_public_key is required", http.StatusBadRequest)
		return
	}

	exportReq := modules.ExportRequest{
		SourceEndpoint: modules.NetAddress(query.Get("source_endpoint")),
	}
	for _, wallet := range walletParams {
		exportReq.Wallets = append(exportReq.Wallets, modules.Wallet(wallet))
	}
	if minStr := query.Get("clock_range_min"); minStr != "" {
		min, err := strconv.ParseInt(minStr, 10, 64)
		if err != nil {
			writeError(w, "unparsable clock_range_min: "+err.Error(), http.StatusBadRequest)
			return
		}
		exportReq.ClockRangeMin = modules.ClockValue(min)
	}
	if maxStr := query.Get("clock_range_max"); maxStr != "" {
		max, err := strconv.ParseInt(maxStr, 10, 64)
		if err != nil {
			writeError(w, "unparsable clock_range_max: "+err.Error(), http.StatusBadRequest)
			return
		}
		exportReq.ClockRangeMax = modules.ClockValue(max)
	}

	export, err := api.db.Export(exportReq)
	if err != nil {
		writeModuleError(w, err)
		return
	}
	// Peer hints let the importer fetch blobs from the rest of the replica
	// set if this node is slow.
	export.PeerInfo = api.peers
	writeJSON(w, export)
}

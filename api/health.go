package api

import (
	"net/http"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/julienschmidt/httprouter"
)

// VersionGET is the response to a version request.
type VersionGET struct {
	Version     string `json:"version"`
	GitRevision string `json:"gitRevision"`
	BuildTime   string `json:"buildTime"`
}

// healthCheckHandler is the route the service selector probes. A node that
// answers at all reports itself healthy; deeper checks live behind the
// status routes.
func (api *API) healthCheckHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeJSON(w, modules.HealthStatus{
		Healthy: true,
		Service: "content-node",
		Version: build.NodeVersion,
	})
}

// versionHandler returns the node's build information.
func (api *API) versionHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeJSON(w, VersionGET{
		Version:     build.NodeVersion,
		GitRevision: build.GitRevision,
		BuildTime:   build.BuildTime,
	})
}

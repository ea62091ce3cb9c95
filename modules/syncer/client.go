package syncer

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
)

// httpExportClient pulls export windows over the node-to-node HTTP surface.
type httpExportClient struct {
	client *http.Client
}

func newHTTPExportClient() *httpExportClient {
	return &httpExportClient{
		client: &http.Client{Timeout: modules.FetchTimeout},
	}
}

// Export issues a GET against the source's export route and decodes the
// response.
func (c *httpExportClient) Export(source modules.NetAddress, req modules.ExportRequest) (modules.Export, error) {
	vals := url.Values{}
	for _, wallet := range req.Wallets {
		vals.Add("wallet_public_key", string(wallet))
	}
	vals.Set("clock_range_min", strconv.FormatInt(int64(req.ClockRangeMin), 10))
	if req.ClockRangeMax > 0 {
		vals.Set("clock_range_max", strconv.FormatInt(int64(req.ClockRangeMax), 10))
	}
	if req.SourceEndpoint != "" {
		vals.Set("source_endpoint", req.SourceEndpoint.String())
	}

	resp, err := c.client.Get(source.String() + "/export?" + vals.Encode())
	if err != nil {
		return modules.Export{}, errors.AddContext(err, "unable to reach export source")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return modules.Export{}, errors.New("export source returned status " + resp.Status)
	}
	var export modules.Export
	if err := json.NewDecoder(resp.Body).Decode(&export); err != nil {
		return modules.Export{}, errors.AddContext(err, "undecodable export response")
	}
	return export, nil
}

package selector

import (
	"sync"

	"github.com/anthonymartin/audius-protocol/modules"
)

// StaticRegistry is a modules.Registry backed by a fixed node list, for
// deployments that pin their peer set through configuration instead of
// reading it from the service ledger.
type StaticRegistry struct {
	nodes           []modules.NetAddress
	expectedVersion string
	mu              sync.Mutex
}

// NewStaticRegistry creates a registry over a fixed node list.
func NewStaticRegistry(nodes []modules.NetAddress, expectedVersion string) *StaticRegistry {
	return &StaticRegistry{
		nodes:           nodes,
		expectedVersion: expectedVersion,
	}
}

// ContentNodes returns the configured node list.
func (r *StaticRegistry) ContentNodes() ([]modules.NetAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes := make([]modules.NetAddress, len(r.nodes))
	copy(nodes, r.nodes)
	return nodes, nil
}

// ExpectedVersion returns the configured expected version.
func (r *StaticRegistry) ExpectedVersion() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expectedVersion, nil
}

// SetContentNodes replaces the node list.
func (r *StaticRegistry) SetContentNodes(nodes []modules.NetAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = nodes
}

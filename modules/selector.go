package modules

import (
	"time"
)

type (
	// Candidate is a content node considered by the service selector,
	// annotated with the results of its health check.
	Candidate struct {
		Endpoint NetAddress    `json:"endpoint"`
		Version  string        `json:"version"`
		Latency  time.Duration `json:"latency"`
	}

	// DecisionTrace records the surviving endpoint set after each stage of
	// a selection, for observability. Selector failures attach the trace
	// to the returned error.
	DecisionTrace struct {
		GetAll       []NetAddress `json:"getAll"`
		FilterAllow  []NetAddress `json:"filterAllow"`
		FilterDeny   []NetAddress `json:"filterDeny"`
		FilterSync   []NetAddress `json:"filterSync"`
		FilterHealth []NetAddress `json:"filterHealth"`
		Select       []NetAddress `json:"select"`
	}

	// SelectOptions tunes a single selection.
	SelectOptions struct {
		// AllowList, when non-nil, restricts candidates to its members.
		AllowList []NetAddress
		// DenyList removes candidates after the allow list is applied.
		DenyList []NetAddress
		// CheckSyncStatus enables the per-candidate sync-status gate for
		// Wallet at UserBlockNumber.
		CheckSyncStatus bool
		Wallet          Wallet
		UserBlockNumber int64
		// NumNodes is the replica set size to select. Zero means
		// ReplicaSetSize.
		NumNodes int
	}
)

// A Registry is the authoritative external mapping of the service: the set
// of registered content nodes and the version they are expected to run. The
// on-ledger implementation is outside this repo; tests and static deploys
// use in-memory implementations.
type Registry interface {
	ContentNodes() ([]NetAddress, error)
	ExpectedVersion() (string, error)
}

// A Selector picks a healthy primary and secondaries for a user from an
// untrusted node population.
type Selector interface {
	// SelectReplicaSet filters and health-checks the registered nodes and
	// returns the chosen replica set along with the full decision trace.
	SelectReplicaSet(opts SelectOptions) (ReplicaSet, DecisionTrace, error)
}

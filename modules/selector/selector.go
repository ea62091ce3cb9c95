// Package selector picks a replica set for a user from the registry's node
// population. Candidates are filtered by caller lists, optionally gated on
// their sync status for the user, health checked in parallel, and ranked by
// version and observed latency. The pipeline records the surviving endpoint
// set after every stage so that a surprising selection can be explained
// after the fact.
package selector

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/persist"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/threadgroup"
)

// logFilename is the name of the selector log file.
const logFilename = "selector.log"

// ErrNoPrimaryAvailable is returned when no registered node survives the
// selection pipeline.
var ErrNoPrimaryAvailable = errors.New("no healthy primary available")

// Selector implements modules.Selector over HTTP probes of the registered
// nodes.
type Selector struct {
	registry modules.Registry
	client   *http.Client

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// New creates a selector that probes the nodes listed by the registry.
func New(registry modules.Registry, persistDir string) (*Selector, error) {
	if err := os.MkdirAll(persistDir, 0700); err != nil {
		return nil, errors.AddContext(err, "unable to create selector persist dir")
	}
	log, err := persist.NewFileLogger(filepath.Join(persistDir, logFilename))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create selector logger")
	}
	return &Selector{
		registry: registry,
		client:   &http.Client{Timeout: modules.HealthCheckTimeout},
		log:      log,
	}, nil
}

// filterList applies the allow and deny lists to the candidate set.
func filterList(nodes []modules.NetAddress, allow, deny []modules.NetAddress) (afterAllow, afterDeny []modules.NetAddress) {
	if allow == nil {
		afterAllow = nodes
	} else {
		allowed := make(map[modules.NetAddress]struct{})
		for _, a := range allow {
			allowed[a] = struct{}{}
		}
		for _, n := range nodes {
			if _, ok := allowed[n]; ok {
				afterAllow = append(afterAllow, n)
			}
		}
	}
	denied := make(map[modules.NetAddress]struct{})
	for _, d := range deny {
		denied[d] = struct{}{}
	}
	for _, n := range afterAllow {
		if _, ok := denied[n]; !ok {
			afterDeny = append(afterDeny, n)
		}
	}
	return afterAllow, afterDeny
}

// rankCandidates orders healthy candidates: newest version first, then
// lowest latency, then endpoint string. The endpoint tiebreak keeps the
// selection reproducible for a fixed population.
func rankCandidates(candidates []modules.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if cmp := build.VersionCmp(candidates[i].Version, candidates[j].Version); cmp != 0 {
			return cmp > 0
		}
		if candidates[i].Latency != candidates[j].Latency {
			return candidates[i].Latency < candidates[j].Latency
		}
		return candidates[i].Endpoint < candidates[j].Endpoint
	})
}

// endpoints projects a candidate list onto its endpoints.
func endpoints(candidates []modules.Candidate) []modules.NetAddress {
	addrs := make([]modules.NetAddress, 0, len(candidates))
	for _, c := range candidates {
		addrs = append(addrs, c.Endpoint)
	}
	return addrs
}

// SelectReplicaSet runs the selection pipeline and returns the chosen
// replica set with the decision trace of every stage. The trace is returned
// on failure as well, so callers can log why no primary was found.
func (s *Selector) SelectReplicaSet(opts modules.SelectOptions) (modules.ReplicaSet, modules.DecisionTrace, error) {
	var trace modules.DecisionTrace
	if err := s.tg.Add(); err != nil {
		return modules.ReplicaSet{}, trace, err
	}
	defer s.tg.Done()

	numNodes := opts.NumNodes
	if numNodes == 0 {
		numNodes = modules.ReplicaSetSize
	}

	nodes, err := s.registry.ContentNodes()
	if err != nil {
		return modules.ReplicaSet{}, trace, errors.AddContext(err, "unable to list registered nodes")
	}
	expectedVersion, err := s.registry.ExpectedVersion()
	if err != nil {
		return modules.ReplicaSet{}, trace, errors.AddContext(err, "unable to read expected version")
	}
	trace.GetAll = nodes

	afterAllow, afterDeny := filterList(nodes, opts.AllowList, opts.DenyList)
	trace.FilterAllow = afterAllow
	trace.FilterDeny = afterDeny

	surviving := afterDeny
	if opts.CheckSyncStatus {
		surviving = s.filterSyncStatus(surviving, opts.Wallet, opts.UserBlockNumber)
	}
	trace.FilterSync = surviving

	healthy := s.healthCheck(surviving, expectedVersion)
	trace.FilterHealth = endpoints(healthy)

	if len(healthy) == 0 {
		s.log.Printf("selection for wallet %v exhausted all candidates: %+v", opts.Wallet, trace)
		return modules.ReplicaSet{}, trace, ErrNoPrimaryAvailable
	}
	rankCandidates(healthy)
	if len(healthy) > numNodes {
		healthy = healthy[:numNodes]
	}
	trace.Select = endpoints(healthy)

	rs := modules.ReplicaSet{Primary: healthy[0].Endpoint}
	for _, c := range healthy[1:] {
		rs.Secondaries = append(rs.Secondaries, c.Endpoint)
	}
	return rs, trace, nil
}

// Close shuts down the selector.
func (s *Selector) Close() error {
	return errors.Compose(s.tg.Stop(), s.log.Close())
}

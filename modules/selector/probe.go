package selector

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
)

// probeParallelism bounds the fan-out of candidate probes.
const probeParallelism = 10

// probeHealth issues a single health check and measures its round trip.
func (s *Selector) probeHealth(endpoint modules.NetAddress) (modules.Candidate, error) {
	start := time.Now()
	resp, err := s.client.Get(endpoint.String() + "/health_check")
	if err != nil {
		return modules.Candidate{}, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)
	if resp.StatusCode != http.StatusOK {
		return modules.Candidate{}, errors.New("health check returned status " + resp.Status)
	}
	var status modules.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return modules.Candidate{}, errors.AddContext(err, "undecodable health check body")
	}
	if !status.Healthy {
		return modules.Candidate{}, errors.New("node reports itself unhealthy")
	}
	if !build.IsVersion(status.Version) {
		return modules.Candidate{}, errors.New("node reports invalid version " + status.Version)
	}
	return modules.Candidate{
		Endpoint: endpoint,
		Version:  status.Version,
		Latency:  latency,
	}, nil
}

// probeSyncStatus queries a candidate's replication state for one wallet. A
// 423 means the candidate is mid-import and cannot be judged.
func (s *Selector) probeSyncStatus(endpoint modules.NetAddress, wallet modules.Wallet) (modules.SyncStatus, error) {
	resp, err := s.client.Get(endpoint.String() + "/sync_status/" + url.PathEscape(string(wallet)))
	if err != nil {
		return modules.SyncStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return modules.SyncStatus{}, errors.New("sync status returned status " + resp.Status)
	}
	var status modules.SyncStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return modules.SyncStatus{}, errors.AddContext(err, "undecodable sync status body")
	}
	return status, nil
}

// probeAll runs keep against every endpoint with bounded concurrency and
// returns the endpoints for which it returned true, preserving input order.
func probeAll(nodes []modules.NetAddress, keep func(i int, endpoint modules.NetAddress) bool) []modules.NetAddress {
	kept := make([]bool, len(nodes))
	jobs := make(chan int)
	done := make(chan struct{})

	workers := probeParallelism
	if workers > len(nodes) {
		workers = len(nodes)
	}
	for i := 0; i < workers; i++ {
		go func() {
			for idx := range jobs {
				kept[idx] = keep(idx, nodes[idx])
				done <- struct{}{}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range nodes {
			jobs <- i
		}
	}()
	for range nodes {
		<-done
	}

	var surviving []modules.NetAddress
	for i, ok := range kept {
		if ok {
			surviving = append(surviving, nodes[i])
		}
	}
	return surviving
}

// filterSyncStatus drops candidates that cannot take the user on. A
// candidate is acceptable only if it has never seen the wallet while being
// behind on chain state, or if it has the wallet and is caught up. A
// candidate that is behind with existing state would serve stale content,
// and one that is caught up but mid-configuration cannot be trusted either
// way.
func (s *Selector) filterSyncStatus(nodes []modules.NetAddress, wallet modules.Wallet, userBlockNumber int64) []modules.NetAddress {
	return probeAll(nodes, func(_ int, endpoint modules.NetAddress) bool {
		status, err := s.probeSyncStatus(endpoint, wallet)
		if err != nil {
			s.log.Debugf("sync probe of %v failed: %v", endpoint, err)
			return false
		}
		behind := status.LatestBlockNumber < userBlockNumber
		firstTime := status.ClockValue == modules.ClockAbsent
		return (behind && firstTime) || !behind
	})
}

// healthCheck probes every candidate in parallel and keeps those that are
// up, self-reporting healthy, and running a version compatible with the
// expected one. Compatibility is major.minor equality; patch releases are
// interchangeable.
func (s *Selector) healthCheck(nodes []modules.NetAddress, expectedVersion string) []modules.Candidate {
	candidates := make([]modules.Candidate, len(nodes))
	probeAll(nodes, func(i int, endpoint modules.NetAddress) bool {
		candidate, err := s.probeHealth(endpoint)
		if err != nil {
			s.log.Debugf("health probe of %v failed: %v", endpoint, err)
			return false
		}
		if !build.MinorVersionsEqual(candidate.Version, expectedVersion) {
			s.log.Debugf("dropping %v: version %v incompatible with expected %v", endpoint, candidate.Version, expectedVersion)
			return false
		}
		candidates[i] = candidate
		return true
	})

	var healthy []modules.Candidate
	for i := range nodes {
		if candidates[i].Endpoint != "" {
			healthy = append(healthy, candidates[i])
		}
	}
	return healthy
}

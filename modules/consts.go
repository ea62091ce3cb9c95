package modules

import (
	"time"

	"github.com/anthonymartin/audius-protocol/build"
)

const (
	// ReplicaSetSize is the number of nodes assigned to each user: one
	// primary and two secondaries.
	ReplicaSetSize = 3

	// FetchParallelism bounds the concurrent blob fetches of a single
	// import, separately for track files and non-track files.
	FetchParallelism = 10
)

var (
	// MaxExportRange is the widest clock window a single export response
	// may span. Importers page through larger histories one window at a
	// time.
	MaxExportRange = build.Select(build.Var{
		Standard: ClockValue(10000),
		Dev:      ClockValue(100),
		Testing:  ClockValue(3),
	}).(ClockValue)

	// SyncLockTTL is how long a sync lock may be held before it expires.
	// It must exceed the maximum expected duration of a single sync run.
	SyncLockTTL = build.Select(build.Var{
		Standard: 5 * time.Minute,
		Dev:      30 * time.Second,
		Testing:  500 * time.Millisecond,
	}).(time.Duration)

	// DebounceInterval is how long a queued secondary sync trigger waits
	// for further writes to the same wallet before firing.
	DebounceInterval = build.Select(build.Var{
		Standard: 5 * time.Second,
		Dev:      time.Second,
		Testing:  25 * time.Millisecond,
	}).(time.Duration)

	// HealthCheckTimeout bounds each health or sync-status probe issued by
	// the service selector.
	HealthCheckTimeout = build.Select(build.Var{
		Standard: 5 * time.Second,
		Dev:      2 * time.Second,
		Testing:  time.Second,
	}).(time.Duration)

	// FetchTimeout bounds a single blob fetch from a peer gateway.
	FetchTimeout = build.Select(build.Var{
		Standard: 30 * time.Second,
		Dev:      10 * time.Second,
		Testing:  2 * time.Second,
	}).(time.Duration)

	// UpstreamTimeout is the short deadline applied to the final
	// content-addressed network fallback on the read path.
	UpstreamTimeout = build.Select(build.Var{
		Standard: 3 * time.Second,
		Dev:      2 * time.Second,
		Testing:  500 * time.Millisecond,
	}).(time.Duration)
)

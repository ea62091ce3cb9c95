package modules

type (
	// SyncRequest asks a node to pull the listed wallets from a source
	// node. Immediate requests block until the import completes and
	// surface its result; debounced requests are queued.
	SyncRequest struct {
		Wallets        []Wallet   `json:"wallet"`
		SourceEndpoint NetAddress `json:"creator_node_endpoint"`
		Immediate      bool       `json:"immediate,omitempty"`
		SyncType       string     `json:"sync_type,omitempty"`
	}
)

// A Syncer pulls a user's records from a source node and commits them
// locally, keeping this node's replica converging on the source.
type Syncer interface {
	// Sync imports the listed wallets from the source endpoint. It pages
	// export windows until the local clock matches the source's, fetching
	// every referenced blob before committing each window atomically.
	Sync(wallets []Wallet, source NetAddress) error

	Close() error
}

// A TriggerQueue schedules secondary syncs after primary writes. At most one
// pending trigger exists per wallet; re-triggering a wallet pushes its
// deadline back. Pending triggers are process-local and are lost on restart;
// the next write to the wallet re-creates them.
type TriggerQueue interface {
	// Enqueue schedules a debounced sync request to each secondary.
	Enqueue(wallet Wallet, secondaries []NetAddress)

	// Cancel removes any pending trigger for the wallet.
	Cancel(wallet Wallet)

	// SyncNow synchronously asks each secondary to pull the wallet from
	// this node, returning the first error encountered.
	SyncNow(wallet Wallet, secondaries []NetAddress) error

	Close() error
}

package syncer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/persist"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/threadgroup"
)

// triggerLogFilename is the name of the trigger queue log file.
const triggerLogFilename = "trigger.log"

// pendingTrigger is one scheduled secondary sync. The pointer doubles as
// the trigger's identity: a fire callback only acts if it still owns the
// wallet's map slot, so a re-trigger that replaced it wins silently.
type pendingTrigger struct {
	timer       *time.Timer
	secondaries []modules.NetAddress
}

// TriggerQueue implements modules.TriggerQueue with one timer per wallet.
type TriggerQueue struct {
	// self is this node's public endpoint, sent as the sync source.
	self   modules.NetAddress
	client *http.Client

	mu      sync.Mutex
	pending map[modules.Wallet]*pendingTrigger

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// NewTriggerQueue creates a trigger queue that names self as the source of
// the syncs it requests.
func NewTriggerQueue(self modules.NetAddress, persistDir string) (*TriggerQueue, error) {
	if err := os.MkdirAll(persistDir, 0700); err != nil {
		return nil, errors.AddContext(err, "unable to create trigger queue persist dir")
	}
	log, err := persist.NewFileLogger(filepath.Join(persistDir, triggerLogFilename))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create trigger queue logger")
	}
	return &TriggerQueue{
		self:    self,
		client:  &http.Client{Timeout: modules.FetchTimeout},
		pending: make(map[modules.Wallet]*pendingTrigger),
		log:     log,
	}, nil
}

// postSync asks one secondary to pull the wallet from this node.
func (tq *TriggerQueue) postSync(secondary modules.NetAddress, wallet modules.Wallet, immediate bool) error {
	body, err := json.Marshal(modules.SyncRequest{
		Wallets:        []modules.Wallet{wallet},
		SourceEndpoint: tq.self,
		Immediate:      immediate,
	})
	if err != nil {
		return err
	}
	resp, err := tq.client.Post(secondary.String()+"/sync", "application/json", bytes.NewReader(body))
	if err != nil {
		return errors.AddContext(err, "unable to reach secondary "+string(secondary))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("secondary " + string(secondary) + " returned status " + resp.Status)
	}
	return nil
}

// threadedFire runs when a wallet's debounce timer expires. Failures are
// logged, not retried; the next write's debounce cycle carries the deltas.
func (tq *TriggerQueue) threadedFire(wallet modules.Wallet, pt *pendingTrigger) {
	if tq.tg.Add() != nil {
		return
	}
	defer tq.tg.Done()

	tq.mu.Lock()
	if tq.pending[wallet] != pt {
		// Replaced or cancelled while this callback was waiting on the
		// lock. The newer trigger owns the wallet now.
		tq.mu.Unlock()
		return
	}
	delete(tq.pending, wallet)
	tq.mu.Unlock()

	for _, secondary := range pt.secondaries {
		if err := tq.postSync(secondary, wallet, false); err != nil {
			tq.log.Printf("debounced sync of %v to %v failed: %v", wallet, secondary, err)
		}
	}
}

// Enqueue schedules a debounced sync request to each secondary. A wallet
// already queued has its deadline pushed back instead of gaining a second
// timer.
func (tq *TriggerQueue) Enqueue(wallet modules.Wallet, secondaries []modules.NetAddress) {
	wallet = wallet.Normalized()
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if existing, ok := tq.pending[wallet]; ok {
		existing.timer.Stop()
	}
	pt := &pendingTrigger{secondaries: secondaries}
	pt.timer = time.AfterFunc(modules.DebounceInterval, func() {
		tq.threadedFire(wallet, pt)
	})
	tq.pending[wallet] = pt
}

// Cancel removes any pending trigger for the wallet.
func (tq *TriggerQueue) Cancel(wallet modules.Wallet) {
	wallet = wallet.Normalized()
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if existing, ok := tq.pending[wallet]; ok {
		existing.timer.Stop()
		delete(tq.pending, wallet)
	}
}

// SyncNow synchronously asks each secondary to pull the wallet, returning
// every failure composed. A pending debounced trigger for the wallet is
// cancelled first; the immediate sync supersedes it.
func (tq *TriggerQueue) SyncNow(wallet modules.Wallet, secondaries []modules.NetAddress) error {
	if err := tq.tg.Add(); err != nil {
		return err
	}
	defer tq.tg.Done()
	wallet = wallet.Normalized()
	tq.Cancel(wallet)

	var errs []error
	for _, secondary := range secondaries {
		if err := tq.postSync(secondary, wallet, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Compose(errs...)
}

// Close stops every pending timer and shuts down the queue.
func (tq *TriggerQueue) Close() error {
	tq.mu.Lock()
	for wallet, pt := range tq.pending {
		pt.timer.Stop()
		delete(tq.pending, wallet)
	}
	tq.mu.Unlock()
	return errors.Compose(tq.tg.Stop(), tq.log.Close())
}

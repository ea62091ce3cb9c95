package syncer

// Tests in this package assume the testing build tag, which shrinks
// MaxExportRange to 3 and DebounceInterval to 25ms.

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/modules/blobstore"
	"github.com/anthonymartin/audius-protocol/modules/contentdb"
	"github.com/anthonymartin/audius-protocol/modules/locker"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"
)

// testWallet returns a random valid wallet.
func testWallet() modules.Wallet {
	return modules.Wallet("0x" + crypto.HashBytes(fastrand.Bytes(16)).String()[:40])
}

// testNode bundles one content node's components with an HTTP server
// exposing its export and blob routes, enough surface for another node to
// sync from it.
type testNode struct {
	db     *contentdb.ContentDB
	blobs  *blobstore.BlobStore
	locker *locker.Locker
	syncer *Syncer
	addr   modules.NetAddress
}

func (n *testNode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		var req modules.ExportRequest
		for _, wallet := range r.URL.Query()["wallet_public_key"] {
			req.Wallets = append(req.Wallets, modules.Wallet(wallet))
		}
		min, _ := strconv.ParseInt(r.URL.Query().Get("clock_range_min"), 10, 64)
		req.ClockRangeMin = modules.ClockValue(min)
		if maxStr := r.URL.Query().Get("clock_range_max"); maxStr != "" {
			max, _ := strconv.ParseInt(maxStr, 10, 64)
			req.ClockRangeMax = modules.ClockValue(max)
		}
		export, err := n.db.Export(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(export)
	})
	mux.HandleFunc("/ipfs/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/ipfs/")
		var file modules.File
		var err error
		if parts := strings.SplitN(rest, "/", 2); len(parts) == 2 {
			file, err = n.db.LookupDirEntry(crypto.CID(parts[0]), parts[1])
		} else {
			file, err = n.db.LookupFileByCID(crypto.CID(parts[0]))
		}
		if err != nil {
			http.NotFound(w, r)
			return
		}
		blob, err := n.blobs.Open(file.StoragePath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer blob.Close()
		io.Copy(w, blob)
	})
	return mux
}

// newTestNode creates a full content node in a fresh temp directory.
func newTestNode(t *testing.T, name string) *testNode {
	dir := build.TempDir("syncer", t.Name(), name)
	node := &testNode{}

	var err error
	node.db, err = contentdb.New(filepath.Join(dir, "contentdb"))
	if err != nil {
		t.Fatal(err)
	}
	node.blobs, err = blobstore.New(filepath.Join(dir, "blobstore"), nil)
	if err != nil {
		t.Fatal(err)
	}
	node.locker = locker.New(locker.NewMemStore(), modules.SyncLockTTL)

	server := httptest.NewServer(node.handler())
	node.addr = modules.NetAddress(server.URL)

	node.syncer, err = New(node.db, node.locker, node.blobs, node.addr, dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		server.Close()
		if err := errors.Compose(node.syncer.Close(), node.locker.Close(), node.blobs.Close(), node.db.Close()); err != nil {
			t.Error(err)
		}
	})
	return node
}

// writeContent writes a realistic batch to a node: a user metadata row, a
// track, and four file rows including a directory with an image entry. The
// blobs are stored so the node can serve them. Returns the final clock.
func (n *testNode) writeContent(t *testing.T, wallet modules.Wallet, seed string) modules.ClockValue {
	metaData := []byte("metadata-" + seed)
	metaCID := crypto.ComputeCID(metaData)
	metaPath, err := n.blobs.Put(metaCID, metaData)
	if err != nil {
		t.Fatal(err)
	}
	audioData := []byte("audio-" + seed)
	audioCID := crypto.ComputeCID(audioData)
	audioPath, err := n.blobs.Put(audioCID, audioData)
	if err != nil {
		t.Fatal(err)
	}
	imgData := []byte("image-" + seed)
	imgCID := crypto.ComputeCID(imgData)
	dirCID := crypto.ComputeCID([]byte("dir-" + seed))
	imgPath, err := n.blobs.PutDirEntry(dirCID, imgCID, imgData)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := n.db.WriteAudiusUser(wallet, json.RawMessage(`{"handle":"tester"}`), metaCID, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := n.db.WriteTrack(wallet, json.RawMessage(`{"title":"song"}`), metaCID, 7); err != nil {
		t.Fatal(err)
	}
	clocks, err := n.db.WriteFiles(wallet, []modules.FileUpload{
		{Multihash: metaCID, StoragePath: metaPath, Type: modules.FileTypeMetadata},
		{Multihash: audioCID, StoragePath: audioPath, Type: modules.FileTypeAudio, TrackBlockchainID: 7},
		{Multihash: dirCID, StoragePath: n.blobs.Path(dirCID), Type: modules.FileTypeDir},
		{Multihash: imgCID, StoragePath: imgPath, Type: modules.FileTypeImage, DirMultihash: dirCID, FileName: "150x150.jpg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return clocks[len(clocks)-1]
}

// TestColdAndPagedSync converges an empty secondary on a primary whose
// history spans several export windows, then checks that a repeat sync is
// a no-op.
func TestColdAndPagedSync(t *testing.T) {
	primary := newTestNode(t, "primary")
	secondary := newTestNode(t, "secondary")
	wallet := testWallet()

	final := primary.writeContent(t, wallet, "a")
	if final != 6 {
		t.Fatal("expected primary clock 6, got", final)
	}

	if err := secondary.syncer.Sync([]modules.Wallet{wallet}, primary.addr); err != nil {
		t.Fatal(err)
	}
	clock, err := secondary.db.UserClock(wallet)
	if err != nil {
		t.Fatal(err)
	}
	if clock != final {
		t.Fatal("secondary did not converge: clock", clock)
	}

	// Every blob referenced by the imported rows is on the secondary's
	// disk at the row's storage path.
	export, err := secondary.db.Export(modules.ExportRequest{Wallets: []modules.Wallet{wallet}, ClockRangeMin: 1, ClockRangeMax: final})
	if err != nil {
		t.Fatal(err)
	}
	for _, bundle := range export.CNodeUsers {
		for _, file := range bundle.Files {
			if file.Type == modules.FileTypeDir {
				continue
			}
			blob, err := secondary.blobs.Open(file.StoragePath)
			if err != nil {
				t.Fatal("imported row points at a missing blob:", file.Multihash, err)
			}
			blob.Close()
		}
	}

	// A repeat sync against an unchanged source is a no-op.
	if err := secondary.syncer.Sync([]modules.Wallet{wallet}, primary.addr); err != nil {
		t.Fatal(err)
	}
	clock, err = secondary.db.UserClock(wallet)
	if err != nil {
		t.Fatal(err)
	}
	if clock != final {
		t.Fatal("repeat sync changed the clock to", clock)
	}
}

// TestIncrementalSync checks that a caught-up secondary picks up only the
// primary's new writes.
func TestIncrementalSync(t *testing.T) {
	primary := newTestNode(t, "primary")
	secondary := newTestNode(t, "secondary")
	wallet := testWallet()

	primary.writeContent(t, wallet, "a")
	if err := secondary.syncer.Sync([]modules.Wallet{wallet}, primary.addr); err != nil {
		t.Fatal(err)
	}
	final := primary.writeContent(t, wallet, "b")
	if err := secondary.syncer.Sync([]modules.Wallet{wallet}, primary.addr); err != nil {
		t.Fatal(err)
	}
	clock, err := secondary.db.UserClock(wallet)
	if err != nil {
		t.Fatal(err)
	}
	if clock != final {
		t.Fatal("secondary did not pick up new writes: clock", clock)
	}
}

// TestRegressionRefused checks that a source behind the local clock is
// refused and local state is untouched.
func TestRegressionRefused(t *testing.T) {
	primary := newTestNode(t, "primary")
	secondary := newTestNode(t, "secondary")
	wallet := testWallet()

	localMax := secondary.writeContent(t, wallet, "local")
	if _, err := primary.db.WriteAudiusUser(wallet, json.RawMessage(`{}`), crypto.ComputeCID([]byte("m")), 1); err != nil {
		t.Fatal(err)
	}

	err := secondary.syncer.Sync([]modules.Wallet{wallet}, primary.addr)
	if !errors.Contains(err, ErrRegression) {
		t.Fatal("expected ErrRegression, got", err)
	}
	clock, err := secondary.db.UserClock(wallet)
	if err != nil {
		t.Fatal(err)
	}
	if clock != localMax {
		t.Fatal("refused sync modified local state: clock", clock)
	}
}

// TestSyncRefusedWhileLocked checks that a held sync lock blocks the whole
// request and that locks taken for other wallets are released.
func TestSyncRefusedWhileLocked(t *testing.T) {
	primary := newTestNode(t, "primary")
	secondary := newTestNode(t, "secondary")
	walletA := testWallet()
	walletB := testWallet()
	primary.writeContent(t, walletA, "a")
	primary.writeContent(t, walletB, "b")

	token, err := secondary.locker.Acquire(walletB)
	if err != nil {
		t.Fatal(err)
	}
	err = secondary.syncer.Sync([]modules.Wallet{walletA, walletB}, primary.addr)
	if !errors.Contains(err, locker.ErrLocked) {
		t.Fatal("expected ErrLocked, got", err)
	}
	if secondary.locker.Held(walletA) {
		t.Error("failed sync leaked walletA's lock")
	}
	secondary.locker.Release(walletB, token)

	// With the lock released the same request succeeds.
	if err := secondary.syncer.Sync([]modules.Wallet{walletA, walletB}, primary.addr); err != nil {
		t.Fatal(err)
	}
}

// TestValidateBundle covers the window validation edge cases directly.
func TestValidateBundle(t *testing.T) {
	records := func(clocks ...modules.ClockValue) []modules.ClockRecord {
		var rs []modules.ClockRecord
		for _, c := range clocks {
			rs = append(rs, modules.ClockRecord{Clock: c, SourceKind: modules.SourceFile})
		}
		return rs
	}

	// Gap between local state and the window start.
	bundle := &modules.ExportedUser{
		User:         modules.CNodeUser{Clock: 5},
		ClockRecords: records(4, 5),
		ClockInfo:    modules.ClockInfo{LocalClockMax: 5},
	}
	if err := validateBundle(bundle, 2); !errors.Contains(err, ErrNonContiguous) {
		t.Error("expected ErrNonContiguous, got", err)
	}

	// Hole inside the window breaks contiguity just like a bad start.
	bundle.ClockRecords = records(3, 5)
	if err := validateBundle(bundle, 2); !errors.Contains(err, ErrNonContiguous) {
		t.Error("expected ErrNonContiguous, got", err)
	}

	// Source behind local.
	bundle.ClockInfo.LocalClockMax = 1
	if err := validateBundle(bundle, 2); !errors.Contains(err, ErrRegression) {
		t.Error("expected ErrRegression, got", err)
	}

	// Empty window while the source claims more records.
	bundle = &modules.ExportedUser{
		ClockInfo: modules.ClockInfo{LocalClockMax: 9},
	}
	if err := validateBundle(bundle, 5); !errors.Contains(err, ErrBadBundle) {
		t.Error("expected ErrBadBundle, got", err)
	}

	// Caught up.
	bundle.ClockInfo.LocalClockMax = 5
	if err := validateBundle(bundle, 5); err != nil {
		t.Error("caught-up bundle should validate, got", err)
	}

	// First-time import starting at clock 1.
	bundle = &modules.ExportedUser{
		User:         modules.CNodeUser{Clock: 2},
		ClockRecords: records(1, 2),
		ClockInfo:    modules.ClockInfo{LocalClockMax: 2},
	}
	if err := validateBundle(bundle, modules.ClockAbsent); err != nil {
		t.Error("cold-start bundle should validate, got", err)
	}
}

// TestTriggerQueue checks debouncing, cancellation, and immediate syncs.
func TestTriggerQueue(t *testing.T) {
	var calls int32
	var lastImmediate int32
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req modules.SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		atomic.AddInt32(&calls, 1)
		if req.Immediate {
			atomic.StoreInt32(&lastImmediate, 1)
		} else {
			atomic.StoreInt32(&lastImmediate, 0)
		}
	}))
	defer secondary.Close()
	addr := modules.NetAddress(secondary.URL)

	tq, err := NewTriggerQueue("http://primary.test", build.TempDir("syncer", t.Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer tq.Close()
	wallet := testWallet()

	// A burst of triggers collapses into one request.
	for i := 0; i < 5; i++ {
		tq.Enqueue(wallet, []modules.NetAddress{addr})
	}
	time.Sleep(6 * modules.DebounceInterval)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatal("debounce fired", got, "times, want 1")
	}
	if atomic.LoadInt32(&lastImmediate) != 0 {
		t.Error("debounced trigger was marked immediate")
	}

	// Cancel before the deadline suppresses the request.
	tq.Enqueue(wallet, []modules.NetAddress{addr})
	tq.Cancel(wallet)
	time.Sleep(6 * modules.DebounceInterval)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatal("cancelled trigger still fired:", got)
	}

	// SyncNow posts synchronously with the immediate flag.
	if err := tq.SyncNow(wallet, []modules.NetAddress{addr}); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatal("immediate sync call count", got, "want 2")
	}
	if atomic.LoadInt32(&lastImmediate) != 1 {
		t.Error("immediate sync was not marked immediate")
	}

	// A failing secondary surfaces its error from SyncNow.
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "import failed", http.StatusInternalServerError)
	}))
	defer down.Close()
	if err := tq.SyncNow(wallet, []modules.NetAddress{modules.NetAddress(down.URL)}); err == nil {
		t.Error("expected an error from the failing secondary")
	}
}

package blobstore

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"
)

// newTestStore creates a BlobStore in a fresh temp directory.
func newTestStore(t *testing.T, upstream []modules.NetAddress) *BlobStore {
	bs, err := New(build.TempDir("blobstore", t.Name()), upstream)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := bs.Close(); err != nil {
			t.Error(err)
		}
	})
	return bs
}

// TestPutHasOpen checks the basic disk round trip and idempotent writes.
func TestPutHasOpen(t *testing.T) {
	bs := newTestStore(t, nil)
	data := fastrand.Bytes(128)
	cid := crypto.ComputeCID(data)

	if bs.Has(cid) {
		t.Fatal("store should not have the blob yet")
	}
	path, err := bs.Put(cid, data)
	if err != nil {
		t.Fatal(err)
	}
	if !bs.Has(cid) {
		t.Fatal("store should have the blob")
	}

	// Writing the same CID twice is a no-op in effect.
	path2, err := bs.Put(cid, data)
	if err != nil {
		t.Fatal(err)
	}
	if path != path2 {
		t.Error("idempotent write moved the blob")
	}

	// Data that does not hash to the CID is refused.
	if _, err := bs.Put(cid, fastrand.Bytes(128)); !errors.Contains(err, ErrCIDMismatch) {
		t.Error("expected ErrCIDMismatch, got", err)
	}

	file, err := bs.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	stat, err := file.Stat()
	if err != nil {
		t.Fatal(err)
	}
	file.Close()
	if stat.Size() != 128 {
		t.Error("blob has the wrong size on disk")
	}

	if _, err := bs.Open(bs.Path(crypto.ComputeCID([]byte("missing")))); !errors.Contains(err, ErrNotFound) {
		t.Error("expected ErrNotFound, got", err)
	}
}

// TestDirEntries checks the <root>/<dirCID>/<CID> layout.
func TestDirEntries(t *testing.T) {
	bs := newTestStore(t, nil)
	dirCID := crypto.ComputeCID([]byte("the-dir"))
	data := fastrand.Bytes(64)
	cid := crypto.ComputeCID(data)

	path, err := bs.PutDirEntry(dirCID, cid, data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(path, string(dirCID)+string(os.PathSeparator)+string(cid)) {
		t.Error("dir entry stored at unexpected path:", path)
	}
}

// TestFetch checks gateway fallback: the first gateway fails, the second
// provides the blob, and the result is verified and written to disk.
func TestFetch(t *testing.T) {
	bs := newTestStore(t, nil)
	data := fastrand.Bytes(256)
	cid := crypto.ComputeCID(data)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such blob", http.StatusNotFound)
	}))
	defer bad.Close()
	var hits int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/ipfs/"+string(cid) {
			http.Error(w, "wrong path", http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	defer good.Close()

	file := modules.File{Multihash: cid, Type: modules.FileTypeAudio}
	err := bs.Fetch(file, []modules.NetAddress{modules.NetAddress(bad.URL), modules.NetAddress(good.URL)})
	if err != nil {
		t.Fatal(err)
	}
	if !bs.Has(cid) {
		t.Fatal("fetched blob not on disk")
	}

	// A second fetch is served from disk without touching the gateways.
	if err := bs.Fetch(file, nil); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Error("fetch hit the gateway for a blob already on disk")
	}

	// A dir row fetch is a no-op.
	dirFile := modules.File{Multihash: crypto.ComputeCID([]byte("dir")), Type: modules.FileTypeDir}
	if err := bs.Fetch(dirFile, nil); err != nil {
		t.Fatal(err)
	}

	// With no working gateway the fetch fails with ErrUpstream.
	missing := modules.File{Multihash: crypto.ComputeCID([]byte("nope")), Type: modules.FileTypeAudio}
	if err := bs.Fetch(missing, []modules.NetAddress{modules.NetAddress(bad.URL)}); !errors.Contains(err, ErrUpstream) {
		t.Error("expected ErrUpstream, got", err)
	}
}

// TestFetchVerifiesCID checks that a gateway serving wrong bytes is
// rejected.
func TestFetchVerifiesCID(t *testing.T) {
	bs := newTestStore(t, nil)
	cid := crypto.ComputeCID([]byte("expected bytes"))

	lying := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("other bytes entirely"))
	}))
	defer lying.Close()

	file := modules.File{Multihash: cid, Type: modules.FileTypeAudio}
	err := bs.Fetch(file, []modules.NetAddress{modules.NetAddress(lying.URL)})
	if err == nil || bs.Has(cid) {
		t.Fatal("blob with a bad hash was accepted")
	}
}

// TestFetchBatch checks the bounded fan-out over many files.
func TestFetchBatch(t *testing.T) {
	bs := newTestStore(t, nil)

	blobs := make(map[string][]byte)
	files := make([]modules.File, 25)
	for i := range files {
		data := fastrand.Bytes(64)
		cid := crypto.ComputeCID(data)
		blobs["/ipfs/"+string(cid)] = data
		files[i] = modules.File{Multihash: cid, Type: modules.FileTypeAudio}
	}

	var inFlight, maxInFlight int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			observed := atomic.LoadInt32(&maxInFlight)
			if current <= observed || atomic.CompareAndSwapInt32(&maxInFlight, observed, current) {
				break
			}
		}
		data, exists := blobs[r.URL.Path]
		if !exists {
			http.Error(w, "no such blob", http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	defer server.Close()

	err := bs.FetchBatch(files, []modules.NetAddress{modules.NetAddress(server.URL)})
	if err != nil {
		t.Fatal(err)
	}
	for _, file := range files {
		if !bs.Has(file.Multihash) {
			t.Fatal("batch fetch missed a blob")
		}
	}
	if atomic.LoadInt32(&maxInFlight) > modules.FetchParallelism {
		t.Error("batch exceeded the fetch parallelism bound:", maxInFlight)
	}

	// A batch containing an unfetchable file surfaces an error.
	extra := []modules.File{{Multihash: crypto.ComputeCID([]byte("impossible")), Type: modules.FileTypeAudio}}
	if err := bs.FetchBatch(extra, []modules.NetAddress{modules.NetAddress(server.URL)}); err == nil {
		t.Error("expected an error from the failed file")
	}
}

// TestBlacklist checks persistence of the deny list.
func TestBlacklist(t *testing.T) {
	dir := build.TempDir("blobstore", t.Name())
	bs, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	cid := crypto.ComputeCID([]byte("banned"))
	if bs.IsBlacklisted(cid) {
		t.Fatal("fresh store has a blacklisted CID")
	}
	if err := bs.Blacklist(cid); err != nil {
		t.Fatal(err)
	}
	if !bs.IsBlacklisted(cid) {
		t.Fatal("CID not blacklisted after add")
	}
	if err := bs.Close(); err != nil {
		t.Fatal(err)
	}

	// The blacklist survives a restart.
	bs, err = New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer bs.Close()
	if !bs.IsBlacklisted(cid) {
		t.Error("blacklist did not survive a reopen")
	}
}

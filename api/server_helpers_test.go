package api

// Tests in this package assume the testing build tag, which shrinks
// MaxExportRange to 3 and DebounceInterval to 25ms.

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/modules/blobstore"
	"github.com/anthonymartin/audius-protocol/modules/contentdb"
	"github.com/anthonymartin/audius-protocol/modules/locker"
	"github.com/anthonymartin/audius-protocol/modules/syncer"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"
)

// testWallet returns a random valid wallet.
func testWallet() modules.Wallet {
	return modules.Wallet("0x" + crypto.HashBytes(fastrand.Bytes(16)).String()[:40])
}

// testServer is a full content node behind an httptest listener.
type testServer struct {
	db     *contentdb.ContentDB
	blobs  *blobstore.BlobStore
	locker *locker.Locker
	syncer *syncer.Syncer
	api    *API

	server *httptest.Server
	addr   modules.NetAddress
}

// newTestServer assembles a content node in a fresh temp directory. peers
// and delegates may be nil; withTriggers enables the debounced trigger
// queue targeting the peers.
func newTestServer(t *testing.T, name string, peers []modules.NetAddress, delegates map[string]crypto.PublicKey, withTriggers bool) *testServer {
	dir := build.TempDir("api", t.Name(), name)
	ts := &testServer{}

	// The listener comes up first so the node knows its own endpoint; the
	// handler indirects through ts.api, which is assigned below.
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ts.api.ServeHTTP(w, req)
	}))
	ts.addr = modules.NetAddress(ts.server.URL)

	var err error
	ts.db, err = contentdb.New(filepath.Join(dir, "contentdb"))
	if err != nil {
		t.Fatal(err)
	}
	ts.blobs, err = blobstore.New(filepath.Join(dir, "blobstore"), nil)
	if err != nil {
		t.Fatal(err)
	}
	ts.locker = locker.New(locker.NewMemStore(), modules.SyncLockTTL)
	ts.syncer, err = syncer.New(ts.db, ts.locker, ts.blobs, ts.addr, dir)
	if err != nil {
		t.Fatal(err)
	}
	var triggers modules.TriggerQueue
	if withTriggers {
		tq, err := syncer.NewTriggerQueue(ts.addr, dir)
		if err != nil {
			t.Fatal(err)
		}
		triggers = tq
	}
	ts.api, err = New(ts.db, ts.locker, ts.blobs, ts.syncer, triggers, peers, delegates, dir)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		ts.server.Close()
		closers := []error{ts.api.Close(), ts.syncer.Close(), ts.locker.Close(), ts.blobs.Close(), ts.db.Close()}
		if triggers != nil {
			closers = append(closers, triggers.Close())
		}
		if err := errors.Compose(closers...); err != nil {
			t.Error(err)
		}
	})
	return ts
}

// postJSON posts a JSON body to a route and decodes the response into out
// when out is non-nil. Non-2xx statuses fail the test unless wantStatus
// says otherwise.
func (ts *testServer) postJSON(t *testing.T, route string, body interface{}, out interface{}, wantStatus int) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(string(ts.addr)+route, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST %v returned %v, want %v: %s", route, resp.StatusCode, wantStatus, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
}

// getJSON gets a route and decodes the response into out.
func (ts *testServer) getJSON(t *testing.T, route string, out interface{}, wantStatus int) {
	t.Helper()
	resp, err := http.Get(string(ts.addr) + route)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %v returned %v, want %v: %s", route, resp.StatusCode, wantStatus, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
}

// postUpload posts a multipart upload to a route.
func (ts *testServer) postUpload(t *testing.T, route string, wallet modules.Wallet, filename string, data []byte, out interface{}) {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("wallet_public_key", string(wallet)); err != nil {
		t.Fatal(err)
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := form.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(string(ts.addr)+route, form.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST %v returned %v: %s", route, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
}

// writeFullUser drives the complete client write flow for a wallet:
// metadata, user row, an image, track content, track metadata, and the
// track row. Returns the audio CID, the image dir CID and image file name,
// and the final clock.
func (ts *testServer) writeFullUser(t *testing.T, wallet modules.Wallet, seed string) (audio crypto.CID, dir crypto.CID, imgName string, clock modules.ClockValue) {
	t.Helper()

	var meta MetadataPOSTResponse
	ts.postJSON(t, "/audius_users/metadata", MetadataPOST{
		Wallet:   wallet,
		Metadata: json.RawMessage(`{"handle":"tester-` + seed + `"}`),
	}, &meta, http.StatusOK)
	var user WritePOSTResponse
	ts.postJSON(t, "/audius_users", AudiusUserPOST{
		Wallet:                wallet,
		BlockNumber:           10,
		MetadataFileMultihash: meta.MetadataMultihash,
	}, &user, http.StatusOK)

	var img ImagePOSTResponse
	imgName = "profile-" + seed + ".jpg"
	ts.postUpload(t, "/image_upload", wallet, imgName, []byte("image-bytes-"+seed), &img)

	var content TrackContentPOSTResponse
	ts.postUpload(t, "/track_content", wallet, "track.mp3", []byte("audio-bytes-"+seed), &content)

	var trackMeta MetadataPOSTResponse
	ts.postJSON(t, "/tracks/metadata", MetadataPOST{
		Wallet:   wallet,
		Metadata: json.RawMessage(`{"title":"song-` + seed + `"}`),
	}, &trackMeta, http.StatusOK)
	var track WritePOSTResponse
	ts.postJSON(t, "/tracks", TrackPOST{
		Wallet:                wallet,
		BlockchainID:          7,
		MetadataFileMultihash: trackMeta.MetadataMultihash,
	}, &track, http.StatusOK)

	return content.Multihash, img.DirMultihash, imgName, track.Clock
}

package blobstore

import (
	"path/filepath"
	"sync"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/persist"
)

const blacklistFilename = "blacklist.json"

var blacklistMetadata = persist.Metadata{
	Header:  "CID Blacklist",
	Version: "1.2.0",
}

// blacklist is the persisted set of CIDs this node refuses to serve.
type blacklist struct {
	cids     map[crypto.CID]struct{}
	filename string
	mu       sync.Mutex
}

// newBlacklist loads the persisted blacklist, starting empty if no file
// exists yet.
func newBlacklist(persistDir string) (*blacklist, error) {
	bl := &blacklist{
		cids:     make(map[crypto.CID]struct{}),
		filename: filepath.Join(persistDir, blacklistFilename),
	}
	var persisted []crypto.CID
	err := persist.LoadJSON(blacklistMetadata, &persisted, bl.filename)
	if err != nil && !persist.IsFileNotExist(err) {
		return nil, err
	}
	for _, cid := range persisted {
		bl.cids[cid] = struct{}{}
	}
	return bl, nil
}

// contains reports whether a CID is blacklisted.
func (bl *blacklist) contains(cid crypto.CID) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	_, exists := bl.cids[cid]
	return exists
}

// add blacklists a CID and persists the full set.
func (bl *blacklist) add(cid crypto.CID) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.cids[cid] = struct{}{}
	persisted := make([]crypto.CID, 0, len(bl.cids))
	for c := range bl.cids {
		persisted = append(persisted, c)
	}
	return persist.SaveJSON(blacklistMetadata, persisted, bl.filename)
}

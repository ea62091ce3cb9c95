package blobstore

import (
	"io"
	"net/http"
	"time"

	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
)

// maxBlobSize caps how much data a single gateway response may carry.
const maxBlobSize = 2 << 30 // 2 GiB

// gatewayURL composes the read URL for a file row on a gateway. Entries of
// a directory CID are addressed through their parent directory and file
// name.
func gatewayURL(gateway modules.NetAddress, file modules.File) string {
	if file.DirMultihash != "" && file.FileName != "" {
		return gateway.String() + "/ipfs/" + string(file.DirMultihash) + "/" + file.FileName
	}
	return gateway.String() + "/ipfs/" + string(file.Multihash)
}

// fetchOne downloads and verifies a blob from a single gateway.
func (bs *BlobStore) fetchOne(gateway modules.NetAddress, file modules.File, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(gatewayURL(gateway, file))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("gateway returned status " + resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return err
	}
	if file.DirMultihash != "" {
		_, err = bs.PutDirEntry(file.DirMultihash, file.Multihash, data)
	} else {
		_, err = bs.Put(file.Multihash, data)
	}
	return err
}

// fetch tries each gateway in turn until one provides the blob.
func (bs *BlobStore) fetch(file modules.File, gateways []modules.NetAddress, timeout time.Duration) error {
	// Directory rows have no blob payload.
	if file.Type == modules.FileTypeDir {
		return nil
	}
	if bs.Has(file.Multihash) {
		return nil
	}
	var errs []error
	for _, gateway := range gateways {
		err := bs.fetchOne(gateway, file, timeout)
		if err == nil {
			return nil
		}
		bs.log.Debugf("fetch of %v from %v failed: %v", file.Multihash, gateway, err)
		errs = append(errs, err)
	}
	return errors.Compose(append([]error{ErrUpstream}, errs...)...)
}

// Fetch retrieves the blob for a file row from the given peer gateways,
// writing it to disk.
func (bs *BlobStore) Fetch(file modules.File, gateways []modules.NetAddress) error {
	return bs.fetch(file, gateways, modules.FetchTimeout)
}

// FetchUpstream retrieves a blob directly from the content network's public
// gateways under a short deadline. It is the last fallback of the read
// path.
func (bs *BlobStore) FetchUpstream(file modules.File) error {
	if len(bs.upstream) == 0 {
		return ErrUpstream
	}
	return bs.fetch(file, bs.upstream, modules.UpstreamTimeout)
}

// FetchBatch retrieves the blobs of many file rows with bounded
// concurrency. A fixed pool of workers drains a job channel, the way the
// renter drains its download queue; the first error is kept and returned
// after every in-flight fetch has finished, so a failed batch never leaves
// goroutines writing to disk behind the caller's back.
func (bs *BlobStore) FetchBatch(files []modules.File, gateways []modules.NetAddress) error {
	if len(files) == 0 {
		return nil
	}
	jobs := make(chan modules.File)
	results := make(chan error, len(files))

	workers := modules.FetchParallelism
	if workers > len(files) {
		workers = len(files)
	}
	for i := 0; i < workers; i++ {
		go func() {
			for file := range jobs {
				results <- bs.Fetch(file, gateways)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, file := range files {
			select {
			case jobs <- file:
			case <-bs.tg.StopChan():
				return
			}
		}
	}()

	var firstErr error
	for i := 0; i < len(files); i++ {
		select {
		case err := <-results:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-bs.tg.StopChan():
			return errors.New("blobstore shut down during batch fetch")
		}
	}
	return firstErr
}

// rehydrateQueue holds best-effort tasks that re-announce CIDs to the
// content-addressed overlay after a read-path hit. The queue drops work
// when full; rehydration is an optimization, never a correctness
// requirement.
type rehydrateQueue struct {
	queue chan crypto.CID
}

// newRehydrateQueue starts the rehydration worker.
func (bs *BlobStore) newRehydrateQueue() *rehydrateQueue {
	rq := &rehydrateQueue{
		queue: make(chan crypto.CID, 256),
	}
	go bs.threadedRehydrate(rq)
	return rq
}

// threadedRehydrate drains the rehydration queue. Announcing is a
// best-effort HEAD against the first upstream gateway, which is enough to
// pull the CID back into the overlay's hot set.
func (bs *BlobStore) threadedRehydrate(rq *rehydrateQueue) {
	if bs.tg.Add() != nil {
		return
	}
	defer bs.tg.Done()
	client := &http.Client{Timeout: modules.UpstreamTimeout}
	for {
		select {
		case <-bs.tg.StopChan():
			return
		case cid := <-rq.queue:
			if len(bs.upstream) == 0 {
				continue
			}
			resp, err := client.Head(bs.upstream[0].String() + "/ipfs/" + string(cid))
			if err != nil {
				bs.log.Debugf("rehydrate of %v failed: %v", cid, err)
				continue
			}
			resp.Body.Close()
		}
	}
}

// EnqueueRehydrate queues a rehydration task, dropping it if the queue is
// full.
func (bs *BlobStore) EnqueueRehydrate(cid crypto.CID) {
	select {
	case bs.rehydrate.queue <- cid:
	default:
	}
}

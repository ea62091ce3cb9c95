package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/anthonymartin/audius-protocol/api"
	"github.com/anthonymartin/audius-protocol/crypto"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/modules/blobstore"
	"github.com/anthonymartin/audius-protocol/modules/contentdb"
	"github.com/anthonymartin/audius-protocol/modules/locker"
	"github.com/anthonymartin/audius-protocol/modules/syncer"
	"github.com/anthonymartin/audius-protocol/profile"

	"github.com/NebulousLabs/errors"
)

// parseAddrs validates a list of endpoint strings.
func parseAddrs(raw []string) ([]modules.NetAddress, error) {
	var addrs []modules.NetAddress
	for _, s := range raw {
		addr := modules.NetAddress(s)
		if !addr.IsValid() {
			return nil, errors.New("invalid endpoint " + s)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// parseDelegates decodes the configured delegate public keys.
func parseDelegates(raw []string) (map[string]crypto.PublicKey, error) {
	delegates := make(map[string]crypto.PublicKey)
	for _, s := range raw {
		keyBytes, err := hex.DecodeString(s)
		if err != nil || len(keyBytes) != crypto.PublicKeySize {
			return nil, errors.New("invalid delegate public key " + s)
		}
		var pk crypto.PublicKey
		copy(pk[:], keyBytes)
		delegates[s] = pk
	}
	return delegates, nil
}

// startDaemon uses the config parameters to assemble the modules and serve
// the API until a stop signal arrives.
func startDaemon() error {
	runtime.GOMAXPROCS(runtime.NumCPU())
	if config.Profile {
		if err := profile.StartContinuousProfile(filepath.Join(config.CNodeDir, "profile")); err != nil {
			return errors.AddContext(err, "unable to start profiling")
		}
	}

	self := modules.NetAddress(config.SelfEndpoint)
	if !self.IsValid() {
		return errors.New("invalid self-endpoint " + config.SelfEndpoint)
	}
	peers, err := parseAddrs(config.Peers)
	if err != nil {
		return errors.AddContext(err, "unable to parse peers")
	}
	upstream, err := parseAddrs(config.Upstream)
	if err != nil {
		return errors.AddContext(err, "unable to parse upstream gateways")
	}
	delegates, err := parseDelegates(config.Delegates)
	if err != nil {
		return errors.AddContext(err, "unable to parse delegates")
	}

	// Create all of the modules.
	db, err := contentdb.New(filepath.Join(config.CNodeDir, "contentdb"))
	if err != nil {
		return err
	}
	blobs, err := blobstore.New(filepath.Join(config.CNodeDir, "blobstore"), upstream)
	if err != nil {
		return err
	}
	lk := locker.New(locker.NewMemStore(), modules.SyncLockTTL)
	sync, err := syncer.New(db, lk, blobs, self, filepath.Join(config.CNodeDir, "syncer"))
	if err != nil {
		return err
	}
	triggers, err := syncer.NewTriggerQueue(self, filepath.Join(config.CNodeDir, "syncer"))
	if err != nil {
		return err
	}
	a, err := api.New(db, lk, blobs, sync, triggers, peers, delegates, filepath.Join(config.CNodeDir, "api"))
	if err != nil {
		return err
	}
	srv, err := api.NewServer(config.APIAddr, a)
	if err != nil {
		return err
	}

	// Stop the server on SIGINT or SIGTERM; Close shuts the modules down
	// in dependency order.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\rCaught stop signal, quitting...")
		if err := srv.Close(); err != nil {
			fmt.Println("error during shutdown:", err)
		}
	}()

	fmt.Println("cnoded is listening on", srv.Addr())
	return srv.Serve()
}

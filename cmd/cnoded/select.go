package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/modules"
	"github.com/anthonymartin/audius-protocol/modules/selector"

	"github.com/spf13/cobra"
)

// selectCmd runs the service selector against the configured peers and
// prints the chosen replica set with its decision trace.
func selectCmd(cmd *cobra.Command, args []string) {
	peers, err := parseAddrs(config.Peers)
	if err != nil {
		fmt.Println("unable to parse peers:", err)
		os.Exit(1)
	}
	if len(peers) == 0 {
		fmt.Println("no peers configured; pass --peers")
		os.Exit(1)
	}

	registry := selector.NewStaticRegistry(peers, build.NodeVersion)
	s, err := selector.New(registry, filepath.Join(config.CNodeDir, "selector"))
	if err != nil {
		fmt.Println("unable to create selector:", err)
		os.Exit(1)
	}
	defer s.Close()

	opts := modules.SelectOptions{}
	if len(args) > 0 {
		opts.Wallet = modules.Wallet(args[0]).Normalized()
		opts.CheckSyncStatus = true
	}
	rs, trace, err := s.SelectReplicaSet(opts)
	out := struct {
		ReplicaSet modules.ReplicaSet    `json:"replicaSet,omitempty"`
		Trace      modules.DecisionTrace `json:"trace"`
		Err        string                `json:"error,omitempty"`
	}{ReplicaSet: rs, Trace: trace}
	if err != nil {
		out.Err = err.Error()
	}
	encoded, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(encoded))
	if err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthonymartin/audius-protocol/build"
	"github.com/anthonymartin/audius-protocol/persist"

	"github.com/spf13/cobra"
)

// Config holds the daemon's startup parameters, populated from flags.
type Config struct {
	APIAddr  string
	CNodeDir string

	// SelfEndpoint is the public URL other nodes and clients reach this
	// node at. It is announced as the source of sync triggers.
	SelfEndpoint string

	// Peers are the other members of this node's replica cluster.
	Peers []string

	// Upstream lists public content-network gateways used as the read
	// path's final fallback.
	Upstream []string

	// Delegates lists hex-encoded delegate public keys permitted to sign
	// node-to-node file lookups.
	Delegates []string

	// Profile enables continuous runtime profiling into the data
	// directory.
	Profile bool
}

var config Config

// versionCmd prints version information about the content node daemon.
func versionCmd(*cobra.Command, []string) {
	fmt.Println("Content Node Daemon v" + build.NodeVersion)
	if build.GitRevision != "" {
		fmt.Println("Git Revision " + build.GitRevision)
		fmt.Println("Build Time   " + build.BuildTime)
	}
}

// startDaemonCmd is a passthrough function for startDaemon.
func startDaemonCmd(*cobra.Command, []string) {
	if err := startDaemon(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "Content Node Daemon v" + build.NodeVersion,
		Long:  "Content Node Daemon v" + build.NodeVersion,
		Run:   startDaemonCmd,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version information about the Content Node Daemon",
		Run:   versionCmd,
	})

	root.AddCommand(&cobra.Command{
		Use:   "select [wallet]",
		Short: "Pick a replica set from the configured peers",
		Long: "Run the service selector against the configured peers and print the " +
			"chosen replica set together with the decision trace. With a wallet " +
			"argument the candidates are additionally gated on their sync status " +
			"for that wallet.",
		Run: selectCmd,
	})

	root.Flags().StringVarP(&config.APIAddr, "api-addr", "a", "localhost:4000", "which address the API listens on")
	root.Flags().StringVarP(&config.CNodeDir, "cnode-dir", "d", filepath.Join(persist.HomeFolder()), "location of the content node's data directory")
	root.Flags().StringVar(&config.SelfEndpoint, "self-endpoint", "http://localhost:4000", "public URL this node is reachable at")
	root.PersistentFlags().StringSliceVar(&config.Peers, "peers", nil, "endpoints of the other replica set members")
	root.Flags().StringSliceVar(&config.Upstream, "upstream", nil, "public gateway endpoints for the read path fallback")
	root.Flags().StringSliceVar(&config.Delegates, "delegates", nil, "hex public keys allowed to sign file lookups")
	root.Flags().BoolVar(&config.Profile, "profile", false, "continuously log runtime statistics to the data directory")

	root.Execute()
}

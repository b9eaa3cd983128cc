package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dGrid/cmd/region"
	"github.com/ValentinKolb/dGrid/cmd/serve"
	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dgrid",
		Short: "in-memory data grid server",
		Long: fmt.Sprintf(`dGrid (v%s)

The client-facing cache server of an in-memory data grid. Clients connect
over a binary, versioned wire protocol and operate on named regions.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dGrid",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dGrid v%s (protocol %s, supported %v)\n", Version, common.VersionCurrent, common.SupportedVersions)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(region.RegionCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, common.DefaultTransport, util.WrapString("transport to use (tcp, unix)"))
	RootCmd.PersistentFlags().StringVar(&util.ConfigFile, "config", "", util.WrapString("config file (yaml, toml or json) with the same keys as the flags"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

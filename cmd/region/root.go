package region

import (
	"context"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/rpc/client"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.Client

	// RegionCommands represents the region command group
	RegionCommands = &cobra.Command{
		Use:                "region",
		Short:              "Perform cache operations on a region",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	// Add common RPC flags to the region command
	util.SetupRPCClientFlags(RegionCommands)

	RegionCommands.PersistentFlags().String("region", "default", util.WrapString("Name of the region to operate on"))

	// Add subcommands
	RegionCommands.AddCommand(putCmd)
	RegionCommands.AddCommand(getCmd)
	RegionCommands.AddCommand(destroyCmd)
	RegionCommands.AddCommand(containsCmd)
	RegionCommands.AddCommand(sizeCmd)
	RegionCommands.AddCommand(pingCmd)
}

// setupClient connects the protocol client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	common.InitLoggers(viper.GetString("log-level"))

	config := util.GetClientConfig()
	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), config.Timeout())
	defer cancel()

	rpcClient, err = client.NewClient(ctx, *config, t)
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

func regionName() string {
	return viper.GetString("region")
}

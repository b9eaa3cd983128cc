package region

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Puts a value for a key and prints the previous value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], parseValue(args[1])

			delta, _ := cmd.Flags().GetBool("delta")
			ifAbsent, _ := cmd.Flags().GetBool("if-absent")

			var old any
			var err error
			switch {
			case delta:
				old, err = rpcClient.PutDelta(cmd.Context(), regionName(), key, value)
			case ifAbsent:
				old, err = rpcClient.PutIfAbsent(cmd.Context(), regionName(), key, value)
			default:
				old, err = rpcClient.Put(cmd.Context(), regionName(), key, value)
			}
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, old=%v\n", key, old)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, ok, err := rpcClient.Get(cmd.Context(), regionName(), key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%v\n", key, ok, value)
			return nil
		},
	}
	destroyCmd = &cobra.Command{
		Use:   "destroy [key]",
		Short: "Removes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			existed, err := rpcClient.Destroy(cmd.Context(), regionName(), key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, existed=%v\n", key, existed)
			return nil
		},
	}
	containsCmd = &cobra.Command{
		Use:   "contains [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			ok, err := rpcClient.ContainsKey(cmd.Context(), regionName(), key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, contains=%v\n", key, ok)
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of entries of the region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			size, err := rpcClient.Size(cmd.Context(), regionName())
			if err != nil {
				return err
			}
			fmt.Printf("region=%s, size=%d\n", regionName(), size)
			return nil
		},
	}
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rpcClient.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("pong (protocol %s)\n", rpcClient.Version())
			return nil
		},
	}
)

func init() {
	putCmd.Flags().Bool("delta", false, "Apply the value as a delta to the current value")
	putCmd.Flags().Bool("if-absent", false, "Only put the value if the key has no value")
	putCmd.MarkFlagsMutuallyExclusive("delta", "if-absent")
}

// parseValue turns numeric arguments into integers, so they can be used as deltas
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return s
}

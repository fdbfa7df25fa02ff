package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/gitpool/internal/poolhelper"
	"github.com/oriys/gitpool/internal/rpc"
)

// lookupCmd inspects the shared pool directly over RPC. This has no Local
// equivalent: without a daemon there is no shared cache to inspect.
func lookupCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "lookup <remote>",
		Short: "Check whether remote is already settled in the shared pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[0]

			endpoint := os.Getenv(poolhelper.EnvEndpoint)
			if endpoint == "" {
				return fmt.Errorf("%s is not set; lookup requires a remote pool daemon", poolhelper.EnvEndpoint)
			}

			client, err := rpc.Dial(endpoint)
			if err != nil {
				return fmt.Errorf("dial %s: %w", endpoint, err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			path, serviceErr, found, transportErr := client.Lookup(ctx, remote)
			if transportErr != nil {
				return fmt.Errorf("transport error: %w", transportErr)
			}
			if !found {
				fmt.Println("not cached")
				return nil
			}
			if serviceErr != nil {
				fmt.Printf("cached failure: %v\n", serviceErr)
				return nil
			}
			fmt.Println(path)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "RPC call timeout")

	return cmd
}

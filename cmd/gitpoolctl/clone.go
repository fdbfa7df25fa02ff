package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/gitpool/internal/poolhelper"
)

func cloneCmd() *cobra.Command {
	var (
		parentDir string
		directory string
	)

	cmd := &cobra.Command{
		Use:   "clone <remote>",
		Short: "Materialize a working copy for remote",
		Long:  "Resolves CONCURRENT_GIT_POOL: proxies to a pool daemon if set, otherwise runs git directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[0]

			helper, err := poolhelper.ConnectOrLocal()
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer helper.Close()

			serviceErr, transportErr := helper.CloneIn(context.Background(), parentDir, remote, directory)
			if transportErr != nil {
				return fmt.Errorf("transport error: %w", transportErr)
			}
			if serviceErr != nil {
				return fmt.Errorf("clone failed: %w", serviceErr)
			}

			fmt.Println("clone complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&parentDir, "parent-dir", "", "Directory to clone into (defaults to the current directory)")
	cmd.Flags().StringVar(&directory, "directory", "", "Destination directory name (defaults to git's own inference)")

	return cmd
}

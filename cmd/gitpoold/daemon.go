package main

import (
	"github.com/spf13/cobra"

	"github.com/oriys/gitpool/internal/daemon"
)

func serveCmd() *cobra.Command {
	var (
		rpcAddr  string
		httpAddr string
		rootDir  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pool daemon",
		Long:  "Construct a Pool, wrap it in an RPC Server, and serve metrics/health over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.Run(daemon.Options{
				ConfigFile: configFile,
				RPCAddr:    rpcAddr,
				HTTPAddr:   httpAddr,
				RootDir:    rootDir,
				LogLevel:   logLevel,
				Changed:    cmd.Flags().Changed,
			})
		},
	}

	cmd.Flags().StringVar(&rpcAddr, "rpc-addr", ":7777", "RPC listen address")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":9091", "Metrics/health listen address")
	cmd.Flags().StringVar(&rootDir, "root-dir", "", "Pool root directory override")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

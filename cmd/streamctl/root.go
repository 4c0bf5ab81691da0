package main

import (
	"os"

	"github.com/spf13/cobra"
)

// globalFlags 所有子命令共用的连接参数
type globalFlags struct {
	server string
	token  string
}

// newRootCmd 创建根命令并挂载所有子命令
func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "streamctl",
		Short:         "Resume optimizer stream client",
		Long:          "streamctl talks to the resume optimizer API server.\nIt submits jobs, follows their event streams and prints snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("STREAMCTL_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&g.server, "server", server, "API server base URL")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("STREAMCTL_TOKEN"), "bearer token")

	cmd.AddCommand(
		newTailCmd(g),
		newSnapshotCmd(g),
		newSubmitCmd(g),
		newTokenCmd(),
	)
	return cmd
}

func (g *globalFlags) client() *apiClient {
	return newAPIClient(g.server, g.token)
}

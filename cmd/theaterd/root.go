package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://127.0.0.1:8080"

// serverURL resolves the daemon address for client subcommands.
func serverURL(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("server"); f != nil && f.Changed {
		return strings.TrimRight(f.Value.String(), "/")
	}
	if v := strings.TrimSpace(os.Getenv("THEATERD_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultServerURL
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "theaterd",
		Short:         "Append generated theater scenes to chat replies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", defaultServerURL, "theaterd URL for client commands (defaults THEATERD_URL)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newMessagesCmd())
	return root
}

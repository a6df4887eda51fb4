// Command memoryd runs the conversational memory pipeline (spec.md's
// components C1-C13) behind a cobra CLI, grounded on
// cmd/contextd/main.go's initDependencies/initServices/run shape and
// cmd/ctxd/main.go's cobra root-plus-subcommands layout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configFile string
	version    = "dev"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "memoryd",
	Short:   "Multi-tenant conversational memory service",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config.yaml (defaults to ~/.config/memoryd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCheckCmd)
	rootCmd.AddCommand(replayEventCmd)
}

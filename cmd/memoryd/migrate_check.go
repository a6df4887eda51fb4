package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

// sentinelTenant is a non-existent tenant key used purely to exercise a
// read path against the primary store without touching real data.
var sentinelTenant = tenant.Info{UserID: "__migrate_check__", ProjectID: "__migrate_check__"}

var migrateCheckCmd = &cobra.Command{
	Use:   "migrate-check",
	Short: "Verify the primary store and vector store are reachable and ready",
	Long: `migrate-check connects to the primary store and vector store using the
active configuration and reports their readiness, without touching any
tenant data. It does not run a schema migration itself: the Qdrant-backed
primary store and chromem/Qdrant vector store are both schemaless, so
"migration" here means "connectivity and collection-naming are sane",
the same check cmd/contextd's check-metadata/recover-metadata tools
perform for the teacher's gob-file vector store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrateCheck(cmd.Context())
	},
}

func runMigrateCheck(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	deps, err := buildDependencies(cfg)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	fmt.Println("memoryd migrate-check")
	fmt.Printf("  primary store (%s:%d): ", cfg.PrimaryStore.Host, cfg.PrimaryStore.Port)
	if _, err := deps.primary.ICMLogsByRequest(ctx, sentinelTenant, "migrate-check"); err != nil {
		fmt.Printf("FAIL (%v)\n", err)
	} else {
		fmt.Println("ok")
	}

	fmt.Printf("  vector store (backend=%s): ", cfg.VectorStore.Backend)
	if _, err := deps.vectorStore.CollectionExists(ctx, "memoryd_migrate_check"); err != nil {
		fmt.Printf("FAIL (%v)\n", err)
		return fmt.Errorf("vector store not ready: %w", err)
	}
	fmt.Println("ok")

	return nil
}

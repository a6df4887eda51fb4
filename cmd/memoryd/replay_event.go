package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/ingestion"
)

var replayEventFile string

var replayEventCmd = &cobra.Command{
	Use:   "replay-event <subject>",
	Short: "Re-publish a stored ingestion event payload for reprocessing",
	Long: `replay-event re-publishes a memory_log.stored, mental_note.stored, or
conversation.stored event payload onto the event bus, so a redelivery runs
through the same idempotent C7 ingestion handlers a live producer would
trigger (spec.md §5's "redeliveries are safe"). Useful for backfilling a
vector-store write that failed or was skipped.

The payload is read from --file, or from stdin if --file is omitted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplayEvent(cmd.Context(), args[0])
	},
}

func init() {
	replayEventCmd.Flags().StringVar(&replayEventFile, "file", "", "path to the JSON event payload (defaults to stdin)")
}

func runReplayEvent(ctx context.Context, subject string) error {
	switch subject {
	case ingestion.SubjectMemoryLogStored, ingestion.SubjectMentalNoteStored, ingestion.SubjectConversationStored:
	default:
		return fmt.Errorf("unknown subject %q (expected one of %s, %s, %s)",
			subject, ingestion.SubjectMemoryLogStored, ingestion.SubjectMentalNoteStored, ingestion.SubjectConversationStored)
	}

	var payload []byte
	var err error
	if replayEventFile != "" {
		payload, err = os.ReadFile(replayEventFile)
	} else {
		payload, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("empty payload")
	}

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

	unsubscribe, err := deps.ingestion.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribing ingestion handlers: %w", err)
	}
	defer unsubscribe()

	if err := deps.bus.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	// The bus dispatches handlers asynchronously and Publish does not wait
	// for them (spec.md §5); give the in-process handler a moment to run
	// before the process exits and the embedded bus shuts down.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}

	fmt.Printf("replayed %s event\n", subject)
	return nil
}

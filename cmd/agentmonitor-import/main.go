// Command agentmonitor-import runs a one-off bulk import of Claude Code
// and/or Codex JSONL session transcripts into the AgentMonitor store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/davisbuilds/agentmonitor/internal/config"
	"github.com/davisbuilds/agentmonitor/internal/importer"
	"github.com/davisbuilds/agentmonitor/internal/store"
)

func parseFlagTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q (want RFC3339): %w", raw, err)
	}
	return &t, nil
}

func main() {
	var (
		source    string
		from      string
		to        string
		dryRun    bool
		force     bool
		claudeDir string
		codexDir  string
	)

	root := &cobra.Command{
		Use:   "agentmonitor-import",
		Short: "Bulk-import Claude Code and Codex session logs into AgentMonitor",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			fromTime, err := parseFlagTime(from)
			if err != nil {
				return err
			}
			toTime, err := parseFlagTime(to)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if claudeDir == "" {
				claudeDir = cfg.ClaudeCodeHome
			}
			if codexDir == "" {
				codexDir = cfg.CodexHome
			}

			opts := importer.Options{
				Source:       importer.Source(source),
				From:         fromTime,
				To:           toTime,
				DryRun:       dryRun,
				Force:        force,
				ClaudeDir:    claudeDir,
				CodexDir:     codexDir,
				MaxPayloadKB: cfg.MaxPayloadKB,
			}

			result, err := importer.Run(context.Background(), st, opts)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			fmt.Printf("files=%d events_found=%d events_imported=%d duplicates=%d skipped_files=%d\n",
				result.TotalFiles, result.TotalEventsFound, result.TotalEventsImported,
				result.TotalDuplicates, result.SkippedFiles)
			return nil
		},
	}

	root.Flags().StringVar(&source, "source", string(importer.SourceAll), "claude-code | codex | all")
	root.Flags().StringVar(&from, "from", "", "only import events at or after this RFC3339 timestamp")
	root.Flags().StringVar(&to, "to", "", "only import events at or before this RFC3339 timestamp")
	root.Flags().BoolVar(&dryRun, "dry-run", false, "parse and report without writing to the store")
	root.Flags().BoolVar(&force, "force", false, "reimport files even if their content hash is unchanged")
	root.Flags().StringVar(&claudeDir, "claude-dir", "", "override the Claude Code logs root")
	root.Flags().StringVar(&codexDir, "codex-dir", "", "override the Codex logs root")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/M0hamedSayed/MSMapper/internal/ledger"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show mapping sessions recorded in the ledger",
	Long: `History lists recorded sessions, newest first. Given a session ID it
prints that session's matches and warnings. With --export it writes the
selected sessions as YAML or JSON to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.Int("limit", 20, "maximum number of sessions to list")
	f.String("status", "", "filter by status: completed, failed, cancelled")
	f.String("schema", "", "filter by schema name")
	f.String("export", "", "export format: yaml or json")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := ledger.NewStore(cfg.Ledger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	w := cmd.OutOrStdout()

	if len(args) == 1 {
		rec, err := store.Session(ctx, args[0])
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return err
		}
		return enc.Close()
	}

	q := ledger.SessionQuery{}
	q.Limit, _ = cmd.Flags().GetInt("limit")
	status, _ := cmd.Flags().GetString("status")
	q.Status = types.SessionStatus(status)
	q.Schema, _ = cmd.Flags().GetString("schema")

	format, _ := cmd.Flags().GetString("export")
	switch format {
	case "":
	case "yaml":
		return store.ExportYAML(ctx, w, q)
	case "json":
		return store.ExportJSON(ctx, w, q)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}

	list, err := store.Sessions(ctx, q)
	if err != nil {
		return err
	}
	printSessions(w, list)
	return nil
}

func printSessions(w io.Writer, list []ledger.SessionRecord) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-19s  %-24s  %-16s  %-9s  %-11s  %7s  %5s\n",
		"Session", "Started", "Document", "Schema", "Status", "Confidence", "Records", "Warn")
	fmt.Fprintln(w, strings.Repeat("-", 146))
	for _, r := range list {
		fmt.Fprintf(w, "%-36s  %-19s  %-24s  %-16s  %-9s  %4.2f %-6s  %7d  %5d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), truncate(r.Document, 24), truncate(r.Schema, 16),
			r.Status, r.Aggregate, r.Level, r.Records, r.WarningCount)
	}
	fmt.Fprintf(w, "\n%d sessions\n", len(list))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

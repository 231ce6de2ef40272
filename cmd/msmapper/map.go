// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
	"golang.org/x/sync/errgroup"

	"github.com/M0hamedSayed/MSMapper/internal/httputil"
	"github.com/M0hamedSayed/MSMapper/internal/ledger"
	"github.com/M0hamedSayed/MSMapper/internal/mapping"
	"github.com/M0hamedSayed/MSMapper/internal/schema"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

var mapCmd = &cobra.Command{
	Use:   "map <file|url>...",
	Short: "Map documents onto a target schema",
	Long: `Map extracts each document, matches its fields to the target schema,
and writes two files per document into --out: <name>.records.jsonl with
one mapped record per line, and <name>.result.yaml (or .json) with the
matches, inferred types, confidence, and warnings.

Documents are mapped concurrently and share one provider gateway, so
rate and token limits hold across all of them. Progress goes to stderr.

Arguments starting with http:// or https:// are streamed from the network;
the media type then comes from the response unless --media-type is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMap,
}

func init() {
	f := mapCmd.Flags()
	f.String("schema", "", "target schema file (YAML or JSON)")
	f.String("media-type", "", "media type of the documents (default: from the file extension)")
	f.Bool("smart", false, "escalate low-confidence fields to an AI provider")
	f.String("provider", "", "provider profile used with --smart")
	f.String("format", "yaml", "result format: yaml or json")
	f.Int("concurrency", 2, "number of documents mapped at once")
	f.String("out", "mapped", "output directory")
	f.Bool("quiet", false, "do not print progress")
	_ = mapCmd.MarkFlagRequired("schema")

	mustBind("mapping.smart_mapping", f.Lookup("smart"))
	mustBind("mapping.provider", f.Lookup("provider"))

	rootCmd.AddCommand(mapCmd)
}

// mapOptions holds per-invocation settings shared by every document.
type mapOptions struct {
	mediaType string
	format    string
	outDir    string
	progress  io.Writer
	client    *http.Client
	names     *outputNames
}

// outputNames hands out output file stems so documents sharing a base
// name in one run do not overwrite each other's output.
type outputNames struct {
	mu   sync.Mutex
	used map[string]bool
}

// claim returns the stem of name, suffixed with -2, -3, ... when an
// earlier document already took it.
func (o *outputNames) claim(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if o == nil {
		return stem
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.used == nil {
		o.used = make(map[string]bool)
	}
	out := stem
	for i := 2; o.used[out]; i++ {
		out = fmt.Sprintf("%s-%d", stem, i)
	}
	o.used[out] = true
	return out
}

// MapSummary counts documents by session outcome.
type MapSummary struct {
	Completed int
	Failed    int
	Cancelled int
}

func (s *MapSummary) add(status types.SessionStatus) {
	switch status {
	case types.StatusCompleted:
		s.Completed++
	case types.StatusCancelled:
		s.Cancelled++
	default:
		s.Failed++
	}
}

func runMap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	schemaPath, _ := cmd.Flags().GetString("schema")
	target, err := schema.LoadFile(schemaPath)
	if err != nil {
		return err
	}

	opts := mapOptions{progress: os.Stderr, client: &http.Client{}}
	opts.mediaType, _ = cmd.Flags().GetString("media-type")
	opts.format, _ = cmd.Flags().GetString("format")
	opts.outDir, _ = cmd.Flags().GetString("out")
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		opts.progress = io.Discard
	}
	if opts.format != "yaml" && opts.format != "json" {
		return fmt.Errorf("unsupported format %q: use yaml or json", opts.format)
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	mopts := []mapping.Option{mapping.WithLogger(logger)}
	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	if gw != nil {
		mopts = append(mopts, mapping.WithEscalator(gw))
	}
	m := mapping.New(cfg, mopts...)

	var store *ledger.Store
	if !cfg.Ledger.Disabled {
		store, err = ledger.NewStore(cfg.Ledger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	summary := mapDocuments(ctx, m, store, args, target, opts, concurrency, cmd.OutOrStdout())
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d completed, %d failed, %d cancelled\n",
		summary.Completed, summary.Failed, summary.Cancelled)
	if summary.Failed+summary.Cancelled > 0 {
		return fmt.Errorf("%d document(s) did not complete", summary.Failed+summary.Cancelled)
	}
	return nil
}

// mapDocuments maps every path with at most concurrency sessions open at
// once. A document that cannot be opened or mapped counts as failed and
// does not stop the others.
func mapDocuments(ctx context.Context, m *mapping.Mapper, store *ledger.Store, paths []string,
	target types.TargetSchema, opts mapOptions, concurrency int, w io.Writer) MapSummary {
	var (
		summary MapSummary
		mu      sync.Mutex
		g       errgroup.Group
	)
	g.SetLimit(max(concurrency, 1))
	if opts.names == nil {
		opts.names = &outputNames{}
	}

	for _, path := range paths {
		g.Go(func() error {
			res, err := mapFile(ctx, m, path, target, opts)
			if err == nil && store != nil && res.SessionID != "" {
				if rerr := store.RecordResult(context.WithoutCancel(ctx), res); rerr != nil {
					logger.Warn("ledger.record.failed", "session", res.SessionID, "error", rerr)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				fmt.Fprintf(w, "%s: %v\n", path, err)
				return nil
			}
			summary.add(res.Status)
			printResult(w, path, res)
			return nil
		})
	}
	_ = g.Wait()
	return summary
}

func printResult(w io.Writer, path string, res types.MappingResult) {
	fmt.Fprintf(w, "%s: %s, %d records, confidence %.2f (%s), %d warnings",
		path, res.Status, res.Records, res.Confidence.Aggregate, res.Confidence.Level, len(res.Warnings))
	if res.ErrorMessage != "" {
		fmt.Fprintf(w, ": %s", res.ErrorMessage)
	}
	fmt.Fprintln(w)
}

// mapFile runs one session, streaming records to <out>/<stem>.records.jsonl
// and writing the final result next to it.
func mapFile(ctx context.Context, m *mapping.Mapper, path string, target types.TargetSchema, opts mapOptions) (types.MappingResult, error) {
	body, doc, err := openDocument(ctx, path, opts)
	if err != nil {
		return types.MappingResult{}, err
	}
	defer body.Close()

	s, err := m.Open(ctx, body, doc, target)
	if err != nil {
		return types.MappingResult{}, err
	}

	// Close ends the session and its progress channel before the printer
	// is waited on.
	var wg sync.WaitGroup
	defer wg.Wait()
	defer s.Close()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range s.Progress() {
			fmt.Fprintf(opts.progress, "%s: %-13s %5.1f%%  %d chunks  %s elapsed\n",
				doc.Name, ev.Stage, ev.Percent, ev.ItemsProcessed, ev.Elapsed.Round(time.Millisecond))
		}
	}()

	stem := opts.names.claim(doc.Name)
	if base := strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name)); stem != base {
		logger.Info("map.output.renamed", "path", path, "stem", stem)
	}
	out, err := os.Create(filepath.Join(opts.outDir, stem+".records.jsonl"))
	if err != nil {
		return types.MappingResult{}, err
	}
	defer out.Close()
	enc := json.NewEncoder(out)

	for {
		c, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.MappingResult{}, err
		}
		for _, rec := range c.Records {
			if err := enc.Encode(rec); err != nil {
				return types.MappingResult{}, fmt.Errorf("writing records: %w", err)
			}
		}
	}
	if err := out.Close(); err != nil {
		return types.MappingResult{}, fmt.Errorf("writing records: %w", err)
	}

	res, _ := s.Result()
	if err := writeResult(filepath.Join(opts.outDir, stem+".result."+opts.format), opts.format, res); err != nil {
		return res, err
	}
	return res, nil
}

// openDocument opens a local file or starts streaming an http(s) URL.
// A --media-type flag overrides what the server reports.
func openDocument(ctx context.Context, path string, opts mapOptions) (io.ReadCloser, types.SourceDocument, error) {
	if httputil.IsURL(path) {
		r, err := httputil.Get(ctx, opts.client, path)
		if err != nil {
			return nil, types.SourceDocument{}, err
		}
		doc := types.SourceDocument{Name: r.Name, MediaType: r.MediaType, Size: r.Size}
		if opts.mediaType != "" {
			doc.MediaType = opts.mediaType
		}
		return r.Body, doc, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, types.SourceDocument{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, types.SourceDocument{}, err
	}
	return f, types.SourceDocument{Name: filepath.Base(path), MediaType: opts.mediaType, Size: info.Size()}, nil
}

func writeResult(path, format string, res types.MappingResult) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		data, err = json.MarshalIndent(res, "", "  ")
		data = append(data, '\n')
	default:
		data, err = yaml.Marshal(res)
	}
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

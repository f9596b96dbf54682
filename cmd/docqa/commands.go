package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docqa/internal/domain"
	"docqa/internal/mcpserver"
	"docqa/internal/schedule"
	"docqa/internal/service"
	"docqa/internal/tui"
	"docqa/internal/watcher"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newIngestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file|glob>...",
		Short: "Extract, store and index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{}, func(ctx context.Context, a *app) error {
				report, err := a.svc.IngestFiles(ctx, args)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ingestView(report))
			})
		},
	}
}

func newReindexCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-chunk every stored document and rebuild the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{}, func(ctx context.Context, a *app) error {
				report, err := a.svc.Reindex(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{
					"documents": report.Documents,
					"fragments": report.Fragments,
				})
			})
		},
	}
}

func newQueryCmd(configPath *string) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Print the fragments most similar to the query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{}, func(ctx context.Context, a *app) error {
				hits, err := a.svc.Search(ctx, args[0], topK)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), hitsView(hits))
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of fragments to return (default from config)")
	return cmd
}

func newAskCmd(configPath *string) *cobra.Command {
	var forceRule bool
	var topK int
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{}, func(ctx context.Context, a *app) error {
				ans, err := a.svc.Ask(ctx, service.AskRequest{Question: args[0], ForceRule: forceRule, TopK: topK})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), answerView(ans))
			})
		},
	}
	cmd.Flags().BoolVar(&forceRule, "force-rule", false, "answer with extraction rules even when a language model is configured")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of fragments to retrieve (default from config)")
	return cmd
}

func newAuditCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report corpus statistics and likely configuration issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{}, func(ctx context.Context, a *app) error {
				report, err := a.svc.Audit(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"documents":        report.Documents,
					"chunks":           report.Fragments,
					"avg_chunk_length": report.AvgFragmentLength,
					"issues":           report.Issues,
				})
			})
		},
	}
}

func newHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the catalog and the index snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{}, func(ctx context.Context, a *app) error {
				report := a.svc.Health(ctx)
				status := "ok"
				if !report.OK {
					status = "degraded"
				}
				if err := printJSON(cmd.OutOrStdout(), map[string]any{
					"status":     status,
					"catalog":    report.Catalog,
					"index":      report.Index,
					"fragments":  report.Fragments,
					"generation": report.Generation,
					"llm":        report.LLM,
				}); err != nil {
					return err
				}
				if !report.OK {
					return fmt.Errorf("health check failed")
				}
				return nil
			})
		},
	}
}

func newTUICmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tui [file|glob]...",
		Short: "Interactive search and question answering",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{quiet: true}, func(ctx context.Context, a *app) error {
				summary := ""
				if len(args) > 0 {
					report, err := a.svc.IngestFiles(ctx, args)
					if err != nil {
						return fmt.Errorf("ingest failed: %w", err)
					}
					summary = report.Summary
				}
				if err := a.engine.Load(ctx); err != nil {
					return err
				}
				if summary == "" {
					summary = fmt.Sprintf("%d fragments indexed", a.engine.Stats().Fragments)
				}
				m := tui.New(ctx, a.svc, a.cfg.Index.TopK, summary)
				_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				return err
			})
		},
	}
}

func newWatchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest files dropped into the inbox and keep the index fresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{}, func(ctx context.Context, a *app) error {
				var reindex *schedule.Reindex
				if spec := a.cfg.Schedule.ReindexCron; spec != "" {
					var err error
					if reindex, err = schedule.NewReindex(a.svc, spec); err != nil {
						return err
					}
				}

				g, ctx := errgroup.WithContext(ctx)
				inbox := watcher.NewInbox(a.cfg.Ingest.InboxDir,
					time.Duration(a.cfg.Ingest.DebounceMS)*time.Millisecond,
					a.readers.CanRead, a.svc, a.logger.Named("inbox"))
				g.Go(func() error { return inbox.Run(ctx) })
				g.Go(func() error {
					return a.engine.Watch(ctx, time.Duration(a.cfg.Index.WatchIntervalSecs)*time.Second)
				})
				if reindex != nil {
					reindex.Start(ctx)
					defer reindex.Stop()
				}
				a.logger.Info("watching", zap.String("inbox", a.cfg.Ingest.InboxDir))
				return g.Wait()
			})
		},
	}
}

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve search_documents and ask as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, appOptions{quiet: true}, func(ctx context.Context, a *app) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return a.engine.Watch(ctx, time.Duration(a.cfg.Index.WatchIntervalSecs)*time.Second)
				})
				g.Go(func() error {
					// the client closing stdin ends the session
					defer cancel()
					srv := mcpserver.New(a.svc, version, a.cfg.Index.TopK, a.logger.Named("mcp"))
					return mcpserver.ServeStdio(ctx, srv, os.Stdin, os.Stdout, a.logger)
				})
				return g.Wait()
			})
		},
	}
}

type hitView struct {
	Rank       int     `json:"rank"`
	Score      float64 `json:"score"`
	DocumentID *int64  `json:"document_id"`
	Page       *int    `json:"page,omitempty"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Text       string  `json:"text"`
}

func hitsView(hits []domain.ScoredFragment) []hitView {
	out := make([]hitView, len(hits))
	for i, h := range hits {
		out[i] = hitView{
			Rank:       i + 1,
			Score:      h.Score,
			DocumentID: h.Fragment.DocumentID,
			Page:       h.Fragment.Page,
			Start:      h.Fragment.Start,
			End:        h.Fragment.End,
			Text:       h.Fragment.Text,
		}
	}
	return out
}

func answerView(ans service.Answer) map[string]any {
	citations := make([]map[string]any, len(ans.Citations))
	for i, c := range ans.Citations {
		citations[i] = map[string]any{
			"document_id": c.DocumentID,
			"page":        c.Page,
			"start":       c.Start,
			"end":         c.End,
			"score":       c.Score,
			"evidence":    c.Evidence,
		}
	}
	return map[string]any{
		"question":       ans.Question,
		"answer":         ans.Text,
		"reason":         ans.Reason,
		"similarity_top": ans.SimilarityTop,
		"citations":      citations,
		"retrieved":      hitsView(ans.Retrieved),
	}
}

func ingestView(r service.IngestReport) map[string]any {
	ids := r.DocumentIDs
	if ids == nil {
		ids = []int64{}
	}
	dups := make([]map[string]any, len(r.Duplicates))
	for i, d := range r.Duplicates {
		dups[i] = map[string]any{"filename": d.Filename, "document_id": d.DocumentID}
	}
	skipped := make([]map[string]string, len(r.Skipped))
	for i, s := range r.Skipped {
		skipped[i] = map[string]string{"filename": s.Filename, "reason": s.Reason}
	}
	return map[string]any{
		"document_ids":  ids,
		"duplicates":    dups,
		"skipped":       skipped,
		"new_fragments": r.NewFragments,
		"summary":       r.Summary,
	}
}

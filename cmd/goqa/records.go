package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goqa"
	"github.com/brunobiangulo/goqa/qagen"
	"github.com/brunobiangulo/goqa/server"
)

func (a *app) mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <answers.json>",
		Short: "Insert or merge answered items into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := qagen.ReadItems(args[0])
			if err != nil {
				return err
			}
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			sum, err := e.MergeItems(cmd.Context(), items)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d, merged %d, skipped %d, failed %d\n",
				sum.Inserted, sum.Merged, sum.Skipped, sum.Failed)
			return nil
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <items.json>",
		Short: "Import question/answer pairs without merging",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := qagen.ReadItems(args[0])
			if err != nil {
				return err
			}
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			sum, err := e.ImportPairs(cmd.Context(), items)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d, failed %d\n",
				sum.Inserted, sum.Skipped, sum.Failed)
			return nil
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	var (
		limit  int
		pairs  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored questions by meaning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if pairs {
				matches, err := e.SearchPairs(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, matches)
				}
				if len(matches) == 0 {
					fmt.Fprintln(out, "No results found.")
				}
				for i, m := range matches {
					fmt.Fprintf(out, "  [%d] %s (%.2f)\n", i+1, m.Question, m.Score)
					fmt.Fprintf(out, "      %s\n", truncate(m.Answer, 120))
				}
				return nil
			}

			matches, err := e.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, matches)
			}
			if len(matches) == 0 {
				fmt.Fprintln(out, "No results found.")
			}
			for i, m := range matches {
				fmt.Fprintf(out, "  [%d] %s (%.2f)\n", i+1, m.Question, m.Score)
				fmt.Fprintf(out, "      %s\n", truncate(m.Answer, 120))
				if s := goqa.Snippet(m.Context, m.Answer); s != "" {
					fmt.Fprintf(out, "      > %s\n", s)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of results")
	cmd.Flags().BoolVar(&pairs, "pairs", false, "search imported pairs instead of merged records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func (a *app) documentsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List processed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			docs, err := e.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, docs)
			}
			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, "No documents found.")
				return nil
			}
			for _, d := range docs {
				fmt.Fprintf(out, "%4d  %-6s %-4s %3d records  %s\n", d.ID, d.Status, d.FileType, d.Records, d.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print documents as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Forget a document so the next run processes it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.DeleteDocument(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed document %d\n", id)
			return nil
		},
	})
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func (a *app) serveCmd() *cobra.Command {
	var (
		addr   string
		apiKey string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			srv := &http.Server{
				Addr:        addr,
				Handler:     server.NewHandler(e, server.Options{APIKey: apiKey}),
				ReadTimeout: 30 * time.Second,
				IdleTimeout: 120 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				slog.Info("server starting", "addr", addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if err != http.ErrServerClosed {
					return err
				}
				return nil
			case <-cmd.Context().Done():
			}

			slog.Info("shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "require this bearer token on every route but /health")
	return cmd
}

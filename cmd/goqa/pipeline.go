package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goqa"
)

func (a *app) extractCmd() *cobra.Command {
	var printText bool
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract text and images from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.Extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if printText {
				fmt.Fprintln(out, res.Text)
				return nil
			}
			fmt.Fprintf(out, "extracted %d runes, %d images\n", len([]rune(res.Text)), res.Images.Len())
			fmt.Fprintf(out, "image map: %s\n", e.Paths(args[0]).ImageMap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printText, "print", false, "print the extracted text instead of a summary")
	return cmd
}

func (a *app) chunkCmd() *cobra.Command {
	var (
		size    int
		overlap int
		dedup   bool
	)
	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Extract and chunk a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(func(cfg *goqa.Config) {
				if cmd.Flags().Changed("size") {
					cfg.ChunkSize = size
				}
				if cmd.Flags().Changed("overlap") {
					cfg.ChunkOverlap = overlap
				}
				if dedup {
					cfg.Dedup = true
				}
			})
			if err != nil {
				return err
			}
			defer e.Close()

			chunks, err := e.Chunk(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d chunks written to %s\n", len(chunks), e.Paths(args[0]).Chunks)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 2000, "maximum chunk length in characters")
	cmd.Flags().IntVar(&overlap, "overlap", 100, "characters carried into the next chunk; negative disables")
	cmd.Flags().BoolVar(&dedup, "dedup", false, "drop exact duplicate chunks")
	return cmd
}

func (a *app) questionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "questions <file>",
		Short: "Generate questions from a document's chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			items, err := e.Questions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d questions written to %s\n", len(items), e.Paths(args[0]).Questions)
			return nil
		},
	}
}

func (a *app) answersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answers <file>",
		Short: "Answer a document's generated questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			items, err := e.Answers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d answers written to %s\n", len(items), e.Paths(args[0]).Answers)
			return nil
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	var (
		force  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run <file|dir>",
		Short: "Run the whole pipeline and merge the results",
		Long: `Extracts, chunks, generates questions and answers, and merges the answered
items into the store. A directory is walked and every supported file is
processed; unchanged documents are skipped unless --force is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			e, err := a.engine(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			var opts []goqa.ProcessOption
			if force {
				opts = append(opts, goqa.WithForceReparse())
			}

			var reports []goqa.Report
			if info.IsDir() {
				reports, err = e.ProcessDir(cmd.Context(), args[0], opts...)
			} else {
				var r *goqa.Report
				r, err = e.Process(cmd.Context(), args[0], opts...)
				if r != nil {
					reports = append(reports, *r)
				}
			}

			if asJSON {
				data, jerr := json.MarshalIndent(reports, "", "  ")
				if jerr != nil {
					return jerr
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else {
				printReports(cmd, reports)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reprocess documents whose content is unchanged")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output reports as JSON")
	return cmd
}

func printReports(cmd *cobra.Command, reports []goqa.Report) {
	out := cmd.OutOrStdout()
	for _, r := range reports {
		switch {
		case r.Error != "":
			fmt.Fprintf(out, "FAIL  %s: %s\n", r.Path, r.Error)
		case r.Skipped:
			fmt.Fprintf(out, "SKIP  %s (unchanged)\n", r.Path)
		default:
			fmt.Fprintf(out, "OK    %s: %d chunks, %d questions, %d inserted, %d merged\n",
				r.Path, r.Chunks, r.Questions, r.Inserted, r.Merged)
		}
	}
}

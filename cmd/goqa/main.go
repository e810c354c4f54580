// Command goqa builds question/answer datasets from documents.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goqa"
)

var version = "0.1.0"

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	// open builds the engine; tests replace it.
	open func(cfg goqa.Config) (goqa.Engine, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{open: func(cfg goqa.Config) (goqa.Engine, error) { return goqa.New(cfg) }}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:     "goqa",
		Short:   "Build question/answer datasets from documents",
		Long:    "goqa extracts text and images from txt, docx, pdf and xlsx files, chunks them, asks a chat model for questions and answers, and merges the results into a deduplicated store.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
				return fmt.Errorf("invalid --log-level %q", a.logLevel)
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(
		a.extractCmd(),
		a.chunkCmd(),
		a.questionsCmd(),
		a.answersCmd(),
		a.runCmd(),
		a.mergeCmd(),
		a.importCmd(),
		a.searchCmd(),
		a.documentsCmd(),
		a.serveCmd(),
	)
	return root
}

// loadConfig reads --config when given, otherwise the defaults plus
// GOQA_* environment overrides.
func (a *app) loadConfig() (goqa.Config, error) {
	if a.configPath != "" {
		return goqa.LoadConfig(a.configPath)
	}
	cfg := goqa.DefaultConfig()
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// engine loads the config, lets tweak adjust it and opens the engine.
func (a *app) engine(tweak func(*goqa.Config)) (goqa.Engine, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return a.open(cfg)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunobiangulo/goqa"
	"github.com/brunobiangulo/goqa/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr); err != nil {
		slog.Error("server: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr string) error {
	cfg, err := serverConfig(configPath)
	if err != nil {
		return err
	}

	engine, err := goqa.New(cfg)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr: addr,
		Handler: server.NewHandler(engine, server.Options{
			APIKey:      os.Getenv("GOQA_API_KEY"),
			CORSOrigins: os.Getenv("GOQA_CORS_ORIGINS"),
			UploadDir:   os.Getenv("GOQA_UPLOAD_DIR"),
		}),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No write timeout: a directory ingest can run for minutes.
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server: stopped")
	return nil
}

// serverConfig loads the config file when given, else defaults plus
// GOQA_* overrides. OPENAI_API_KEY fills empty OpenAI keys.
func serverConfig(path string) (goqa.Config, error) {
	cfg := goqa.DefaultConfig()
	if path != "" {
		loaded, err := goqa.LoadConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv()
	}

	key := os.Getenv("OPENAI_API_KEY")
	for _, llmCfg := range []*goqa.LLMConfig{&cfg.Chat, &cfg.Embedding} {
		if llmCfg.APIKey == "" && llmCfg.Provider == "openai" {
			llmCfg.APIKey = key
		}
	}
	return cfg, nil
}

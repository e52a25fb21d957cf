// Command askbridge is a webhook relay between Slack and a generative-answer
// backend. It receives Slack Events API calls, verifies their signatures,
// and handles two shapes of traffic:
//
//   - Workflow-relay messages: form submissions auto-posted by a Slack
//     workflow are scraped for their fields, forwarded as a synthesized query
//     to the answer backend, and the answer is posted back in-thread.
//   - Direct @-mentions: forwarded verbatim as free-form questions, answered
//     in-thread with the asker mentioned.
//
// The Events API's short response deadline is satisfied by acknowledging
// every request immediately and doing the backend and chat calls afterwards
// on a bounded background task.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"askbridge/internal/answerapi"
	"askbridge/internal/config"
	"askbridge/internal/relay"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting askbridge",
		"version", version,
		"commit", commit,
		"listen_addr", cfg.ListenAddr,
		"answer_api", cfg.AnswerAPIURL,
		"answer_api_version", cfg.AnswerAPIVersion)

	if cfg.SlackSigningSecret == "" {
		logger.Warn("SLACK_SIGNING_SECRET not set — event requests will be rejected until it is provided")
	}

	answerer := answerapi.New(answerapi.Config{
		BaseURL: cfg.AnswerAPIURL,
		APIKey:  cfg.AnswerAPIKey,
		Version: cfg.AnswerAPIVersion,
		Timeout: cfg.BackendTimeout,
	})

	runner := relay.NewTaskRunner(cfg.TaskCeiling, logger)

	dispatcher := relay.NewDispatcher(relay.DispatcherConfig{
		Verifier:  relay.NewVerifier(cfg.SlackSigningSecret),
		Extractor: relay.NewExtractor(answerapi.FieldLabels(answerapi.DefaultFieldMap), logger),
		Answerer:  answerer,
		Poster:    relay.NewPoster(cfg.SlackBotToken, cfg.PostTimeout, logger),
		Scheduler: runner,
		Dedup:     relay.NewDedup(cfg.DedupTTL, logger),
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", dispatcher.HandleEvent)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok"}`)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("askbridge ready")

	// Block until shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down askbridge")

	// Graceful HTTP server shutdown, then drain in-flight background tasks
	// so already-acknowledged requests still get their answers posted.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	runner.Drain(cfg.DrainTimeout)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func init() {
	if v := os.Getenv("VERSION"); v != "" {
		version = v
	}
}

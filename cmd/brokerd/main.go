// Command brokerd runs the broker as a standalone server: it bootstraps
// the schema, starts the background loops, and exposes an admin HTTP API
// backed by the read-only Relica repositories.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/adapters/relica"
	"github.com/coregx/broker/cmd/brokerd/internal/api"
	"github.com/coregx/broker/cmd/brokerd/internal/config"
)

// slogLogger adapts log/slog to the broker.Logger interface.
type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debugf(format string, args ...interface{}) { s.l.Debug(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Infof(format string, args ...interface{})  { s.l.Info(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Warnf(format string, args ...interface{})  { s.l.Warn(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Errorf(format string, args ...interface{}) { s.l.Error(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Info(message string)                       { s.l.Info(message) }

func main() {
	handler := slog.NewJSONHandler(os.Stdout, nil)
	logger := &slogLogger{l: slog.New(handler)}

	if err := run(logger); err != nil {
		logger.Errorf("brokerd exited: %v", err)
		os.Exit(1)
	}
}

func run(logger *slogLogger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	brk, err := broker.Open(cfg.Database.DSN,
		broker.WithLogger(logger),
		broker.WithTrimInterval(cfg.Broker.TrimInterval),
		broker.WithStaleTimeout(cfg.Broker.StaleTimeout),
		broker.WithResetStaleInterval(cfg.Broker.ResetStaleInterval),
		broker.WithScheduledInterval(cfg.Broker.ScheduledInterval),
	)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	defer brk.Close()

	adminDB, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.Ping(); err != nil {
		return fmt.Errorf("ping admin connection: %w", err)
	}

	repos := relica.NewRepositories(adminDB, "postgres")
	h := api.NewHandler(brk, repos, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", h.HandleHealth)
	mux.HandleFunc("/api/v1/send", h.HandleSend)
	mux.HandleFunc("/api/v1/subscribe", h.HandleSubscribe)
	mux.HandleFunc("/api/v1/topics", h.HandleListTopics)
	mux.HandleFunc("/api/v1/topics/", routeTopicPath(h))
	mux.HandleFunc("/api/v1/subscriptions/", h.HandleDeadLetters)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: loggingMiddleware(logger, mux),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("brokerd listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.Infof("received signal %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

// routeTopicPath dispatches /api/v1/topics/:name and
// /api/v1/topics/:id/subscriptions depending on the trailing path segment.
func routeTopicPath(h *api.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > len("/api/v1/topics/") && hasSuffix(r.URL.Path, "/subscriptions") {
			h.HandleListSubscriptions(w, r)
			return
		}
		h.HandleGetTopic(w, r)
	}
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

func loggingMiddleware(logger *slogLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Infof("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/document-scan-service/internal/adapters/http"
	"github.com/kirillkom/document-scan-service/internal/bootstrap"
	"github.com/kirillkom/document-scan-service/internal/config"
	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.Scans, app.Dashboards, app.Ingestor).
		WithHistory(app.History).
		WithMetrics(app.HTTPMetrics.Handler(), func(next http.Handler) http.Handler {
			return app.HTTPMetrics.Middleware("api", next)
		}).
		Handler()

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: event streams stay open for the whole
		// observation.
		IdleTimeout: 60 * time.Second,
	}

	evictInterval := time.Duration(cfg.EvictIntervalSeconds) * time.Second
	go app.Scans.Run(ctx, evictInterval)
	go app.Dashboards.Run(ctx, evictInterval)

	go func() {
		app.Logger.Info("command bus subscribed", "subject", cfg.NATSSubject)
		err := app.Bus.SubscribeCommands(ctx, func(cmdCtx context.Context, cmd domain.ScanCommand) error {
			switch cmd.Action {
			case domain.ActionStart:
				return app.Scans.StartProcessing(cmdCtx, cmd.DocumentID, cmd.OwnerID, cmd.Sources, cmd.Instructions)
			case domain.ActionCancel:
				return app.Scans.Cancel(cmdCtx, cmd.DocumentID, cmd.OwnerID)
			case domain.ActionReset:
				return app.Scans.Reset(cmdCtx, cmd.DocumentID)
			default:
				return fmt.Errorf("unknown command action %q", cmd.Action)
			}
		})
		if err != nil && ctx.Err() == nil {
			app.Logger.Error("command bus subscription failed", "error", err)
		}
	}()

	go func() {
		app.Logger.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("api shutdown error", "error", err)
	}
}

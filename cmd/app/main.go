package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market_go/internal/app"
)

const configPath = "configs/config.yaml"

func main() {
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifySrv *http.Server
	if bootstrap.Config.Notify.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/notify", bootstrap.NotifyHandler())
		notifySrv = &http.Server{Addr: bootstrap.Config.Notify.ListenAddr, Handler: mux}
		go func() {
			slog.Info("notify hub listening", slog.String("addr", notifySrv.Addr))
			if err := notifySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("notify server failed", slog.Any("error", err))
			}
		}()
	}

	// SIGHUP re-reads the fee and ban policy without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := bootstrap.ReloadPolicy(configPath); err != nil {
				slog.Error("policy reload failed", slog.Any("error", err))
			}
		}
	}()

	slog.InfoContext(ctx, "market engine operational")
	<-ctx.Done()

	slog.Info("shutting down")
	if notifySrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		notifySrv.Shutdown(shutdownCtx)
	}
}

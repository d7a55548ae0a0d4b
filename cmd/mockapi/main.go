// Package main локальный бэкенд ScoutCard для разработки клиента.
//
// Конфиг читается из CONFIG_PATH; без него используются значения по умолчанию.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/scoutcard/internal/app/mockapi"
	"github.com/magabrotheeeer/scoutcard/internal/config"
	"github.com/magabrotheeeer/scoutcard/internal/lib/logger"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
)

func main() {
	cfg := config.Default()
	if os.Getenv("CONFIG_PATH") != "" {
		cfg = config.MustLoad()
	}
	log := logger.Setup(cfg.Env)

	log.Info("starting mockapi", slog.String("env", cfg.Env), slog.String("address", cfg.MockAPI.Address))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := mockapi.New(ctx, cfg, log)
	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("mockapi stopped gracefully")
}

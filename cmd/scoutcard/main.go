// Package main консольный клиент ScoutCard.
//
// Конфиг читается из CONFIG_PATH; без него используются значения по умолчанию
// и переменные окружения. Логи пишутся в stderr, результат команд в stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/scoutcard/internal/app/scoutcard"
	"github.com/magabrotheeeer/scoutcard/internal/config"
	"github.com/magabrotheeeer/scoutcard/internal/lib/logger"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
)

func main() {
	cfg := config.Default()
	if os.Getenv("CONFIG_PATH") != "" {
		cfg = config.MustLoad()
	}
	log := logger.SetupWithWriter(cfg.Env, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := scoutcard.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start client", sl.Err(err))
		os.Exit(1)
	}

	err = app.Run(ctx, os.Args[1:])
	app.Close()
	if err != nil {
		if !errors.Is(err, scoutcard.ErrUsage) {
			log.Debug("command failed", sl.Err(err))
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

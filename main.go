package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pteich/configstruct"
	"go.uber.org/zap"

	"github.com/pteich/elastic-query-builder/export"
	"github.com/pteich/elastic-query-builder/flags"
	"github.com/pteich/elastic-query-builder/logger"
)

var Version = "dev"

func main() {
	conf := flags.Default()

	if err := configstruct.Parse(&conf); err != nil {
		fmt.Fprintf(os.Stderr, "parsing flags: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(conf.LogEnv, conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug("starting", zap.String("version", Version), zap.String("index", conf.Index))

	if err := export.Run(ctx, &conf, log); err != nil {
		log.Error("export failed", zap.Error(err))
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
}

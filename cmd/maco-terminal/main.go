package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg := parseFlags()
	if *cfg.debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	a, err := buildApp(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to build terminal")
	}
	defer func() { _ = a.device.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("machine_id", *cfg.machineID).Info("maco-terminal starting")
	if err := a.run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("terminal exited with error")
	}
	log.Info("maco-terminal shut down")
}

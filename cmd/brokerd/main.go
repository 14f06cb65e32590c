package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/internal/config"
	"github.com/brokermesh/oms/internal/service"
	"github.com/brokermesh/oms/internal/trademode"
	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/internal/venues"
	"github.com/brokermesh/oms/pkg/bus"
	"github.com/brokermesh/oms/pkg/types"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	log := logrus.WithField("component", "brokerd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)

	mode, err := trademode.ParseMode(cfg.TradingMode)
	if err != nil {
		log.WithError(err).Fatal("invalid trading mode")
	}

	hub := bus.New()

	var bridge *bus.Bridge
	if cfg.NATS.URL != "" {
		bridge, err = bus.NewBridge(cfg.NATS.URL, cfg.NATS.SubjectPrefix, hub)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to NATS")
		}
		log.WithField("url", cfg.NATS.URL).Info("event bridge connected")
	}

	svc := service.New(service.Options{
		Factory:        venues.DefaultFactory(),
		Hub:            hub,
		Mode:           mode,
		HealthInterval: cfg.HealthInterval,
		ProbeTimeout:   cfg.ProbeTimeout,
	})

	for _, entry := range cfg.Venues {
		err := svc.AddBroker(entry.ID, types.VenueType(entry.Type), entry.VenueConfig(), venue.Options{
			Name:    entry.Name,
			Primary: entry.Primary,
		})
		if err != nil {
			log.WithError(err).WithField("venue", entry.ID).Fatal("failed to register venue")
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	connected := svc.ConnectAll(startCtx)
	cancel()

	svc.Start()
	log.WithFields(logrus.Fields{
		"mode":      mode,
		"connected": connected,
		"total":     len(cfg.Venues),
	}).Info("brokerd started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.WithField("signal", s.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	svc.Shutdown(ctx)

	if bridge != nil {
		bridge.Close()
	}
}

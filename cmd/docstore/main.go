// Command docstore is a CLI interface to a multi-tenant document store.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/bobg/subcmd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bobg/docstore/config"
	"github.com/bobg/docstore/metrics"
	"github.com/bobg/docstore/service"
)

type maincmd struct {
	s   *service.Service
	log *zap.Logger
}

func main() {
	configFile := flag.String("config", "", "path to config file (YAML, JSON, or TOML)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics.RegisterCollectors(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Info("Serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("Serving metrics", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()

	s, err := serviceFromConfig(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	err = subcmd.Run(ctx, maincmd{s: s, log: logger}, flag.Args())
	if cerr := s.Close(); cerr != nil {
		logger.Error("Closing store", zap.Error(cerr))
	}
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return subcmd.Commands(
		"create", c.create, subcmd.Params(
			"tenant", subcmd.String, "", "tenant id",
			"name", subcmd.String, "", "document name",
			"type", subcmd.String, "tw5", "document type",
		),
		"delete", c.delete, subcmd.Params(
			"tenant", subcmd.String, "", "tenant id",
			"doc", subcmd.String, "", "document id",
		),
		"get", c.get, subcmd.Params(
			"doc", subcmd.String, "", "document id",
		),
		"info", c.info, subcmd.Params(
			"doc", subcmd.String, "", "document id",
		),
		"list", c.list, subcmd.Params(
			"tenant", subcmd.String, "", "tenant id",
		),
		"put", c.put, subcmd.Params(
			"doc", subcmd.String, "", "document id",
			"file", subcmd.String, "", "file to read content from (default: stdin)",
		),
		"sweep", c.sweep, subcmd.Params(
			"tenant", subcmd.String, "", "tenant id",
		),
	)
}

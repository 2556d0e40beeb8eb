package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"mem-os/pkg/workspace"
)

func main() {
	var (
		workspaceRoot = flag.String("workspace", "", "Path to the mem-os workspace directory")
		metricsAddr   = flag.String("metrics-addr", "", "Address to serve /metrics and /health on (empty disables)")
		watchConfig   = flag.Bool("watch-config", true, "Re-run schema migration when mem-os.json changes on disk")
	)
	flag.Parse()

	if *workspaceRoot == "" {
		if env := os.Getenv("MEM_OS_WORKSPACE"); env != "" {
			*workspaceRoot = env
		} else {
			*workspaceRoot = "."
		}
	}

	logger := logrus.New()
	logger.WithField("workspace", *workspaceRoot).Info("opening workspace")

	ws, err := workspace.Open(*workspaceRoot, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open workspace: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		if err := ws.ServeMetrics(*metricsAddr); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start metrics server: %v\n", err)
			os.Exit(1)
		}
		logger.WithField("addr", *metricsAddr).Info("serving metrics")
	}

	if *watchConfig {
		if err := ws.StartConfigWatch(); err != nil {
			logger.WithError(err).Warn("failed to start config watcher, continuing without it")
		}
	}

	logger.WithField("mode", ws.Mode().Current()).Info("workspace ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	if err := ws.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		os.Exit(1)
	}
}

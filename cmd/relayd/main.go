//go:build linux

package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatrelay/relayd/internal/relay"
)

func main() {
	var port uint
	flag.UintVar(&port, "port", 9090, "TCP port to listen on (binds 127.0.0.1)")
	flag.UintVar(&port, "p", 9090, "shorthand for -port")
	metricsAddr := flag.String("metrics-addr", ":9091", "metrics listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if port > 65535 {
		logger.Error("invalid port", "port", port)
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(promReg)

	srv := relay.NewServer(relay.Config{Port: uint16(port)}, logger, metrics)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		srv.Stop()
	}()

	if err := srv.Run(); err != nil {
		logger.Error("event loop failed", "error", err)
		os.Exit(1)
	}
}

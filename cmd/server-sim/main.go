// server-sim stands in for the control plane of a conformance run: it
// listens to the device topics on the broker and serves the inspection API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/eddielth/msghub-e2e/config"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/mqtt"
	"github.com/eddielth/msghub-e2e/simulator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("server-sim", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML configuration file")
	listen := flags.String("listen", "", "API listen address (default: the host of api.url)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.Logger.Level); err != nil {
		return err
	}

	addr := *listen
	if addr == "" {
		u, err := url.Parse(cfg.API.URL)
		if err != nil {
			return err
		}
		addr = u.Host
	}

	catalog, err := interfaces.Load(cfg.Interfaces.Dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the runner may use the configured client id
	brokerCfg := cfg.MQTT
	brokerCfg.ClientID = ""
	broker, err := mqtt.NewClient(brokerCfg, "msghub-sim")
	if err != nil {
		return err
	}
	if err := broker.Connect(ctx); err != nil {
		return err
	}
	defer broker.Disconnect()

	sim := simulator.New(broker, catalog, cfg.Device.Realm, cfg.API.Token)
	if err := sim.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("inspection API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

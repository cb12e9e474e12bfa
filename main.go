package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/eddielth/msghub-e2e/config"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/runner"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		logger.Error("conformance run failed: %v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func run() error {
	flags := pflag.NewFlagSet("msghub-e2e", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML configuration file")
	logLevel := flags.String("log-level", "", "override logger.level (debug, info, warn, error)")
	showVersion := flags.Bool("version", false, "print the version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println("msghub-e2e", version)
		return nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l := cfg.Logger
	if err := logger.InitFromConfig(l.Level, l.FilePath, l.MaxSize, l.MaxBackups, l.Console); err != nil {
		return err
	}

	// Only the log level can change while a run is in progress
	if *configPath != "" && *logLevel == "" {
		err = config.WatchConfig(*configPath, func(newCfg *config.Config) error {
			return logger.SetLevel(newCfg.Logger.Level)
		})
		if err != nil {
			logger.Warn("failed to watch configuration file: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting conformance run against %s", cfg.MQTT.Broker)
	if err := runner.Run(ctx, cfg); err != nil {
		return err
	}
	logger.Info("conformance run passed")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/muffinhead3/screen-share-app/internal/applog"
	"github.com/muffinhead3/screen-share-app/internal/server"
	"github.com/muffinhead3/screen-share-app/internal/upload"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "screen-share: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("screen-share", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file (watched for changes)")
	host := flags.String("host", "", "interface to listen on")
	port := flags.StringP("port", "p", "", "port to listen on")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn or error")
	logFormat := flags.String("log-format", "", "log format: text or json")
	uploadDir := flags.String("upload-dir", "", "directory for uploaded documents")
	publicURL := flags.String("public-url", "", "base URL used in share links")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("host") {
		cfg.Host = *host
	}
	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}
	if flags.Changed("upload-dir") {
		cfg.UploadDir = *uploadDir
	}
	if flags.Changed("public-url") {
		cfg.PublicBaseURL = *publicURL
	}
	server.SetConfig(cfg)
	active := server.CurrentConfig()

	logger := applog.New(os.Stderr, applog.Options{Level: active.LogLevel, Format: active.LogFormat})
	logger.Info("starting screen-share server", "addr", active.Addr(), "upload_dir", active.UploadDir)

	uploads, err := upload.NewService(active.UploadDir, "/uploads", active.MaxUploadSize)
	if err != nil {
		return err
	}

	srv := server.New(uploads, logger)
	srv.StartHub()

	if *configPath != "" {
		watcher, err := server.WatchConfig(*configPath, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	stats, err := server.NewStatsReporter(srv, active.StatsSchedule, logger)
	if err != nil {
		return err
	}
	stats.Start()
	defer stats.Stop()

	httpServer := server.CreateServer(active.Addr(), srv.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownErr := server.ShutdownServer(httpServer, active.ShutdownTimeout)
	if err := srv.Hub().Shutdown(active.ShutdownTimeout); err != nil {
		logger.Warn("hub shutdown incomplete", "error", err)
	}
	return shutdownErr
}

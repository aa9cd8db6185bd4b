// eventsender sends usage events to the FlexPrice ingestion API.
//
// Events are read from newline-delimited JSON files, one event per line:
//
//	eventsender -file events.ndjson
//	cat events.ndjson | eventsender -file -
//	eventsender -watch /var/spool/events
//
// It can also run a local ingestion server, to test clients without reaching the real API:
//
//	eventsender -serve 127.0.0.1:8080
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flexprice/go-kit/asyncprocessor"
	kitconfig "github.com/flexprice/go-kit/config"
	"github.com/flexprice/go-kit/events"
	"github.com/flexprice/go-kit/ingestserver"
	"github.com/flexprice/go-kit/observability"
	slogkit "github.com/flexprice/go-kit/slog"
	"github.com/flexprice/go-kit/tailnet"
)

const (
	appName    = "eventsender"
	appVersion = "0.1.0"
)

type flags struct {
	Config string
	File   string
	Watch  string
	Serve  string
}

func main() {
	f := flags{}
	flag.StringVar(&f.Config, "config", "", "Path to the config file; defaults to the value of EVENTSENDER_CONFIG, or config.yaml in the current folder, ~/.eventsender, or /etc/eventsender")
	flag.StringVar(&f.File, "file", "", "Send the events in the NDJSON file at this path ('-' for stdin), then exit")
	flag.StringVar(&f.Watch, "watch", "", "Send the events in NDJSON files in this folder, watching for new files until interrupted")
	flag.StringVar(&f.Serve, "serve", "", "Run a local ingestion server listening on this address")
	flag.Parse()

	err := f.validate()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg := &Config{}
	err = kitconfig.LoadConfig(cfg, kitconfig.LoadConfigOpts{
		Path:    f.Config,
		EnvVar:  "EVENTSENDER_CONFIG",
		DirName: appName,
	})
	if err != nil {
		var cfgErr *kitconfig.ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.LogFatal(nil)
		}
		slogkit.FatalError(nil, "Failed to load configuration", err)
		return
	}

	err = run(f, cfg)
	if err != nil {
		slogkit.FatalError(nil, "Error running "+appName, err)
	}
}

func (f flags) validate() error {
	n := 0
	for _, v := range []string{f.File, f.Watch, f.Serve} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return errors.New("exactly one of -file, -watch, or -serve is required")
	}
	return nil
}

func run(f flags, cfg *Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tel, err := observability.Init(ctx, observability.InitOpts{
		Config:     cfg,
		AppName:    appName,
		AppVersion: appVersion,
		LogLevel:   cfg.LogLevel,
		LogJSON:    cfg.LogJSON,
		MeterName:  appName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		shutdownErr := tel.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			slog.Warn("Error shutting down observability", slog.Any("error", shutdownErr))
		}
	}()

	log := tel.Log
	log.Debug("Loaded configuration", slog.String("path", cfg.GetLoadedConfigPath()))

	if f.Serve != "" {
		return serve(ctx, f.Serve, cfg, log)
	}

	if cfg.APIKey == "" {
		return errors.New("the 'apiKey' configuration option is required to send events")
	}

	opts := []events.Option{
		events.WithUserAgent(appName + "/" + appVersion),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, events.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, events.WithTimeout(cfg.RequestTimeout))
	}
	api, err := events.NewAPIClient(cfg.APIKey, opts...)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	asyncCfg := cfg.AsyncConfig()
	asyncCfg.Logger = log
	asyncCfg.Meter = tel.Meter
	client := events.NewAsyncClientWithConfig(api, asyncCfg)
	client.Start()

	// Stop the client when the app is interrupted
	unregister := asyncprocessor.StopOnDone(ctx, client, cfg.GetShutdownTimeout())

	s := newSender(client, log)
	switch {
	case f.File != "":
		err = s.SendFile(ctx, f.File)
	case f.Watch != "":
		err = s.WatchSpool(ctx, f.Watch)
	}
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Interrupted
		err = nil
	}

	unregister()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer stopCancel()
	stopErr := client.Close(stopCtx)
	if stopErr != nil {
		log.Warn("Event sender did not stop cleanly", slog.Any("error", stopErr))
	}

	summary := s.Summary()
	if pending := client.Pending(); pending > 0 {
		log.Warn("Some events were not sent", slog.Int("pending", pending))
	}
	fmt.Println(summary.String())

	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d events could not be delivered", summary.Failed)
	}
	return nil
}

func serve(ctx context.Context, addr string, cfg *Config, log *slog.Logger) error {
	srv := ingestserver.New(ingestserver.Options{
		APIKeys: cfg.ServerAPIKeys,
		Logger:  log,
		Sink: func(ctx context.Context, event *events.Event) error {
			log.InfoContext(ctx, "Received event",
				slog.String("eventId", event.EventID),
				slog.String("eventName", event.EventName),
				slog.String("externalCustomerId", event.ExternalCustomerID),
				slog.Any("properties", event.Properties),
			)
			return nil
		},
	})

	// Stop all listeners if one of them fails
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		tailnetErr error
	)
	if cfg.Tailnet.Enabled {
		node, err := tailnet.Up(ctx, tailnet.Options{
			Hostname:  cfg.Tailnet.Hostname,
			AuthKey:   cfg.Tailnet.AuthKey,
			StateDir:  cfg.Tailnet.StateDir,
			Ephemeral: cfg.Tailnet.Ephemeral,
			Tags:      cfg.Tailnet.Tags,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		defer node.Close() //nolint:errcheck

		ln, err := node.ListenTLS(cfg.Tailnet.Port)
		if err != nil {
			return err
		}
		log.Info("Local ingestion server available on the tailnet", slog.String("url", node.URL(cfg.Tailnet.Port)))
		wg.Go(func() {
			tailnetErr = srv.Serve(ctx, ln)
			cancel()
		})
	}

	err := srv.ListenAndServe(ctx, addr)
	cancel()
	wg.Wait()
	log.Info("Local ingestion server stopped", slog.Int64("accepted", srv.Accepted()))
	return errors.Join(err, tailnetErr)
}

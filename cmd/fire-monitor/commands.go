package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/application/alerts"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/monitor"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/notifications"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/spf13/cobra"
)

const shutdownTimeout time.Duration = 10 * time.Second

func newServeCommand(serviceVersion string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sensor pipelines and the api",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), loadSettings(v), serviceVersion)
		},
	}

	registerFlags(cmd.Flags())

	return cmd
}

func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sensors and contacts from the configuration file into the store and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s := loadSettings(v)

			cfg, err := loadSeedConfig(ctx, s.ConfigFile)
			if err != nil {
				return fmt.Errorf("could not load configuration file %s: %w", s.ConfigFile, err)
			}

			store, err := newStore(ctx, s)
			if err != nil {
				return err
			}
			defer store.Close()

			return seed(ctx, store, cfg)
		},
	}

	registerFlags(cmd.Flags())

	return cmd
}

func serve(ctx context.Context, s settings, serviceVersion string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.GetLoggerFromContext(ctx)
	logger.Info().Msg("starting up ...")

	cleanupTracing, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	if err != nil {
		logger.Error().Err(err).Msg("failed to init tracing")
	}
	defer cleanupTracing()

	store, err := newStore(ctx, s)
	if err != nil {
		return err
	}
	defer store.Close()

	var notificationCfg *notifications.EventConfig

	cfg, err := loadSeedConfig(ctx, s.ConfigFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("could not load configuration file %s: %w", s.ConfigFile, err)
		}
		logger.Warn().Str("file", s.ConfigFile).Msg("no configuration file found, using stored sensors and contacts")
	} else {
		if err = seed(ctx, store, cfg); err != nil {
			return err
		}
		notificationCfg = cfg.Notifications
	}

	latest, closeCache, err := newCache(ctx, s)
	if err != nil {
		return err
	}
	defer closeCache()

	var pub publisher = noopPublisher{}
	var messenger messaging.MsgContext

	if s.RabbitMQHost != "" {
		messenger, err = messaging.Initialize(messaging.LoadConfiguration(serviceName, logger))
		if err != nil {
			return fmt.Errorf("failed to init messaging: %w", err)
		}
		defer messenger.Close()

		pub = messenger
	}

	app := newApp(ctx, s, store, latest, monitor.DeviceOpener{ReadTimeout: s.ReadTimeout}, pub, notificationCfg)

	if messenger != nil {
		messenger.RegisterTopicMessageHandler(alerts.ReportReceivedTopic, alerts.ReportReceivedHandler(app.alerts))
	}

	if startErr := app.supervisor.StartAll(ctx); startErr != nil {
		logger.Error().Err(startErr).Msg("failed to start sensor pipelines")
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	if s.WatchInterval > 0 {
		go app.supervisor.Watch(watchCtx, s.WatchInterval)
	}
	app.watchdog.Start(ctx)

	server := &http.Server{
		Addr:    net.JoinHostPort(s.ListenAddress, s.ServicePort),
		Handler: app.router,
		BaseContext: func(net.Listener) context.Context {
			return logging.NewContextWithLogger(context.Background(), logger)
		},
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("starting to listen for connections")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down ...")
	case err = <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	app.webEvents.Shutdown()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("failed to shut down api server")
	}

	app.watchdog.Stop()
	stopWatch()
	app.supervisor.StopAll()
	app.supervisor.Wait()
	app.dispatcher.Wait()

	logger.Info().Msg("shutdown complete")

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/application/alerts"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/ingest"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/monitor"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/notifications"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/watchdog"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/webevents"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/cache"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/internal/pkg/presentation/api"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/go-chi/chi/v5"
)

type publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

// noopPublisher stands in for the message bus when no broker is configured.
type noopPublisher struct{}

func (noopPublisher) PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error {
	log := logging.GetLoggerFromContext(ctx)
	log.Debug().Str("topic", message.TopicName()).Msg("no message bus configured, dropping event")
	return nil
}

type fanout []publisher

func (f fanout) PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishOnTopic(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type application struct {
	alerts     alerts.AlertService
	ingester   ingest.Ingester
	dispatcher *notifications.Dispatcher
	supervisor *monitor.Supervisor
	watchdog   watchdog.Watchdog
	webEvents  webevents.WebEvents
	router     *chi.Mux
}

func newApp(ctx context.Context, s settings, store storage.Store, latest cache.LatestReadings, opener monitor.Opener, bus publisher, notificationCfg *notifications.EventConfig) *application {
	webEvents := webevents.New()
	pub := fanout{bus, webEvents}

	var events notifications.EventSender
	if notificationCfg != nil && len(notificationCfg.Notifications) > 0 {
		events = notifications.NewEventSender(notificationCfg)
	}

	dispatcher := notifications.NewDispatcher(
		store,
		notifications.NewTwilioSender(s.Twilio),
		notifications.NewSMTPSender(s.SMTP),
		events,
		pub,
		notifications.Config{
			AttemptTimeout: s.AttemptTimeout,
			MaxConcurrent:  s.MaxDispatches,
		},
	)

	alertSvc := alerts.New(store, pub, dispatcher)
	ingester := ingest.New(store, latest, alerts.NewEvaluator(alertSvc))
	supervisor := monitor.NewSupervisor(store, ingester, opener, monitor.Config{})
	wd := watchdog.New(store, pub, s.OfflineWindow, s.WatchInterval)

	r := api.RegisterHandlers(ctx, router.New(serviceName), api.Services{
		Alerts:    alertSvc,
		Ingester:  ingester,
		Sensors:   store,
		Latest:    latest,
		Pipelines: supervisor,
		Notifier:  dispatcher,
		Events:    webEvents.Handler(),
	})

	return &application{
		alerts:     alertSvc,
		ingester:   ingester,
		dispatcher: dispatcher,
		supervisor: supervisor,
		watchdog:   wd,
		webEvents:  webEvents,
		router:     r,
	}
}

func newStore(ctx context.Context, s settings) (storage.Store, error) {
	log := logging.GetLoggerFromContext(ctx)

	var store storage.Store
	var err error

	if s.usePostgres() {
		log.Info().Str("host", s.Postgres.Host).Msg("using postgres store")
		store, err = storage.New(ctx, storage.NewConfig(s.Postgres.Host, s.Postgres.User, s.Postgres.Password, s.Postgres.Port, s.Postgres.DBName, s.Postgres.SSLMode))
	} else {
		log.Info().Str("path", s.SQLitePath).Msg("using embedded store")
		store, err = database.New(database.NewSQLiteConnector(ctx, s.SQLitePath))
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	if err = store.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("could not initialize database: %w", err)
	}

	return store, nil
}

type cacheCloser func() error

func newCache(ctx context.Context, s settings) (cache.LatestReadings, cacheCloser, error) {
	log := logging.GetLoggerFromContext(ctx)

	if s.RedisAddr == "" {
		log.Info().Msg("using in-process latest reading cache")
		return cache.NewRegistry(s.CacheTTL, time.Now), func() error { return nil }, nil
	}

	c := cache.NewRedisCache(cache.NewRedisClient(s.RedisAddr, s.RedisPassword, s.RedisDB), s.CacheTTL)
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("could not reach redis at %s: %w", s.RedisAddr, err)
	}

	log.Info().Str("addr", s.RedisAddr).Msg("using redis latest reading cache")

	return c, c.Close, nil
}

func loadSeedConfig(ctx context.Context, path string) (*seedConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseSeedConfig(f)
}

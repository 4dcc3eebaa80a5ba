package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/ingest"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/pkg/types"
)

type State string

const (
	StateStopped    State = "stopped"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
)

const maxSensors int = 1000

var ErrSupervisorStopped = errors.New("supervisor is stopped")

// SensorSource is the part of storage.Store the supervisor reads sensor configuration from.
type SensorSource interface {
	GetSensor(ctx context.Context, sensorID string) (types.Sensor, error)
	QuerySensors(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Sensor], error)
}

type Config struct {
	OpenRetries      uint64
	OpenBackoff      time.Duration
	RestartDelay     time.Duration
	PollInterval     time.Duration
	IngestRetries    uint64
	IngestRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.OpenRetries == 0 {
		c.OpenRetries = 5
	}
	if c.OpenBackoff <= 0 {
		c.OpenBackoff = time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.IngestRetries == 0 {
		c.IngestRetries = 3
	}
	if c.IngestRetryDelay <= 0 {
		c.IngestRetryDelay = 200 * time.Millisecond
	}
	return c
}

type pipeline struct {
	sensorID string
	cancel   context.CancelFunc
	state    State
	link     Link
}

// Supervisor runs one pipeline per active sensor. It is the only owner of device links.
type Supervisor struct {
	sensors  SensorSource
	ingester ingest.Ingester
	opener   Opener
	cfg      Config

	mu        sync.Mutex
	pipelines map[string]*pipeline
	stopped   bool
	wg        sync.WaitGroup
}

func NewSupervisor(sensors SensorSource, ingester ingest.Ingester, opener Opener, cfg Config) *Supervisor {
	return &Supervisor{
		sensors:   sensors,
		ingester:  ingester,
		opener:    opener,
		cfg:       cfg.withDefaults(),
		pipelines: make(map[string]*pipeline),
	}
}

// StartAll starts a pipeline for every active sensor with a port that does not already
// have one. It returns as soon as the pipelines are started. Once StopAll has been
// called it starts nothing and returns ErrSupervisorStopped.
func (s *Supervisor) StartAll(ctx context.Context) error {
	sensors, err := s.sensors.QuerySensors(ctx, storage.WithActive(true), storage.WithPort(), storage.WithLimit(maxSensors))
	if err != nil {
		return fmt.Errorf("could not list sensors: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSupervisorStopped
	}

	for _, sensor := range sensors.Data {
		if _, ok := s.pipelines[sensor.SensorID]; ok {
			continue
		}

		pctx, cancel := context.WithCancel(ctx)
		p := &pipeline{
			sensorID: sensor.SensorID,
			cancel:   cancel,
			state:    StateConnecting,
		}
		s.pipelines[sensor.SensorID] = p

		s.wg.Add(1)
		go s.run(pctx, p)
	}

	return nil
}

// Watch calls StartAll every interval until ctx is done or the supervisor is stopped,
// so that newly activated sensors and pipelines that gave up connecting are picked up.
func (s *Supervisor) Watch(ctx context.Context, interval time.Duration) {
	log := logging.GetLoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.StartAll(ctx)
			if errors.Is(err, ErrSupervisorStopped) {
				return
			}
			if err != nil {
				log.Error().Err(err).Msg("failed to start sensor pipelines")
			}
		}
	}
}

// StopAll cancels every pipeline and closes its link without waiting for the
// pipelines to exit. No pipelines are started after it returns.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	for _, p := range s.pipelines {
		p.cancel()
		if p.link != nil {
			p.link.Close()
		}
	}
}

func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) State(sensorID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pipelines[sensorID]; ok {
		return p.state
	}

	return StateStopped
}

func (s *Supervisor) setState(p *pipeline, state State, link Link) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.state = state
	p.link = link
}

func (s *Supervisor) remove(p *pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.state = StateStopped
	p.link = nil
	if s.pipelines[p.sensorID] == p {
		delete(s.pipelines, p.sensorID)
	}
}

func (s *Supervisor) run(ctx context.Context, p *pipeline) {
	defer s.wg.Done()
	defer s.remove(p)
	defer p.cancel()

	ctx, log := logging.With(ctx, "sensor_id", p.sensorID)

	for {
		sensor, err := s.sensors.GetSensor(ctx, p.sensorID)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("could not load sensor, stopping pipeline")
			}
			return
		}
		if !sensor.Active || sensor.Port == "" {
			log.Info().Msg("sensor is no longer active, stopping pipeline")
			return
		}

		s.setState(p, StateConnecting, nil)

		link, err := s.open(ctx, sensor.Port)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("port", sensor.Port).Msg("giving up connecting to sensor")
			}
			return
		}

		s.setState(p, StateRunning, link)
		metrics.PipelinesRunning.Inc()
		log.Info().Str("port", sensor.Port).Msg("sensor pipeline running")

		err = s.session(ctx, sensor, link)

		link.Close()
		metrics.PipelinesRunning.Dec()
		s.setState(p, StateStopped, nil)

		if ctx.Err() != nil {
			log.Info().Msg("sensor pipeline stopped")
			return
		}

		log.Warn().Err(err).Msgf("sensor link lost, restarting in %s", s.cfg.RestartDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartDelay):
		}
	}
}

func (s *Supervisor) open(ctx context.Context, port string) (Link, error) {
	log := logging.GetLoggerFromContext(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.OpenBackoff
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	var link Link

	err := backoff.RetryNotify(func() error {
		l, err := s.opener.Open(ctx, port)
		if err != nil {
			return err
		}
		link = l
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.OpenRetries), ctx), func(err error, d time.Duration) {
		log.Warn().Err(err).Msgf("could not open %s, retrying in %s", port, d)
	})

	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		link.Close()
		return nil, ctx.Err()
	}

	return link, nil
}

// session reads lines until the link fails or ctx is done. Lines are ingested in the
// order they arrive.
func (s *Supervisor) session(ctx context.Context, sensor types.Sensor, link Link) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := link.ReadLine(ctx)
		if err != nil {
			return err
		}

		if line == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		s.ingest(ctx, sensor, string(line))
	}
}

func (s *Supervisor) ingest(ctx context.Context, sensor types.Sensor, line string) {
	b := backoff.NewConstantBackOff(s.cfg.IngestRetryDelay)

	err := backoff.Retry(func() error {
		result, err := s.ingester.Ingest(ctx, sensor, line)
		if err == nil {
			return nil
		}

		// a stored reading must not be stored again
		if result.Reading.ReadingID != "" || errors.Is(err, ingest.ErrMalformed) || errors.Is(err, storage.ErrSensorNotFound) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.IngestRetries), ctx))

	if err != nil && !errors.Is(err, ingest.ErrMalformed) {
		log := logging.GetLoggerFromContext(ctx)
		log.Error().Err(err).Msg("failed to ingest reading")
	}
}

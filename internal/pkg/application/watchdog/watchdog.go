package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
)

const (
	DefaultWindow   time.Duration = 5 * time.Minute
	DefaultInterval time.Duration = time.Minute

	maxSensors int = 1000
)

type SensorSource interface {
	QuerySensors(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Sensor], error)
}

type Publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

type Watchdog interface {
	Start(ctx context.Context)
	Stop()
	Check(ctx context.Context) error
}

type watchdogImpl struct {
	sensors   SensorSource
	publisher Publisher
	window    time.Duration
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	offline map[string]bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a watchdog that reports active sensors that have not delivered a reading
// within window. Each sensor is reported once when it goes quiet and once when it
// is heard from again.
func New(sensors SensorSource, publisher Publisher, window, interval time.Duration) Watchdog {
	if window <= 0 {
		window = DefaultWindow
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &watchdogImpl{
		sensors:   sensors,
		publisher: publisher,
		window:    window,
		interval:  interval,
		now:       time.Now,
		offline:   make(map[string]bool),
	}
}

func (w *watchdogImpl) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go w.run(ctx, w.done)
}

func (w *watchdogImpl) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *watchdogImpl) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	log := logging.GetLoggerFromContext(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Check(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("could not check sensors")
			}
		}
	}
}

func (w *watchdogImpl) Check(ctx context.Context) error {
	sensors, err := w.sensors.QuerySensors(ctx, storage.WithActive(true), storage.WithLimit(maxSensors))
	if err != nil {
		return err
	}

	now := w.now().UTC()

	for _, s := range sensors.Data {
		online := s.Online(now, w.window)

		w.mu.Lock()
		wasOffline, known := w.offline[s.SensorID]
		w.offline[s.SensorID] = !online
		w.mu.Unlock()

		if online && wasOffline {
			w.publish(ctx, s.SensorID, &types.SensorObserved{SensorID: s.SensorID, LastUpdate: *s.LastUpdate, Timestamp: now})
		} else if !online && (!known || !wasOffline) {
			w.publish(ctx, s.SensorID, &types.SensorNotObserved{SensorID: s.SensorID, LastUpdate: s.LastUpdate, Timestamp: now})
		}
	}

	return nil
}

func (w *watchdogImpl) publish(ctx context.Context, sensorID string, msg messaging.TopicMessage) {
	ctx, log := logging.With(ctx, "sensor_id", sensorID)

	if _, ok := msg.(*types.SensorNotObserved); ok {
		log.Warn().Msgf("sensor has not been observed within %s", w.window)
	} else {
		log.Info().Msg("sensor observed again")
	}

	if err := w.publisher.PublishOnTopic(ctx, msg); err != nil {
		log.Error().Err(err).Msgf("failed to publish %s", msg.TopicName())
	}
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/application/alerts"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/cache"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/google/uuid"
)

type Result struct {
	Reading types.Reading  `json:"reading"`
	Outcome alerts.Outcome `json:"outcome"`
}

// ReadingStore is the part of storage.Store the ingester writes to.
type ReadingStore interface {
	GetSensor(ctx context.Context, sensorID string) (types.Sensor, error)
	AddReading(ctx context.Context, reading types.Reading) error
}

type Ingester interface {
	Ingest(ctx context.Context, sensor types.Sensor, line string) (Result, error)
	Record(ctx context.Context, sensor types.Sensor, value float64) (Result, error)
	TestReading(ctx context.Context, sensorID string, value float64) (Result, error)
}

type ingester struct {
	store     ReadingStore
	latest    cache.LatestReadings
	evaluator alerts.Evaluator
	now       func() time.Time
}

func New(store ReadingStore, latest cache.LatestReadings, evaluator alerts.Evaluator) Ingester {
	return &ingester{
		store:     store,
		latest:    latest,
		evaluator: evaluator,
		now:       time.Now,
	}
}

// Ingest parses a raw line from a sensor and records the value. Lines that cannot be
// parsed are logged and dropped without touching any state.
func (i *ingester) Ingest(ctx context.Context, sensor types.Sensor, line string) (Result, error) {
	value, err := Parse(line)
	if err != nil {
		metrics.ReadingsMalformed.WithLabelValues(sensor.SensorID).Inc()
		log := logging.GetLoggerFromContext(ctx)
		log.Warn().Err(err).Str("sensor_id", sensor.SensorID).Msg("discarding malformed reading")
		return Result{}, err
	}

	return i.Record(ctx, sensor, value)
}

// Record persists a value for the sensor, refreshes the latest reading and evaluates
// the value against the sensor threshold.
func (i *ingester) Record(ctx context.Context, sensor types.Sensor, value float64) (Result, error) {
	ctx, log := logging.With(ctx, "sensor_id", sensor.SensorID)

	reading := types.Reading{
		ReadingID:  uuid.NewString(),
		SensorID:   sensor.SensorID,
		Value:      value,
		ObservedAt: i.now().UTC(),
	}

	if err := i.store.AddReading(ctx, reading); err != nil {
		return Result{}, fmt.Errorf("could not store reading: %w", err)
	}

	metrics.ReadingsIngested.WithLabelValues(sensor.SensorID).Inc()

	if err := i.latest.Put(ctx, reading); err != nil {
		log.Error().Err(err).Msg("failed to update latest reading")
	}

	lastReading, lastUpdate := reading.Value, reading.ObservedAt
	sensor.LastReading = &lastReading
	sensor.LastUpdate = &lastUpdate

	outcome, err := i.evaluator.Evaluate(ctx, sensor, value)
	if err != nil {
		return Result{Reading: reading, Outcome: outcome}, fmt.Errorf("could not evaluate reading: %w", err)
	}

	log.Debug().Float64("value", value).Bool("triggered", outcome.Triggered).Msg("reading recorded")

	return Result{Reading: reading, Outcome: outcome}, nil
}

// TestReading injects a value for a sensor as if the sensor had reported it.
func (i *ingester) TestReading(ctx context.Context, sensorID string, value float64) (Result, error) {
	sensor, err := i.store.GetSensor(ctx, sensorID)
	if err != nil {
		return Result{}, err
	}

	result, err := i.Record(ctx, sensor, value)
	if err != nil && !errors.Is(err, context.Canceled) {
		log := logging.GetLoggerFromContext(ctx)
		log.Error().Err(err).Str("sensor_id", sensorID).Msg("test reading failed")
	}

	return result, err
}

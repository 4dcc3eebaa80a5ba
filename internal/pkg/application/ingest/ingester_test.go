package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/application/alerts"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/cache"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"
)

func TestStructuredAndBareLinesAreEquivalent(t *testing.T) {
	is, ctx, ing, db, _ := testSetup(t)
	sensor := kitchen()

	structured, err := ing.Ingest(ctx, sensor, `{"value": 22.5, "type": "smoke"}`)
	is.NoErr(err)

	bare, err := ing.Ingest(ctx, sensor, "22.5")
	is.NoErr(err)

	is.Equal(structured.Reading.Value, bare.Reading.Value)
	is.Equal(structured.Outcome, bare.Outcome)
	is.True(!bare.Outcome.Triggered)

	readings, err := db.QueryReadings(ctx, storage.WithSensorID(sensor.SensorID))
	is.NoErr(err)
	is.Equal(len(readings.Data), 2)
	is.Equal(readings.Data[0].Value, readings.Data[1].Value)
}

func TestMalformedLineChangesNothing(t *testing.T) {
	is, ctx, ing, db, latest := testSetup(t)
	sensor := kitchen()

	for _, line := range []string{"garbage", `{"value": "hot"}`, "NaN", ""} {
		_, err := ing.Ingest(ctx, sensor, line)
		is.True(errors.Is(err, ErrMalformed))
	}

	readings, err := db.QueryReadings(ctx, storage.WithSensorID(sensor.SensorID))
	is.NoErr(err)
	is.Equal(len(readings.Data), 0)

	s, err := db.GetSensor(ctx, sensor.SensorID)
	is.NoErr(err)
	is.True(s.LastReading == nil)

	_, err = latest.Get(ctx, sensor.SensorID)
	is.True(errors.Is(err, cache.ErrCacheMiss))

	active, err := db.QueryAlerts(ctx)
	is.NoErr(err)
	is.Equal(len(active.Data), 0)
}

func TestIngestUpdatesSensorAndCache(t *testing.T) {
	is, ctx, ing, db, latest := testSetup(t)

	result, err := ing.Ingest(ctx, kitchen(), "12.25")
	is.NoErr(err)

	s, err := db.GetSensor(ctx, "kitchen")
	is.NoErr(err)
	is.Equal(*s.LastReading, 12.25)
	is.True(s.LastUpdate.Equal(result.Reading.ObservedAt))

	cached, err := latest.Get(ctx, "kitchen")
	is.NoErr(err)
	is.Equal(cached.ReadingID, result.Reading.ReadingID)
}

func TestIngestAboveThresholdTriggersOnce(t *testing.T) {
	is, ctx, ing, db, _ := testSetup(t)

	first, err := ing.Ingest(ctx, kitchen(), `{"value": 95, "type": "smoke"}`)
	is.NoErr(err)
	is.True(first.Outcome.Created)
	is.Equal(first.Outcome.Severity, types.SeverityCritical)

	second, err := ing.Ingest(ctx, kitchen(), "50")
	is.NoErr(err)
	is.True(second.Outcome.Triggered)
	is.True(!second.Outcome.Created)
	is.Equal(second.Outcome.Alert.AlertID, first.Outcome.Alert.AlertID)

	active, err := db.QueryAlerts(ctx, storage.WithStatus(types.AlertStatusActive))
	is.NoErr(err)
	is.Equal(len(active.Data), 1)
}

func TestTestReading(t *testing.T) {
	is, ctx, ing, _, _ := testSetup(t)

	result, err := ing.TestReading(ctx, "kitchen", 10)
	is.NoErr(err)
	is.True(!result.Outcome.Triggered)

	result, err = ing.TestReading(ctx, "kitchen", 100)
	is.NoErr(err)
	is.True(result.Outcome.Created)

	_, err = ing.TestReading(ctx, "attic", 100)
	is.True(errors.Is(err, storage.ErrSensorNotFound))
}

func testSetup(t *testing.T) (*is.I, context.Context, Ingester, *database.Database, cache.LatestReadings) {
	is := is.New(t)
	ctx := context.Background()

	db, err := database.New(database.NewSQLiteConnector(ctx, ""))
	is.NoErr(err)
	is.NoErr(db.Initialize(ctx))
	t.Cleanup(db.Close)

	is.NoErr(db.SaveSensor(ctx, kitchen()))

	m := &messaging.MsgContextMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return nil
		},
	}

	svc := alerts.New(db, m, &alerts.NotifierMock{})
	latest := cache.NewRegistry(5*time.Minute, nil)

	return is, ctx, New(db, latest, alerts.NewEvaluator(svc)), db, latest
}

func kitchen() types.Sensor {
	return types.Sensor{
		SensorID:  "kitchen",
		Name:      "Kitchen Smoke Detector",
		Kind:      types.SensorKindSmoke,
		Place:     "Main Building - Kitchen Area",
		Active:    true,
		Threshold: 30,
		Port:      "tcp://127.0.0.1:7001",
	}
}

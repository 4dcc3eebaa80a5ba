package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

func testSetup(t *testing.T) (context.Context, *Storage, types.Sensor) {
	ctx := context.Background()

	config := NewConfig("localhost", "postgres", "password", "5432", "postgres", "disable")

	s, err := New(ctx, config)
	if err != nil {
		t.SkipNow()
	}

	err = s.Initialize(ctx)
	if err != nil {
		t.SkipNow()
	}

	sensor := types.Sensor{
		SensorID:  "sensor-" + uuid.NewString(),
		Name:      "Kitchen Smoke Detector",
		Kind:      types.SensorKindSmoke,
		Place:     "Main Building - Kitchen Area",
		Location:  &types.Location{Latitude: 40.7128, Longitude: -74.0060},
		Active:    true,
		Threshold: 30.0,
		Port:      "/dev/ttyUSB0",
	}

	err = s.SaveSensor(ctx, sensor)
	if err != nil {
		t.SkipNow()
	}

	t.Cleanup(s.Close)

	return ctx, s, sensor
}

func TestAddReadingUpdatesSensor(t *testing.T) {
	is := is.New(t)
	ctx, s, sensor := testSetup(t)

	observedAt := time.Now().UTC().Truncate(time.Millisecond)
	err := s.AddReading(ctx, types.Reading{ReadingID: uuid.NewString(), SensorID: sensor.SensorID, Value: 17.5, ObservedAt: observedAt})
	is.NoErr(err)

	stored, err := s.GetSensor(ctx, sensor.SensorID)
	is.NoErr(err)
	is.Equal(*stored.LastReading, 17.5)
	is.True(stored.LastUpdate.Equal(observedAt))

	latest, err := s.LatestReading(ctx, sensor.SensorID)
	is.NoErr(err)
	is.Equal(latest.Value, 17.5)
}

func TestAddReadingForUnknownSensorWritesNothing(t *testing.T) {
	is := is.New(t)
	ctx, s, _ := testSetup(t)

	unknown := "no-such-sensor-" + uuid.NewString()
	err := s.AddReading(ctx, types.Reading{ReadingID: uuid.NewString(), SensorID: unknown, Value: 1, ObservedAt: time.Now()})
	is.True(errors.Is(err, ErrSensorNotFound))

	readings, err := s.QueryReadings(ctx, WithSensorID(unknown))
	is.NoErr(err)
	is.Equal(len(readings.Data), 0)
}

func TestCreateAlertDeduplicatesConcurrentInserts(t *testing.T) {
	is := is.New(t)
	ctx, s, sensor := testSetup(t)

	const n = 8
	var wg sync.WaitGroup
	createdCount := make(chan bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.CreateAlert(ctx, newSensorAlert(sensor))
			is.NoErr(err)
			createdCount <- created
		}()
	}

	wg.Wait()
	close(createdCount)

	created := 0
	for c := range createdCount {
		if c {
			created++
		}
	}
	is.Equal(created, 1)

	active, err := s.QueryAlerts(ctx, WithSensorID(sensor.SensorID), WithStatus(types.AlertStatusActive))
	is.NoErr(err)
	is.Equal(len(active.Data), 1)
}

func TestResolvedAlertAllowsNewActiveAlert(t *testing.T) {
	is := is.New(t)
	ctx, s, sensor := testSetup(t)

	first, created, err := s.CreateAlert(ctx, newSensorAlert(sensor))
	is.NoErr(err)
	is.True(created)

	now := time.Now().UTC()
	ok, err := s.UpdateAlertStatus(ctx, first.AlertID, types.AlertStatusResolved, &now)
	is.NoErr(err)
	is.True(ok)

	ok, err = s.UpdateAlertStatus(ctx, first.AlertID, types.AlertStatusResolved, &now)
	is.NoErr(err)
	is.True(!ok)

	_, created, err = s.CreateAlert(ctx, newSensorAlert(sensor))
	is.NoErr(err)
	is.True(created)
}

func TestSetNotificationFlags(t *testing.T) {
	is := is.New(t)
	ctx, s, sensor := testSetup(t)

	alert, _, err := s.CreateAlert(ctx, newSensorAlert(sensor))
	is.NoErr(err)

	err = s.SetNotificationFlags(ctx, alert.AlertID, true, false)
	is.NoErr(err)

	stored, err := s.GetAlert(ctx, alert.AlertID)
	is.NoErr(err)
	is.True(stored.SMSSent)
	is.True(!stored.EmailSent)
}

func newSensorAlert(sensor types.Sensor) types.Alert {
	reading := 95.0
	sensorID := sensor.SensorID
	return types.Alert{
		AlertID:       uuid.NewString(),
		Title:         "Fire Detected - " + sensor.Name,
		Origin:        types.AlertOriginSensor,
		Status:        types.AlertStatusActive,
		Severity:      types.SeverityCritical,
		Location:      sensor.Location,
		Address:       sensor.Place,
		SensorID:      &sensorID,
		SensorReading: &reading,
		CreatedAt:     time.Now().UTC(),
	}
}

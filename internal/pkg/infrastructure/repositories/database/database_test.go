package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

func testSetup(t *testing.T) (context.Context, *Database, *is.I) {
	is := is.New(t)
	ctx := context.Background()

	db, err := New(NewSQLiteConnector(ctx, ""))
	is.NoErr(err)
	is.NoErr(db.Initialize(ctx))
	t.Cleanup(db.Close)

	is.NoErr(db.SaveSensor(ctx, types.Sensor{
		SensorID:  "kitchen",
		Name:      "Kitchen Smoke Detector",
		Kind:      types.SensorKindSmoke,
		Place:     "Main Building - Kitchen Area",
		Location:  &types.Location{Latitude: 40.7128, Longitude: -74.0060},
		Active:    true,
		Threshold: 30,
		Port:      "/dev/ttyUSB0",
	}))
	is.NoErr(db.SaveSensor(ctx, types.Sensor{
		SensorID:  "garage",
		Name:      "Parking Garage Flame Detector",
		Kind:      types.SensorKindFlame,
		Active:    false,
		Threshold: 40,
	}))

	return ctx, db, is
}

func TestSaveSensorKeepsLastReading(t *testing.T) {
	ctx, db, is := testSetup(t)

	is.NoErr(db.AddReading(ctx, types.Reading{ReadingID: uuid.NewString(), SensorID: "kitchen", Value: 12.5, ObservedAt: time.Now()}))

	sensor, err := db.GetSensor(ctx, "kitchen")
	is.NoErr(err)
	sensor.Threshold = 35
	is.NoErr(db.SaveSensor(ctx, sensor))

	sensor, err = db.GetSensor(ctx, "kitchen")
	is.NoErr(err)
	is.Equal(sensor.Threshold, 35.0)
	is.Equal(*sensor.LastReading, 12.5)
	is.Equal(sensor.Location.Latitude, 40.7128)
}

func TestQuerySensorsWithPort(t *testing.T) {
	ctx, db, is := testSetup(t)

	sensors, err := db.QuerySensors(ctx, storage.WithActive(true), storage.WithPort())
	is.NoErr(err)
	is.Equal(len(sensors.Data), 1)
	is.Equal(sensors.Data[0].SensorID, "kitchen")

	all, err := db.QuerySensors(ctx)
	is.NoErr(err)
	is.Equal(all.TotalCount, uint64(2))
}

func TestAddReadingForUnknownSensorWritesNothing(t *testing.T) {
	ctx, db, is := testSetup(t)

	err := db.AddReading(ctx, types.Reading{ReadingID: uuid.NewString(), SensorID: "unknown", Value: 99, ObservedAt: time.Now()})
	is.True(errors.Is(err, storage.ErrSensorNotFound))

	readings, err := db.QueryReadings(ctx)
	is.NoErr(err)
	is.Equal(len(readings.Data), 0)
}

func TestLatestReading(t *testing.T) {
	ctx, db, is := testSetup(t)

	now := time.Now().UTC()
	is.NoErr(db.AddReading(ctx, types.Reading{ReadingID: uuid.NewString(), SensorID: "kitchen", Value: 1, ObservedAt: now.Add(-2 * time.Second)}))
	is.NoErr(db.AddReading(ctx, types.Reading{ReadingID: uuid.NewString(), SensorID: "kitchen", Value: 2, ObservedAt: now}))

	latest, err := db.LatestReading(ctx, "kitchen")
	is.NoErr(err)
	is.Equal(latest.Value, 2.0)

	_, err = db.LatestReading(ctx, "garage")
	is.True(errors.Is(err, storage.ErrNoRows))
}

func TestCreateAlertDeduplicatesConcurrentInserts(t *testing.T) {
	ctx, db, is := testSetup(t)

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	ids := map[string]bool{}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, ok, err := db.CreateAlert(ctx, sensorAlert("kitchen"))
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[a.AlertID] = true
		}()
	}
	wg.Wait()

	is.Equal(created, 1)
	is.Equal(len(ids), 1)

	active, err := db.QueryAlerts(ctx, storage.WithSensorID("kitchen"), storage.WithStatus(types.AlertStatusActive))
	is.NoErr(err)
	is.Equal(len(active.Data), 1)
}

func TestAlertsWithoutSensorAreNotDeduplicated(t *testing.T) {
	ctx, db, is := testSetup(t)

	for i := 0; i < 3; i++ {
		_, created, err := db.CreateAlert(ctx, types.Alert{
			AlertID:   uuid.NewString(),
			Title:     "Community Fire Report",
			Origin:    types.AlertOriginCommunity,
			Status:    types.AlertStatusActive,
			Severity:  types.SeverityMedium,
			Location:  &types.Location{Latitude: 62.39, Longitude: 17.30},
			CreatedAt: time.Now(),
			Reporter:  &types.Reporter{Name: "Anna"},
		})
		is.NoErr(err)
		is.True(created)
	}

	alerts, err := db.QueryAlerts(ctx, storage.WithOrigin(types.AlertOriginCommunity))
	is.NoErr(err)
	is.Equal(len(alerts.Data), 3)
	is.Equal(alerts.Data[0].Reporter.Name, "Anna")
	is.True(alerts.Data[0].SensorID == nil)
}

func TestUpdateAlertStatusOnlyFromActive(t *testing.T) {
	ctx, db, is := testSetup(t)

	a, _, err := db.CreateAlert(ctx, sensorAlert("kitchen"))
	is.NoErr(err)

	now := time.Now().UTC()
	ok, err := db.UpdateAlertStatus(ctx, a.AlertID, types.AlertStatusResolved, &now)
	is.NoErr(err)
	is.True(ok)

	ok, err = db.UpdateAlertStatus(ctx, a.AlertID, types.AlertStatusFalseAlarm, nil)
	is.NoErr(err)
	is.True(!ok)

	stored, err := db.GetAlert(ctx, a.AlertID)
	is.NoErr(err)
	is.Equal(stored.Status, types.AlertStatusResolved)
	is.True(stored.ResolvedAt != nil)

	_, created, err := db.CreateAlert(ctx, sensorAlert("kitchen"))
	is.NoErr(err)
	is.True(created)
}

func TestSetNotificationFlags(t *testing.T) {
	ctx, db, is := testSetup(t)

	a, _, err := db.CreateAlert(ctx, sensorAlert("kitchen"))
	is.NoErr(err)

	is.NoErr(db.SetNotificationFlags(ctx, a.AlertID, true, false))

	stored, err := db.GetAlert(ctx, a.AlertID)
	is.NoErr(err)
	is.True(stored.SMSSent)
	is.True(!stored.EmailSent)

	err = db.SetNotificationFlags(ctx, "missing", true, true)
	is.True(errors.Is(err, storage.ErrNoRows))
}

func TestQueryContacts(t *testing.T) {
	ctx, db, is := testSetup(t)

	is.NoErr(db.SaveContact(ctx, types.EmergencyContact{ContactID: "c1", Name: "Fire Chief Rodriguez", Phone: "+1555123456", Role: "fire_chief", Active: true}))
	is.NoErr(db.SaveContact(ctx, types.EmergencyContact{ContactID: "c2", Name: "Retired Dispatcher", Email: "old@example.com", Role: "dispatcher", Active: false}))

	contacts, err := db.QueryContacts(ctx, storage.WithActive(true))
	is.NoErr(err)
	is.Equal(len(contacts.Data), 1)
	is.Equal(contacts.Data[0].Phone, "+1555123456")
	is.Equal(contacts.Data[0].Email, "")
}

func sensorAlert(sensorID string) types.Alert {
	reading := 95.0
	return types.Alert{
		AlertID:       uuid.NewString(),
		Title:         "Fire Detected - " + sensorID,
		Origin:        types.AlertOriginSensor,
		Status:        types.AlertStatusActive,
		Severity:      types.SeverityCritical,
		Address:       sensorID,
		SensorID:      &sensorID,
		SensorReading: &reading,
		CreatedAt:     time.Now().UTC(),
	}
}

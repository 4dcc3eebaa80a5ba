package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/jackc/pgx/v5"
)

const sensorColumns = `sensor_id, name, kind, place, latitude, longitude, active, threshold, port, last_reading, last_update`

func (s *Storage) GetSensor(ctx context.Context, sensorID string) (types.Sensor, error) {
	if sensorID == "" {
		return types.Sensor{}, ErrNoID
	}

	sensors, err := s.querySensors(ctx, NewCondition(WithSensorID(sensorID), WithLimit(1)))
	if err != nil {
		return types.Sensor{}, err
	}

	if len(sensors.Data) == 0 {
		return types.Sensor{}, ErrSensorNotFound
	}

	return sensors.Data[0], nil
}

func (s *Storage) QuerySensors(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Sensor], error) {
	condition := NewCondition(conditions...)
	if condition.sortBy == "" {
		condition.sortBy = "name"
	}

	return s.querySensors(ctx, condition)
}

func (s *Storage) querySensors(ctx context.Context, condition *Condition) (types.Collection[types.Sensor], error) {
	sortBy := condition.SortBy()
	if sortBy == "" {
		sortBy = "sensor_id"
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER () AS count
		FROM sensors
		%s
		ORDER BY %s %s
		%s
	`, sensorColumns, condition.Where(), sortBy, condition.SortOrder(), offsetLimit(condition))

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Sensor]{}, err
	}

	var sensorID, name, kind string
	var place, port *string
	var lat, lon, lastReading *float64
	var active bool
	var threshold float64
	var lastUpdate *time.Time
	var count int64

	sensors := make([]types.Sensor, 0)

	_, err = pgx.ForEachRow(rows, []any{&sensorID, &name, &kind, &place, &lat, &lon, &active, &threshold, &port, &lastReading, &lastUpdate, &count}, func() error {
		sensor := types.Sensor{
			SensorID:  sensorID,
			Name:      name,
			Kind:      types.SensorKind(kind),
			Active:    active,
			Threshold: threshold,
		}

		if place != nil {
			sensor.Place = *place
		}
		if port != nil {
			sensor.Port = *port
		}
		if lat != nil && lon != nil {
			sensor.Location = &types.Location{Latitude: *lat, Longitude: *lon}
		}
		if lastReading != nil {
			v := *lastReading
			sensor.LastReading = &v
		}
		if lastUpdate != nil {
			t := lastUpdate.UTC()
			sensor.LastUpdate = &t
		}

		sensors = append(sensors, sensor)
		return nil
	})
	if err != nil {
		return types.Collection[types.Sensor]{}, err
	}

	return types.Collection[types.Sensor]{
		Data:       sensors,
		Count:      uint64(len(sensors)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(count),
	}, nil
}

// SaveSensor inserts or updates the configured attributes of a sensor. The last reading
// is owned by the ingest path and is left untouched.
func (s *Storage) SaveSensor(ctx context.Context, sensor types.Sensor) error {
	if sensor.SensorID == "" {
		return ErrNoID
	}

	args := pgx.NamedArgs{
		"sensor_id": sensor.SensorID,
		"name":      sensor.Name,
		"kind":      string(sensor.Kind),
		"place":     nullable(sensor.Place),
		"latitude":  nil,
		"longitude": nil,
		"active":    sensor.Active,
		"threshold": sensor.Threshold,
		"port":      nullable(sensor.Port),
	}

	if sensor.Location != nil {
		args["latitude"] = sensor.Location.Latitude
		args["longitude"] = sensor.Location.Longitude
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sensors (sensor_id, name, kind, place, latitude, longitude, active, threshold, port)
		VALUES (@sensor_id, @name, @kind, @place, @latitude, @longitude, @active, @threshold, @port)
		ON CONFLICT (sensor_id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			place = EXCLUDED.place,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			active = EXCLUDED.active,
			threshold = EXCLUDED.threshold,
			port = EXCLUDED.port,
			modified_on = CURRENT_TIMESTAMP
	`, args)
	if err != nil {
		return errors.Join(ErrStoreFailed, err)
	}

	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/jackc/pgx/v5"
)

// AddReading stores a reading and moves the sensor's last reading forward in a single
// transaction. Nothing is written when the sensor does not exist.
func (s *Storage) AddReading(ctx context.Context, reading types.Reading) (err error) {
	if reading.ReadingID == "" || reading.SensorID == "" {
		return ErrNoID
	}

	args := pgx.NamedArgs{
		"reading_id":  reading.ReadingID,
		"sensor_id":   reading.SensorID,
		"value":       reading.Value,
		"observed_at": reading.ObservedAt.UTC(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE sensors
		SET last_reading = @value, last_update = @observed_at, modified_on = CURRENT_TIMESTAMP
		WHERE sensor_id = @sensor_id
	`, args)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		err = ErrSensorNotFound
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO readings (reading_id, sensor_id, value, observed_at)
		VALUES (@reading_id, @sensor_id, @value, @observed_at)
	`, args)
	if err != nil {
		err = errors.Join(ErrStoreFailed, err)
		return err
	}

	err = tx.Commit(ctx)
	return err
}

func (s *Storage) LatestReading(ctx context.Context, sensorID string) (types.Reading, error) {
	readings, err := s.QueryReadings(ctx, WithSensorID(sensorID), WithSortBy("observed_at"), WithSortDesc(true), WithLimit(1))
	if err != nil {
		return types.Reading{}, err
	}

	if len(readings.Data) == 0 {
		return types.Reading{}, ErrNoRows
	}

	return readings.Data[0], nil
}

func (s *Storage) QueryReadings(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Reading], error) {
	condition := NewCondition(conditions...)
	if condition.sortBy == "" {
		condition.sortBy = "observed_at"
		condition.sortOrder = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT reading_id, sensor_id, value, observed_at, count(*) OVER () AS count
		FROM readings
		%s
		ORDER BY %s %s
		%s
	`, condition.Where(), condition.SortBy(), condition.SortOrder(), offsetLimit(condition))

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Reading]{}, err
	}

	var readingID, sensorID string
	var value float64
	var observedAt time.Time
	var count int64

	readings := make([]types.Reading, 0)

	_, err = pgx.ForEachRow(rows, []any{&readingID, &sensorID, &value, &observedAt, &count}, func() error {
		readings = append(readings, types.Reading{
			ReadingID:  readingID,
			SensorID:   sensorID,
			Value:      value,
			ObservedAt: observedAt.UTC(),
		})
		return nil
	})
	if err != nil {
		return types.Collection[types.Reading]{}, err
	}

	return types.Collection[types.Reading]{
		Data:       readings,
		Count:      uint64(len(readings)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(count),
	}, nil
}

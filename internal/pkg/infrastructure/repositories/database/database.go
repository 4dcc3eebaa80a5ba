package database

import (
	"context"
	"errors"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Database is an embedded storage.Store backed by gorm. It is used for local
// development and in tests where no PostgreSQL server is available.
type Database struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(connect ConnectorFunc) (*Database, error) {
	impl, log, err := connect()
	if err != nil {
		return nil, err
	}

	return &Database{
		db:  impl,
		log: log,
	}, nil
}

func (d *Database) Initialize(ctx context.Context) error {
	err := d.db.WithContext(ctx).AutoMigrate(&sensorRecord{}, &readingRecord{}, &alertRecord{}, &contactRecord{})
	if err != nil {
		return err
	}

	return d.db.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS alerts_one_active_per_sensor_idx ON alerts (sensor_id) WHERE status = 'active' AND sensor_id IS NOT NULL`,
	).Error
}

func (d *Database) Close() {
	if sqldb, err := d.db.DB(); err == nil {
		sqldb.Close()
	}
}

func (d *Database) GetSensor(ctx context.Context, sensorID string) (types.Sensor, error) {
	if sensorID == "" {
		return types.Sensor{}, storage.ErrNoID
	}

	var r sensorRecord
	err := d.db.WithContext(ctx).Where("sensor_id = ?", sensorID).Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Sensor{}, storage.ErrSensorNotFound
		}
		return types.Sensor{}, err
	}

	return r.toSensor(), nil
}

func (d *Database) QuerySensors(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Sensor], error) {
	c := storage.NewCondition(conditions...)

	var records []sensorRecord
	total, err := d.find(ctx, &sensorRecord{}, c, "name", &records)
	if err != nil {
		return types.Collection[types.Sensor]{}, err
	}

	sensors := make([]types.Sensor, 0, len(records))
	for _, r := range records {
		sensors = append(sensors, r.toSensor())
	}

	return collection(sensors, c, total), nil
}

func (d *Database) SaveSensor(ctx context.Context, sensor types.Sensor) error {
	if sensor.SensorID == "" {
		return storage.ErrNoID
	}

	r := toSensorRecord(sensor)

	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sensor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "place", "latitude", "longitude", "active", "threshold", "port", "updated_at"}),
	}).Create(&r).Error
	if err != nil {
		return errors.Join(storage.ErrStoreFailed, err)
	}

	return nil
}

func (d *Database) AddReading(ctx context.Context, reading types.Reading) error {
	if reading.ReadingID == "" || reading.SensorID == "" {
		return storage.ErrNoID
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		observedAt := reading.ObservedAt.UTC()

		result := tx.Model(&sensorRecord{}).
			Where("sensor_id = ?", reading.SensorID).
			Updates(map[string]any{"last_reading": reading.Value, "last_update": observedAt})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrSensorNotFound
		}

		r := readingRecord{
			ReadingID:  reading.ReadingID,
			SensorID:   reading.SensorID,
			Value:      reading.Value,
			ObservedAt: observedAt,
		}

		if err := tx.Create(&r).Error; err != nil {
			return errors.Join(storage.ErrStoreFailed, err)
		}

		return nil
	})
}

func (d *Database) LatestReading(ctx context.Context, sensorID string) (types.Reading, error) {
	var r readingRecord
	err := d.db.WithContext(ctx).
		Where("sensor_id = ?", sensorID).
		Order("observed_at DESC").
		Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Reading{}, storage.ErrNoRows
		}
		return types.Reading{}, err
	}

	return r.toReading(), nil
}

func (d *Database) QueryReadings(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Reading], error) {
	c := storage.NewCondition(conditions...)

	var records []readingRecord
	total, err := d.find(ctx, &readingRecord{}, c, "observed_at DESC", &records)
	if err != nil {
		return types.Collection[types.Reading]{}, err
	}

	readings := make([]types.Reading, 0, len(records))
	for _, r := range records {
		readings = append(readings, r.toReading())
	}

	return collection(readings, c, total), nil
}

// CreateAlert checks for an active alert on the same sensor and inserts the candidate
// inside one transaction. The partial unique index backs the check should another
// process share the database file.
func (d *Database) CreateAlert(ctx context.Context, alert types.Alert) (types.Alert, bool, error) {
	if alert.AlertID == "" {
		return types.Alert{}, false, storage.ErrNoID
	}

	var result types.Alert
	var created bool

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if alert.SensorID != nil {
			existing, err := activeAlertForSensor(tx, *alert.SensorID)
			if err == nil {
				result = existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		r := toAlertRecord(alert)
		if err := tx.Create(&r).Error; err != nil {
			return err
		}

		result, created = r.toAlert(), true
		return nil
	})

	if err != nil && alert.SensorID != nil {
		existing, lookupErr := activeAlertForSensor(d.db.WithContext(ctx), *alert.SensorID)
		if lookupErr == nil {
			d.log.Debug().Str("sensor_id", *alert.SensorID).Msg("insert lost a race against an active alert")
			return existing, false, nil
		}
	}

	if err != nil {
		return types.Alert{}, false, errors.Join(storage.ErrStoreFailed, err)
	}

	return result, created, nil
}

func activeAlertForSensor(tx *gorm.DB, sensorID string) (types.Alert, error) {
	var r alertRecord
	err := tx.Where("sensor_id = ? AND status = ?", sensorID, string(types.AlertStatusActive)).Take(&r).Error
	if err != nil {
		return types.Alert{}, err
	}
	return r.toAlert(), nil
}

func (d *Database) GetAlert(ctx context.Context, alertID string) (types.Alert, error) {
	if alertID == "" {
		return types.Alert{}, storage.ErrNoID
	}

	var r alertRecord
	err := d.db.WithContext(ctx).Where("alert_id = ?", alertID).Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Alert{}, storage.ErrNoRows
		}
		return types.Alert{}, err
	}

	return r.toAlert(), nil
}

func (d *Database) QueryAlerts(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Alert], error) {
	c := storage.NewCondition(append([]storage.ConditionFunc{storage.WithLimit(storage.DefaultLimit)}, conditions...)...)

	var records []alertRecord
	total, err := d.find(ctx, &alertRecord{}, c, "created_at DESC", &records)
	if err != nil {
		return types.Collection[types.Alert]{}, err
	}

	alerts := make([]types.Alert, 0, len(records))
	for _, r := range records {
		alerts = append(alerts, r.toAlert())
	}

	return collection(alerts, c, total), nil
}

func (d *Database) UpdateAlertStatus(ctx context.Context, alertID string, status types.AlertStatus, resolvedAt *time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Model(&alertRecord{}).
		Where("alert_id = ? AND status = ?", alertID, string(types.AlertStatusActive)).
		Updates(map[string]any{"status": string(status), "resolved_at": resolvedAt})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (d *Database) SetNotificationFlags(ctx context.Context, alertID string, smsSent, emailSent bool) error {
	result := d.db.WithContext(ctx).Model(&alertRecord{}).
		Where("alert_id = ?", alertID).
		Updates(map[string]any{"sms_sent": smsSent, "email_sent": emailSent})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNoRows
	}

	return nil
}

func (d *Database) QueryContacts(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.EmergencyContact], error) {
	c := storage.NewCondition(conditions...)

	var records []contactRecord
	total, err := d.find(ctx, &contactRecord{}, c, "name", &records)
	if err != nil {
		return types.Collection[types.EmergencyContact]{}, err
	}

	contacts := make([]types.EmergencyContact, 0, len(records))
	for _, r := range records {
		contacts = append(contacts, r.toContact())
	}

	return collection(contacts, c, total), nil
}

func (d *Database) SaveContact(ctx context.Context, contact types.EmergencyContact) error {
	if contact.ContactID == "" {
		return storage.ErrNoID
	}

	r := toContactRecord(contact)
	err := d.db.WithContext(ctx).Save(&r).Error
	if err != nil {
		return errors.Join(storage.ErrStoreFailed, err)
	}

	return nil
}

func (d *Database) find(ctx context.Context, model any, c *storage.Condition, defaultOrder string, dest any) (int64, error) {
	query := where(d.db.WithContext(ctx).Model(model), c)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}

	order := defaultOrder
	if c.SortBy() != "" {
		order = c.SortBy() + " " + c.SortOrder()
	}

	query = query.Order(order)
	if c.HasOffset() {
		query = query.Offset(c.Offset())
	}
	if c.HasLimit() {
		query = query.Limit(c.Limit())
	}

	return total, query.Find(dest).Error
}

func where(query *gorm.DB, c *storage.Condition) *gorm.DB {
	if c.AlertID != "" {
		query = query.Where("alert_id = ?", c.AlertID)
	}
	if c.SensorID != "" {
		query = query.Where("sensor_id = ?", c.SensorID)
	}
	if len(c.Status) > 0 {
		status := make([]string, 0, len(c.Status))
		for _, s := range c.Status {
			status = append(status, string(s))
		}
		query = query.Where("status IN ?", status)
	}
	if c.Origin != "" {
		query = query.Where("origin = ?", string(c.Origin))
	}
	if c.Active != nil {
		query = query.Where("active = ?", *c.Active)
	}
	if c.HasPort {
		query = query.Where("port IS NOT NULL AND port <> ''")
	}
	return query
}

func collection[T any](data []T, c *storage.Condition, total int64) types.Collection[T] {
	return types.Collection[T]{
		Data:       data,
		Count:      uint64(len(data)),
		Offset:     uint64(c.Offset()),
		Limit:      uint64(c.Limit()),
		TotalCount: uint64(total),
	}
}

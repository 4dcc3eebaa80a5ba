package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/jackc/pgx/v5"
)

const alertColumns = `alert_id, title, description, origin, status, severity, latitude, longitude, address, sensor_id, sensor_reading, created_at, resolved_at, sms_sent, email_sent, reporter_name, reporter_phone, reporter_email`

// CreateAlert inserts an alert unless the originating sensor already has an active one,
// in which case the existing alert is returned and created is false. The partial unique
// index on alerts(sensor_id) makes the check and the insert a single atomic step.
func (s *Storage) CreateAlert(ctx context.Context, alert types.Alert) (a types.Alert, created bool, err error) {
	if alert.AlertID == "" {
		return types.Alert{}, false, ErrNoID
	}

	args := alertArgs(alert)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Alert{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO alerts (alert_id, title, description, origin, status, severity, latitude, longitude, address,
			sensor_id, sensor_reading, created_at, sms_sent, email_sent, reporter_name, reporter_phone, reporter_email)
		VALUES (@alert_id, @title, @description, @origin, @status, @severity, @latitude, @longitude, @address,
			@sensor_id, @sensor_reading, @created_at, @sms_sent, @email_sent, @reporter_name, @reporter_phone, @reporter_email)
		ON CONFLICT (sensor_id) WHERE status = 'active' AND sensor_id IS NOT NULL DO NOTHING
	`, args)
	if err != nil {
		err = errors.Join(ErrStoreFailed, err)
		return types.Alert{}, false, err
	}

	if tag.RowsAffected() == 1 {
		if err = tx.Commit(ctx); err != nil {
			return types.Alert{}, false, err
		}
		return alert, true, nil
	}

	if alert.SensorID == nil {
		err = ErrStoreFailed
		return types.Alert{}, false, err
	}

	existing, err := queryAlerts(ctx, tx, NewCondition(WithSensorID(*alert.SensorID), WithStatus(types.AlertStatusActive), WithLimit(1)))
	if err != nil {
		return types.Alert{}, false, err
	}

	if len(existing.Data) == 0 {
		err = ErrNoRows
		return types.Alert{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return types.Alert{}, false, err
	}

	return existing.Data[0], false, nil
}

func (s *Storage) GetAlert(ctx context.Context, alertID string) (types.Alert, error) {
	if alertID == "" {
		return types.Alert{}, ErrNoID
	}

	alerts, err := queryAlerts(ctx, s.pool, NewCondition(WithAlertID(alertID), WithLimit(1)))
	if err != nil {
		return types.Alert{}, err
	}

	if len(alerts.Data) == 0 {
		return types.Alert{}, ErrNoRows
	}

	return alerts.Data[0], nil
}

func (s *Storage) QueryAlerts(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Alert], error) {
	condition := NewCondition(conditions...)
	if condition.sortBy == "" {
		condition.sortBy = "created_at"
		condition.sortOrder = "DESC"
	}
	if condition.limit == nil {
		limit := DefaultLimit
		condition.limit = &limit
	}

	return queryAlerts(ctx, s.pool, condition)
}

// UpdateAlertStatus moves an active alert to a final status. It reports false when the
// alert exists but is no longer active.
func (s *Storage) UpdateAlertStatus(ctx context.Context, alertID string, status types.AlertStatus, resolvedAt *time.Time) (bool, error) {
	args := pgx.NamedArgs{
		"alert_id":    alertID,
		"status":      string(status),
		"resolved_at": resolvedAt,
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts
		SET status = @status, resolved_at = @resolved_at
		WHERE alert_id = @alert_id AND status = 'active'
	`, args)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

func (s *Storage) SetNotificationFlags(ctx context.Context, alertID string, smsSent, emailSent bool) error {
	args := pgx.NamedArgs{
		"alert_id":   alertID,
		"sms_sent":   smsSent,
		"email_sent": emailSent,
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET sms_sent = @sms_sent, email_sent = @email_sent WHERE alert_id = @alert_id
	`, args)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}

	return nil
}

func queryAlerts(ctx context.Context, q querier, condition *Condition) (types.Collection[types.Alert], error) {
	sortBy := condition.SortBy()
	if sortBy == "" {
		sortBy = "created_at"
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER () AS count
		FROM alerts
		%s
		ORDER BY %s %s
		%s
	`, alertColumns, condition.Where(), sortBy, condition.SortOrder(), offsetLimit(condition))

	rows, err := q.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Alert]{}, err
	}

	var alertID, title, origin, status, severity string
	var description, address, sensorID, reporterName, reporterPhone, reporterEmail *string
	var lat, lon, sensorReading *float64
	var createdAt time.Time
	var resolvedAt *time.Time
	var smsSent, emailSent bool
	var count int64

	alerts := make([]types.Alert, 0)

	_, err = pgx.ForEachRow(rows, []any{
		&alertID, &title, &description, &origin, &status, &severity, &lat, &lon, &address,
		&sensorID, &sensorReading, &createdAt, &resolvedAt, &smsSent, &emailSent,
		&reporterName, &reporterPhone, &reporterEmail, &count,
	}, func() error {
		alert := types.Alert{
			AlertID:   alertID,
			Title:     title,
			Origin:    types.AlertOrigin(origin),
			Status:    types.AlertStatus(status),
			Severity:  types.Severity(severity),
			CreatedAt: createdAt.UTC(),
			SMSSent:   smsSent,
			EmailSent: emailSent,
		}

		if description != nil {
			alert.Description = *description
		}
		if address != nil {
			alert.Address = *address
		}
		if lat != nil && lon != nil {
			alert.Location = &types.Location{Latitude: *lat, Longitude: *lon}
		}
		if sensorID != nil {
			id := *sensorID
			alert.SensorID = &id
		}
		if sensorReading != nil {
			v := *sensorReading
			alert.SensorReading = &v
		}
		if resolvedAt != nil {
			t := resolvedAt.UTC()
			alert.ResolvedAt = &t
		}
		if reporterName != nil || reporterPhone != nil || reporterEmail != nil {
			alert.Reporter = &types.Reporter{}
			if reporterName != nil {
				alert.Reporter.Name = *reporterName
			}
			if reporterPhone != nil {
				alert.Reporter.Phone = *reporterPhone
			}
			if reporterEmail != nil {
				alert.Reporter.Email = *reporterEmail
			}
		}

		alerts = append(alerts, alert)
		return nil
	})
	if err != nil {
		return types.Collection[types.Alert]{}, err
	}

	return types.Collection[types.Alert]{
		Data:       alerts,
		Count:      uint64(len(alerts)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(count),
	}, nil
}

func alertArgs(alert types.Alert) pgx.NamedArgs {
	args := pgx.NamedArgs{
		"alert_id":       alert.AlertID,
		"title":          alert.Title,
		"description":    nullable(alert.Description),
		"origin":         string(alert.Origin),
		"status":         string(alert.Status),
		"severity":       string(alert.Severity),
		"latitude":       nil,
		"longitude":      nil,
		"address":        nullable(alert.Address),
		"sensor_id":      alert.SensorID,
		"sensor_reading": alert.SensorReading,
		"created_at":     alert.CreatedAt.UTC(),
		"sms_sent":       alert.SMSSent,
		"email_sent":     alert.EmailSent,
		"reporter_name":  nil,
		"reporter_phone": nil,
		"reporter_email": nil,
	}

	if alert.Location != nil {
		args["latitude"] = alert.Location.Latitude
		args["longitude"] = alert.Location.Longitude
	}

	if alert.Reporter != nil {
		args["reporter_name"] = nullable(alert.Reporter.Name)
		args["reporter_phone"] = nullable(alert.Reporter.Phone)
		args["reporter_email"] = nullable(alert.Reporter.Email)
	}

	return args
}

package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/google/uuid"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrInvalidAlert  = errors.New("invalid alert")
)

type AlertService interface {
	Query(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Alert], error)
	GetByID(ctx context.Context, alertID string) (types.Alert, error)
	Create(ctx context.Context, candidate types.Alert) (types.Alert, bool, error)
	Report(ctx context.Context, report Report) (types.Alert, error)
	Resolve(ctx context.Context, alertID string) (types.Alert, error)
	MarkFalseAlarm(ctx context.Context, alertID string) (types.Alert, error)
}

// AlertRepository is the part of storage.Store that owns the alert lifecycle.
type AlertRepository interface {
	CreateAlert(ctx context.Context, alert types.Alert) (types.Alert, bool, error)
	GetAlert(ctx context.Context, alertID string) (types.Alert, error)
	QueryAlerts(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Alert], error)
	UpdateAlertStatus(ctx context.Context, alertID string, status types.AlertStatus, resolvedAt *time.Time) (bool, error)
}

// Notifier receives newly created alerts. Submit must return without waiting for delivery.
//
//go:generate moq -rm -out notifier_mock.go . Notifier
type Notifier interface {
	Submit(ctx context.Context, alert types.Alert)
}

type Publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

// Report is an alert raised by a person, either through a community front-end or a chat bot.
type Report struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description"`
	Severity    types.Severity    `json:"severity,omitempty"`
	Origin      types.AlertOrigin `json:"origin,omitempty"`
	Latitude    *float64          `json:"latitude"`
	Longitude   *float64          `json:"longitude"`
	Address     string            `json:"address,omitempty"`
	Reporter    *types.Reporter   `json:"reporter,omitempty"`
}

type alertSvc struct {
	storage   AlertRepository
	publisher Publisher
	notifier  Notifier
	locks     *keyedMutex
	now       func() time.Time
}

func New(r AlertRepository, p Publisher, n Notifier) AlertService {
	return &alertSvc{
		storage:   r,
		publisher: p,
		notifier:  n,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

func (svc *alertSvc) Query(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Alert], error) {
	return svc.storage.QueryAlerts(ctx, conditions...)
}

func (svc *alertSvc) GetByID(ctx context.Context, alertID string) (types.Alert, error) {
	alert, err := svc.storage.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) || errors.Is(err, storage.ErrNoID) {
			return types.Alert{}, ErrAlertNotFound
		}
		return types.Alert{}, err
	}

	return alert, nil
}

// Create stores a new active alert. A sensor that already has an active alert gets
// that alert back with created set to false, and no notification is sent for it.
func (svc *alertSvc) Create(ctx context.Context, candidate types.Alert) (types.Alert, bool, error) {
	if candidate.AlertID == "" {
		candidate.AlertID = uuid.NewString()
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = svc.now().UTC()
	}
	candidate.Status = types.AlertStatusActive
	candidate.ResolvedAt = nil

	if err := validate(candidate); err != nil {
		return types.Alert{}, false, err
	}

	ctx, log := logging.With(ctx, "origin", string(candidate.Origin))

	if candidate.SensorID != nil {
		ctx, log = logging.With(ctx, "sensor_id", *candidate.SensorID)
		unlock := svc.locks.Lock(*candidate.SensorID)
		defer unlock()
	}

	alert, created, err := svc.storage.CreateAlert(ctx, candidate)
	if err != nil {
		return types.Alert{}, false, fmt.Errorf("could not create alert: %w", err)
	}

	if !created {
		metrics.AlertsDeduplicated.Inc()
		log.Info().Str("alert_id", alert.AlertID).Msg("an active alert already exists, skipping creation")
		return alert, false, nil
	}

	metrics.AlertsCreated.WithLabelValues(string(alert.Origin), string(alert.Severity)).Inc()
	log.Info().Str("alert_id", alert.AlertID).Str("severity", string(alert.Severity)).Msg("alert created")

	err = svc.publisher.PublishOnTopic(ctx, &types.AlertCreated{
		Alert:     alert,
		Timestamp: alert.CreatedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to publish alert created event")
	}

	svc.notifier.Submit(ctx, alert)

	return alert, true, nil
}

func (svc *alertSvc) Report(ctx context.Context, report Report) (types.Alert, error) {
	origin := report.Origin
	if origin == "" {
		origin = types.AlertOriginCommunity
	}
	if origin == types.AlertOriginSensor || !origin.Valid() {
		return types.Alert{}, fmt.Errorf("%w: origin %q is not allowed for reports", ErrInvalidAlert, origin)
	}

	if strings.TrimSpace(report.Description) == "" {
		return types.Alert{}, fmt.Errorf("%w: description is required", ErrInvalidAlert)
	}
	if report.Latitude == nil || report.Longitude == nil {
		return types.Alert{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidAlert)
	}

	severity := report.Severity
	if severity == "" {
		severity = types.SeverityMedium
	}

	title := strings.TrimSpace(report.Title)
	if title == "" {
		title = "Community Fire Report"
		if origin == types.AlertOriginBot {
			title = "WhatsApp Fire Report"
		}
	}

	alert, _, err := svc.Create(ctx, types.Alert{
		Title:       title,
		Description: report.Description,
		Origin:      origin,
		Severity:    severity,
		Location:    &types.Location{Latitude: *report.Latitude, Longitude: *report.Longitude},
		Address:     report.Address,
		Reporter:    report.Reporter,
	})

	return alert, err
}

func (svc *alertSvc) Resolve(ctx context.Context, alertID string) (types.Alert, error) {
	return svc.close(ctx, alertID, types.AlertStatusResolved)
}

func (svc *alertSvc) MarkFalseAlarm(ctx context.Context, alertID string) (types.Alert, error) {
	return svc.close(ctx, alertID, types.AlertStatusFalseAlarm)
}

// close moves an active alert to a final status. Closing an alert that is no longer
// active leaves it untouched and is not an error.
func (svc *alertSvc) close(ctx context.Context, alertID string, status types.AlertStatus) (types.Alert, error) {
	ctx, log := logging.With(ctx, "alert_id", alertID)

	alert, err := svc.GetByID(ctx, alertID)
	if err != nil {
		return types.Alert{}, err
	}

	if alert.Status != types.AlertStatusActive {
		log.Warn().Str("status", string(alert.Status)).Msgf("alert is not active, ignoring transition to %s", status)
		return alert, nil
	}

	var resolvedAt *time.Time
	if status == types.AlertStatusResolved {
		now := svc.now().UTC()
		resolvedAt = &now
	}

	ok, err := svc.storage.UpdateAlertStatus(ctx, alertID, status, resolvedAt)
	if err != nil {
		return types.Alert{}, fmt.Errorf("could not update alert status: %w", err)
	}

	if !ok {
		log.Warn().Msg("alert was closed concurrently")
		return svc.GetByID(ctx, alertID)
	}

	alert.Status = status
	alert.ResolvedAt = resolvedAt

	log.Info().Str("status", string(status)).Msg("alert closed")

	err = svc.publisher.PublishOnTopic(ctx, &types.AlertResolved{
		AlertID:   alert.AlertID,
		Status:    status,
		Timestamp: svc.now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to publish alert resolved event")
	}

	return alert, nil
}

func validate(a types.Alert) error {
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidAlert)
	}
	if !a.Origin.Valid() {
		return fmt.Errorf("%w: unknown origin %q", ErrInvalidAlert, a.Origin)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidAlert, a.Severity)
	}
	if !a.HasLocation() {
		return fmt.Errorf("%w: a location or an address is required", ErrInvalidAlert)
	}
	if a.Origin == types.AlertOriginSensor && a.SensorID == nil {
		return fmt.Errorf("%w: sensor alerts must reference a sensor", ErrInvalidAlert)
	}
	return nil
}

package alerts

import (
	"context"
	"fmt"

	"github.com/diwise/iot-fire-monitor/pkg/types"
)

type Outcome struct {
	Triggered bool           `json:"triggered"`
	Created   bool           `json:"created"`
	Severity  types.Severity `json:"severity,omitempty"`
	Alert     *types.Alert   `json:"alert,omitempty"`
}

type Evaluator interface {
	Evaluate(ctx context.Context, sensor types.Sensor, value float64) (Outcome, error)
}

// Exceeds is the trigger condition. A value equal to the threshold does not trigger.
func Exceeds(value, threshold float64) bool {
	return value > threshold
}

// Classify maps the ratio between a value and the sensor threshold onto a severity.
// Intervals are closed at the lower bound.
func Classify(value, threshold float64) types.Severity {
	if threshold <= 0 {
		return types.SeverityCritical
	}

	ratio := value / threshold

	switch {
	case ratio >= 3.0:
		return types.SeverityCritical
	case ratio >= 2.0:
		return types.SeverityHigh
	case ratio >= 1.5:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

type evaluator struct {
	alerts AlertService
}

func NewEvaluator(svc AlertService) Evaluator {
	return &evaluator{alerts: svc}
}

func (e *evaluator) Evaluate(ctx context.Context, sensor types.Sensor, value float64) (Outcome, error) {
	if !Exceeds(value, sensor.Threshold) {
		return Outcome{}, nil
	}

	severity := Classify(value, sensor.Threshold)

	alert, created, err := e.alerts.Create(ctx, sensorAlert(sensor, value, severity))
	if err != nil {
		return Outcome{Triggered: true, Severity: severity}, err
	}

	return Outcome{
		Triggered: true,
		Created:   created,
		Severity:  alert.Severity,
		Alert:     &alert,
	}, nil
}

func sensorAlert(sensor types.Sensor, value float64, severity types.Severity) types.Alert {
	sensorID := sensor.SensorID
	reading := value

	address := sensor.Place
	if address == "" && sensor.Location == nil {
		address = sensor.Name
	}

	var location *types.Location
	if sensor.Location != nil {
		l := *sensor.Location
		location = &l
	}

	return types.Alert{
		Title:         fmt.Sprintf("Fire Detected - %s", sensor.Name),
		Description:   fmt.Sprintf("Sensor %s detected reading of %.2f (threshold: %.2f)", sensor.Name, value, sensor.Threshold),
		Origin:        types.AlertOriginSensor,
		Severity:      severity,
		Location:      location,
		Address:       address,
		SensorID:      &sensorID,
		SensorReading: &reading,
	}
}

package notifications

import (
	"fmt"
	"strings"

	"github.com/diwise/iot-fire-monitor/pkg/types"
)

const (
	timeLayout = "2006-01-02 15:04:05"

	TestSubject = "Fire Monitoring System - Test Alert"
	TestMessage = "🔥 TEST ALERT: Fire monitoring system is operational. This is a test message."
)

func Subject(alert types.Alert) string {
	return fmt.Sprintf("🚨 FIRE ALERT - %s", strings.ToUpper(string(alert.Severity)))
}

func SMSMessage(alert types.Alert) string {
	where := ""
	if alert.Address != "" {
		where = " at " + alert.Address
	} else if alert.Location != nil {
		where = fmt.Sprintf(" at coordinates %.4f, %.4f", alert.Location.Latitude, alert.Location.Longitude)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", Subject(alert))
	fmt.Fprintf(&b, "%s%s\n", alert.Title, where)
	fmt.Fprintf(&b, "Time: %s\n", alert.CreatedAt.UTC().Format(timeLayout))
	if alert.SensorReading != nil {
		fmt.Fprintf(&b, "Sensor Reading: %.2f\n", *alert.SensorReading)
	}
	b.WriteString("Respond immediately!")

	return b.String()
}

// EmailMessage renders the plain text email body. sensor is nil for alerts that did not
// come from a sensor.
func EmailMessage(alert types.Alert, sensor *types.Sensor) string {
	where := "Unknown location"
	if alert.Address != "" {
		where = alert.Address
	} else if alert.Location != nil {
		where = fmt.Sprintf("Coordinates: %.6f, %.6f", alert.Location.Latitude, alert.Location.Longitude)
	}

	description := alert.Description
	if description == "" {
		description = "No additional description provided."
	}

	var b strings.Builder
	b.WriteString("FIRE ALERT NOTIFICATION\n\n")
	b.WriteString("Alert Details:\n")
	fmt.Fprintf(&b, "- Title: %s\n", alert.Title)
	fmt.Fprintf(&b, "- Severity: %s\n", strings.ToUpper(string(alert.Severity)))
	fmt.Fprintf(&b, "- Type: %s\n", humanize(string(alert.Origin)))
	fmt.Fprintf(&b, "- Location: %s\n", where)
	fmt.Fprintf(&b, "- Time: %s UTC\n\n", alert.CreatedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "Description:\n%s\n", description)

	if alert.SensorReading != nil {
		fmt.Fprintf(&b, "\nSensor Reading: %.2f", *alert.SensorReading)
	}
	if sensor != nil {
		fmt.Fprintf(&b, "\nSensor: %s (%s)", sensor.Name, sensor.Kind)
		fmt.Fprintf(&b, "\nThreshold: %.2f", sensor.Threshold)
	}

	b.WriteString(`

IMMEDIATE ACTION REQUIRED:
1. Verify the alert location
2. Dispatch emergency responders
3. Coordinate with local fire department
4. Monitor the situation until resolved

This is an automated alert from the Fire Response and Monitoring System.
`)

	return b.String()
}

// humanize turns sensor_detection into Sensor Detection.
func humanize(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

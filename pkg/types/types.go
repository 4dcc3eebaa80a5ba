package types

import (
	"time"
)

type SensorKind string

const (
	SensorKindTemperature SensorKind = "temperature"
	SensorKindSmoke       SensorKind = "smoke"
	SensorKindFlame       SensorKind = "flame"
	SensorKindCombined    SensorKind = "combined"
)

type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

type Sensor struct {
	SensorID    string     `json:"sensorID" yaml:"sensorID"`
	Name        string     `json:"name" yaml:"name"`
	Kind        SensorKind `json:"kind" yaml:"kind"`
	Place       string     `json:"place,omitempty" yaml:"place"`
	Location    *Location  `json:"location,omitempty" yaml:"location"`
	Active      bool       `json:"active" yaml:"active"`
	Threshold   float64    `json:"threshold" yaml:"threshold"`
	Port        string     `json:"port,omitempty" yaml:"port"`
	LastReading *float64   `json:"lastReading,omitempty" yaml:"-"`
	LastUpdate  *time.Time `json:"lastUpdate,omitempty" yaml:"-"`
}

// Online reports whether the sensor has delivered a reading within the window.
func (s Sensor) Online(now time.Time, window time.Duration) bool {
	if s.LastUpdate == nil {
		return false
	}
	return now.Sub(*s.LastUpdate) < window
}

type Reading struct {
	ReadingID  string    `json:"readingID"`
	SensorID   string    `json:"sensorID"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observedAt"`
}

type AlertOrigin string

const (
	AlertOriginSensor    AlertOrigin = "sensor_detection"
	AlertOriginCommunity AlertOrigin = "community_report"
	AlertOriginBot       AlertOrigin = "bot_report"
	AlertOriginManual    AlertOrigin = "manual_trigger"
)

func (o AlertOrigin) Valid() bool {
	switch o {
	case AlertOriginSensor, AlertOriginCommunity, AlertOriginBot, AlertOriginManual:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertStatusActive     AlertStatus = "active"
	AlertStatusResolved   AlertStatus = "resolved"
	AlertStatusFalseAlarm AlertStatus = "false_alarm"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusResolved, AlertStatusFalseAlarm:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Reporter struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Alert struct {
	AlertID       string      `json:"alertID"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Origin        AlertOrigin `json:"origin"`
	Status        AlertStatus `json:"status"`
	Severity      Severity    `json:"severity"`
	Location      *Location   `json:"location,omitempty"`
	Address       string      `json:"address,omitempty"`
	SensorID      *string     `json:"sensorID,omitempty"`
	SensorReading *float64    `json:"sensorReading,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	ResolvedAt    *time.Time  `json:"resolvedAt,omitempty"`
	SMSSent       bool        `json:"smsSent"`
	EmailSent     bool        `json:"emailSent"`
	Reporter      *Reporter   `json:"reporter,omitempty"`
}

// HasLocation is true when either coordinates or a free text address is present.
func (a Alert) HasLocation() bool {
	return a.Location != nil || a.Address != ""
}

type EmergencyContact struct {
	ContactID string `json:"contactID" yaml:"contactID"`
	Name      string `json:"name" yaml:"name"`
	Phone     string `json:"phone,omitempty" yaml:"phone"`
	Email     string `json:"email,omitempty" yaml:"email"`
	Role      string `json:"role" yaml:"role"`
	Active    bool   `json:"active" yaml:"active"`
}

type Collection[T any] struct {
	Data       []T
	Count      uint64
	Offset     uint64
	Limit      uint64
	TotalCount uint64
}

package database

import (
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
)

type sensorRecord struct {
	SensorID    string `gorm:"primaryKey"`
	Name        string
	Kind        string
	Place       *string
	Latitude    *float64
	Longitude   *float64
	Active      bool
	Threshold   float64
	Port        *string
	LastReading *float64
	LastUpdate  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (sensorRecord) TableName() string { return "sensors" }

type readingRecord struct {
	ReadingID  string    `gorm:"primaryKey"`
	SensorID   string    `gorm:"index:readings_sensor_observed_idx"`
	Value      float64   `gorm:"not null"`
	ObservedAt time.Time `gorm:"index:readings_sensor_observed_idx"`
}

func (readingRecord) TableName() string { return "readings" }

type alertRecord struct {
	AlertID       string `gorm:"primaryKey"`
	Title         string
	Description   *string
	Origin        string
	Status        string `gorm:"index"`
	Severity      string
	Latitude      *float64
	Longitude     *float64
	Address       *string
	SensorID      *string
	SensorReading *float64
	CreatedAt     time.Time `gorm:"index"`
	ResolvedAt    *time.Time
	SMSSent       bool `gorm:"column:sms_sent"`
	EmailSent     bool
	ReporterName  *string
	ReporterPhone *string
	ReporterEmail *string
}

func (alertRecord) TableName() string { return "alerts" }

type contactRecord struct {
	ContactID string `gorm:"primaryKey"`
	Name      string
	Phone     *string
	Email     *string
	Role      string
	Active    bool
}

func (contactRecord) TableName() string { return "emergency_contacts" }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toSensorRecord(s types.Sensor) sensorRecord {
	r := sensorRecord{
		SensorID:  s.SensorID,
		Name:      s.Name,
		Kind:      string(s.Kind),
		Place:     optional(s.Place),
		Active:    s.Active,
		Threshold: s.Threshold,
		Port:      optional(s.Port),
	}
	if s.Location != nil {
		lat, lon := s.Location.Latitude, s.Location.Longitude
		r.Latitude, r.Longitude = &lat, &lon
	}
	return r
}

func (r sensorRecord) toSensor() types.Sensor {
	s := types.Sensor{
		SensorID:    r.SensorID,
		Name:        r.Name,
		Kind:        types.SensorKind(r.Kind),
		Place:       deref(r.Place),
		Active:      r.Active,
		Threshold:   r.Threshold,
		Port:        deref(r.Port),
		LastReading: r.LastReading,
	}
	if r.Latitude != nil && r.Longitude != nil {
		s.Location = &types.Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
	}
	if r.LastUpdate != nil {
		t := r.LastUpdate.UTC()
		s.LastUpdate = &t
	}
	return s
}

func (r readingRecord) toReading() types.Reading {
	return types.Reading{
		ReadingID:  r.ReadingID,
		SensorID:   r.SensorID,
		Value:      r.Value,
		ObservedAt: r.ObservedAt.UTC(),
	}
}

func toAlertRecord(a types.Alert) alertRecord {
	r := alertRecord{
		AlertID:       a.AlertID,
		Title:         a.Title,
		Description:   optional(a.Description),
		Origin:        string(a.Origin),
		Status:        string(a.Status),
		Severity:      string(a.Severity),
		Address:       optional(a.Address),
		SensorID:      a.SensorID,
		SensorReading: a.SensorReading,
		CreatedAt:     a.CreatedAt.UTC(),
		ResolvedAt:    a.ResolvedAt,
		SMSSent:       a.SMSSent,
		EmailSent:     a.EmailSent,
	}
	if a.Location != nil {
		lat, lon := a.Location.Latitude, a.Location.Longitude
		r.Latitude, r.Longitude = &lat, &lon
	}
	if a.Reporter != nil {
		r.ReporterName = optional(a.Reporter.Name)
		r.ReporterPhone = optional(a.Reporter.Phone)
		r.ReporterEmail = optional(a.Reporter.Email)
	}
	return r
}

func (r alertRecord) toAlert() types.Alert {
	a := types.Alert{
		AlertID:       r.AlertID,
		Title:         r.Title,
		Description:   deref(r.Description),
		Origin:        types.AlertOrigin(r.Origin),
		Status:        types.AlertStatus(r.Status),
		Severity:      types.Severity(r.Severity),
		Address:       deref(r.Address),
		SensorID:      r.SensorID,
		SensorReading: r.SensorReading,
		CreatedAt:     r.CreatedAt.UTC(),
		SMSSent:       r.SMSSent,
		EmailSent:     r.EmailSent,
	}
	if r.Latitude != nil && r.Longitude != nil {
		a.Location = &types.Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
	}
	if r.ResolvedAt != nil {
		t := r.ResolvedAt.UTC()
		a.ResolvedAt = &t
	}
	if r.ReporterName != nil || r.ReporterPhone != nil || r.ReporterEmail != nil {
		a.Reporter = &types.Reporter{
			Name:  deref(r.ReporterName),
			Phone: deref(r.ReporterPhone),
			Email: deref(r.ReporterEmail),
		}
	}
	return a
}

func toContactRecord(c types.EmergencyContact) contactRecord {
	return contactRecord{
		ContactID: c.ContactID,
		Name:      c.Name,
		Phone:     optional(c.Phone),
		Email:     optional(c.Email),
		Role:      c.Role,
		Active:    c.Active,
	}
}

func (r contactRecord) toContact() types.EmergencyContact {
	return types.EmergencyContact{
		ContactID: r.ContactID,
		Name:      r.Name,
		Phone:     deref(r.Phone),
		Email:     deref(r.Email),
		Role:      r.Role,
		Active:    r.Active,
	}
}

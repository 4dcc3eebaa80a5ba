package types

import (
	"encoding/json"
	"time"
)

type AlertCreated struct {
	Alert     Alert     `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertCreated) ContentType() string {
	return "application/json"
}
func (a *AlertCreated) TopicName() string {
	return "alerts.alertCreated"
}
func (a *AlertCreated) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type AlertResolved struct {
	AlertID   string      `json:"alertID"`
	Status    AlertStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

func (a *AlertResolved) ContentType() string {
	return "application/json"
}
func (a *AlertResolved) TopicName() string {
	return "alerts.alertResolved"
}
func (a *AlertResolved) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type AlertNotified struct {
	AlertID   string    `json:"alertID"`
	SMSSent   bool      `json:"smsSent"`
	EmailSent bool      `json:"emailSent"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertNotified) ContentType() string {
	return "application/json"
}
func (a *AlertNotified) TopicName() string {
	return "alerts.alertNotified"
}
func (a *AlertNotified) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type SensorNotObserved struct {
	SensorID   string     `json:"sensorID"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

func (s *SensorNotObserved) ContentType() string {
	return "application/json"
}
func (s *SensorNotObserved) TopicName() string {
	return "watchdog.sensorNotObserved"
}
func (s *SensorNotObserved) Body() []byte {
	b, _ := json.Marshal(s)
	return b
}

type SensorObserved struct {
	SensorID   string    `json:"sensorID"`
	LastUpdate time.Time `json:"lastUpdate"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *SensorObserved) ContentType() string {
	return "application/json"
}
func (s *SensorObserved) TopicName() string {
	return "watchdog.sensorObserved"
}
func (s *SensorObserved) Body() []byte {
	b, _ := json.Marshal(s)
	return b
}

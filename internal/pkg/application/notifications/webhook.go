package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"
)

const (
	AlertCreatedEventType string = "fire.alertCreated"
	eventSource           string = "github.com/diwise/iot-fire-monitor"
)

type eventSender struct {
	subscribers map[string][]SubscriberConfig
}

// NewEventSender posts alerts as cloud events to the subscribers of the
// fire.alertCreated notification type.
func NewEventSender(cfg *EventConfig) EventSender {
	e := &eventSender{
		subscribers: make(map[string][]SubscriberConfig),
	}

	if cfg != nil {
		for _, s := range cfg.Notifications {
			e.subscribers[s.Type] = append(e.subscribers[s.Type], s.Subscribers...)
		}
	}

	return e
}

func (e *eventSender) Send(ctx context.Context, alert types.Alert) error {
	subscribers := e.subscribers[AlertCreatedEventType]
	if len(subscribers) == 0 {
		return fmt.Errorf("%w: no webhook subscribers", ErrNotConfigured)
	}

	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return err
	}

	event := cloudevents.NewEvent()
	event.SetID(alert.AlertID)
	event.SetTime(alert.CreatedAt)
	event.SetSource(eventSource)
	event.SetType(AlertCreatedEventType)

	eventData := struct {
		types.Alert
		Message string `json:"message"`
	}{
		Alert:   alert,
		Message: SMSMessage(alert),
	}

	if err = event.SetData(cloudevents.ApplicationJSON, eventData); err != nil {
		return err
	}

	logger := logging.GetLoggerFromContext(ctx)

	delivered := 0
	var errs []error

	for _, s := range subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := c.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) || !cloudevents.IsACK(result) {
			logger.Error().Err(result).Msgf("failed to send event to %s", s.Endpoint)
			errs = append(errs, result)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("%w: %w", ErrChannelSend, errors.Join(errs...))
	}

	return nil
}

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type EventConfig struct {
	Notifications []Notification `yaml:"notifications"`
}

func LoadConfiguration(data io.Reader) (*EventConfig, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := EventConfig{}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/samber/lo"
)

const maxContacts int = 1000

type Result struct {
	SMSSent     bool `json:"smsSent"`
	EmailSent   bool `json:"emailSent"`
	WebhookSent bool `json:"webhookSent"`
	Attempts    int  `json:"attempts"`
	Failures    int  `json:"failures"`
}

// ContactStore is the part of storage.Store the dispatcher reads contacts from
// and writes the delivery outcome to.
type ContactStore interface {
	QueryContacts(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.EmergencyContact], error)
	GetSensor(ctx context.Context, sensorID string) (types.Sensor, error)
	SetNotificationFlags(ctx context.Context, alertID string, smsSent, emailSent bool) error
}

type Publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

type Config struct {
	// AttemptTimeout bounds a single send. Zero leaves it to the timeouts of the channel clients.
	AttemptTimeout time.Duration
	MaxConcurrent  int
}

// Dispatcher fans alerts out to the emergency contacts. It satisfies alerts.Notifier.
type Dispatcher struct {
	store     ContactStore
	sms       SMSSender
	email     EmailSender
	events    EventSender
	publisher Publisher

	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewDispatcher(store ContactStore, sms SMSSender, email EmailSender, events EventSender, publisher Publisher, cfg Config) *Dispatcher {
	if cfg.AttemptTimeout < 0 {
		cfg.AttemptTimeout = 0
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}

	return &Dispatcher{
		store:     store,
		sms:       sms,
		email:     email,
		events:    events,
		publisher: publisher,
		timeout:   cfg.AttemptTimeout,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		now:       time.Now,
	}
}

// Submit schedules the alert for dispatch and returns immediately. Dispatch is detached
// from the cancellation of ctx so that an alert is delivered even if the caller goes away.
func (d *Dispatcher) Submit(ctx context.Context, alert types.Alert) {
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		if _, err := d.Dispatch(ctx, alert); err != nil {
			log := logging.GetLoggerFromContext(ctx)
			log.Error().Err(err).Str("alert_id", alert.AlertID).Msg("dispatch failed")
		}
	}()
}

// Wait blocks until every submitted alert has been dispatched.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch sends the alert on every channel of every active contact and to the webhook
// subscribers. Channel failures are aggregated into the result and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert) (Result, error) {
	ctx, log := logging.With(ctx, "alert_id", alert.AlertID)
	start := d.now()

	contacts, err := d.activeContacts(ctx)
	if err != nil {
		return Result{}, err
	}

	if len(contacts) == 0 {
		log.Warn().Msg("no emergency contacts configured")
	}

	var sensor *types.Sensor
	if alert.SensorID != nil {
		if s, err := d.store.GetSensor(ctx, *alert.SensorID); err == nil {
			sensor = &s
		}
	}

	smsBody := SMSMessage(alert)
	subject := Subject(alert)
	emailBody := EmailMessage(alert, sensor)

	var smsSent, emailSent, webhookSent atomic.Bool
	var attempts, failures atomic.Int32
	var wg sync.WaitGroup

	run := func(channel, target string, send func(context.Context) error, sent *atomic.Bool) {
		attempts.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.attempt(ctx, channel, target, send); err != nil {
				failures.Add(1)
				return
			}
			sent.Store(true)
		}()
	}

	for _, c := range lo.Filter(contacts, func(c types.EmergencyContact, _ int) bool { return c.Phone != "" }) {
		to := c.Phone
		run(ChannelSMS, c.Name, func(ctx context.Context) error {
			return d.sms.SendSMS(ctx, to, smsBody)
		}, &smsSent)
	}

	for _, c := range lo.Filter(contacts, func(c types.EmergencyContact, _ int) bool { return c.Email != "" }) {
		to := c.Email
		run(ChannelEmail, c.Name, func(ctx context.Context) error {
			return d.email.SendEmail(ctx, to, subject, emailBody)
		}, &emailSent)
	}

	if d.events != nil {
		run(ChannelWebhook, "subscribers", func(ctx context.Context) error {
			return d.events.Send(ctx, alert)
		}, &webhookSent)
	}

	wg.Wait()

	result := Result{
		SMSSent:     smsSent.Load(),
		EmailSent:   emailSent.Load(),
		WebhookSent: webhookSent.Load(),
		Attempts:    int(attempts.Load()),
		Failures:    int(failures.Load()),
	}

	metrics.DispatchDuration.Observe(d.now().Sub(start).Seconds())

	if err := d.store.SetNotificationFlags(ctx, alert.AlertID, result.SMSSent, result.EmailSent); err != nil {
		return result, fmt.Errorf("could not store notification flags: %w", err)
	}

	log.Info().
		Bool("sms_sent", result.SMSSent).
		Bool("email_sent", result.EmailSent).
		Bool("webhook_sent", result.WebhookSent).
		Int("attempts", result.Attempts).
		Int("failures", result.Failures).
		Msg("notifications dispatched")

	if d.publisher != nil {
		err = d.publisher.PublishOnTopic(ctx, &types.AlertNotified{
			AlertID:   alert.AlertID,
			SMSSent:   result.SMSSent,
			EmailSent: result.EmailSent,
			Timestamp: d.now().UTC(),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to publish alert notified event")
		}
	}

	return result, nil
}

// SendTest sends the test message to the first active contact on every channel the
// contact has. It fails unless every attempted channel succeeds.
func (d *Dispatcher) SendTest(ctx context.Context) (Result, error) {
	contacts, err := d.activeContacts(ctx)
	if err != nil {
		return Result{}, err
	}

	if len(contacts) == 0 {
		return Result{}, fmt.Errorf("%w: no active emergency contacts", ErrNotConfigured)
	}
	contact := contacts[0]

	ctx, _ = logging.With(ctx, "contact", contact.Name)

	result := Result{}
	var errs []error

	if contact.Phone != "" {
		result.Attempts++
		if err := d.attempt(ctx, ChannelSMS, contact.Name, func(ctx context.Context) error {
			return d.sms.SendSMS(ctx, contact.Phone, TestMessage)
		}); err != nil {
			result.Failures++
			errs = append(errs, err)
		} else {
			result.SMSSent = true
		}
	}

	if contact.Email != "" {
		result.Attempts++
		if err := d.attempt(ctx, ChannelEmail, contact.Name, func(ctx context.Context) error {
			return d.email.SendEmail(ctx, contact.Email, TestSubject, TestMessage)
		}); err != nil {
			result.Failures++
			errs = append(errs, err)
		} else {
			result.EmailSent = true
		}
	}

	if result.Attempts == 0 {
		return result, fmt.Errorf("%w: contact %s has neither phone nor email", ErrNotConfigured, contact.Name)
	}

	return result, errors.Join(errs...)
}

func (d *Dispatcher) activeContacts(ctx context.Context) ([]types.EmergencyContact, error) {
	contacts, err := d.store.QueryContacts(ctx, storage.WithActive(true), storage.WithLimit(maxContacts))
	if err != nil {
		return nil, fmt.Errorf("could not load emergency contacts: %w", err)
	}
	return contacts.Data, nil
}

// attempt runs one send, with its own deadline when an attempt timeout is configured.
// A sender that panics or outlives that deadline is reported as a failed attempt.
func (d *Dispatcher) attempt(ctx context.Context, channel, target string, send func(context.Context) error) error {
	var cancel context.CancelFunc
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: panic: %v", ErrChannelSend, r)
			}
		}()
		done <- send(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("%w: %s", ErrChannelSend, ctx.Err().Error())
	}

	log := logging.GetLoggerFromContext(ctx)

	if err != nil {
		metrics.NotificationAttempts.WithLabelValues(channel, "failure").Inc()
		log.Error().Err(err).Str("channel", channel).Str("target", target).Msg("notification attempt failed")
		return err
	}

	metrics.NotificationAttempts.WithLabelValues(channel, "success").Inc()
	log.Debug().Str("channel", channel).Str("target", target).Msg("notification sent")

	return nil
}

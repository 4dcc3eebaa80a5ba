package notifications

import (
	"context"
	"errors"

	"github.com/diwise/iot-fire-monitor/pkg/types"
)

var (
	ErrChannelSend   = errors.New("notification could not be sent")
	ErrNotConfigured = errors.New("channel is not configured")
)

const (
	ChannelSMS     = "sms"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

//go:generate moq -rm -out smssender_mock.go . SMSSender
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

//go:generate moq -rm -out emailsender_mock.go . EmailSender
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// EventSender forwards an alert to every configured webhook subscriber.
type EventSender interface {
	Send(ctx context.Context, alert types.Alert) error
}

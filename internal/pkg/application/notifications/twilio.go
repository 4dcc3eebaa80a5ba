package notifications

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultTwilioURL string = "https://api.twilio.com"

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
}

func (c TwilioConfig) configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

type twilioSender struct {
	cfg        TwilioConfig
	httpClient *resty.Client
}

// NewTwilioSender sends SMS through the Twilio messages REST API.
func NewTwilioSender(cfg TwilioConfig) SMSSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioURL
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetTimeout(15*time.Second).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")

	return &twilioSender{
		cfg:        cfg,
		httpClient: client,
	}
}

func (s *twilioSender) SendSMS(ctx context.Context, to, body string) error {
	if !s.cfg.configured() {
		return fmt.Errorf("%w: twilio credentials missing", ErrNotConfigured)
	}

	var msg twilioMessage
	var apiErr twilioError

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetPathParam("accountSid", s.cfg.AccountSID).
		SetFormData(map[string]string{
			"To":   to,
			"From": s.cfg.From,
			"Body": body,
		}).
		SetResult(&msg).
		SetError(&apiErr).
		Post("/2010-04-01/Accounts/{accountSid}/Messages.json")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrChannelSend, err.Error())
	}

	if resp.IsError() {
		return fmt.Errorf("%w: twilio returned %d: %s (code %d)", ErrChannelSend, resp.StatusCode(), apiErr.Message, apiErr.Code)
	}

	return nil
}

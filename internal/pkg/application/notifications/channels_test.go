package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/matryer/is"
)

func TestTwilioSender(t *testing.T) {
	is := is.New(t)

	var form url.Values
	var path, user, pass string

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		user, pass, _ = r.BasicAuth()
		r.ParseForm()
		form = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer s.Close()

	sender := NewTwilioSender(TwilioConfig{BaseURL: s.URL, AccountSID: "AC42", AuthToken: "secret", From: "+15559999"})

	is.NoErr(sender.SendSMS(context.Background(), "+15550001", "hello"))
	is.Equal(path, "/2010-04-01/Accounts/AC42/Messages.json")
	is.Equal(user, "AC42")
	is.Equal(pass, "secret")
	is.Equal(form.Get("To"), "+15550001")
	is.Equal(form.Get("From"), "+15559999")
	is.Equal(form.Get("Body"), "hello")
}

func TestTwilioSenderReportsApiErrors(t *testing.T) {
	is := is.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number."}`))
	}))
	defer s.Close()

	sender := NewTwilioSender(TwilioConfig{BaseURL: s.URL, AccountSID: "AC42", AuthToken: "secret", From: "+15559999"})

	err := sender.SendSMS(context.Background(), "nope", "hello")
	is.True(errors.Is(err, ErrChannelSend))
	is.True(strings.Contains(err.Error(), "21211"))
}

func TestUnconfiguredSenders(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	is.True(errors.Is(NewTwilioSender(TwilioConfig{}).SendSMS(ctx, "+15550001", "hello"), ErrNotConfigured))
	is.True(errors.Is(NewSMTPSender(SMTPConfig{}).SendEmail(ctx, "a@example.org", "s", "b"), ErrNotConfigured))
	is.True(errors.Is(NewEventSender(nil).Send(ctx, types.Alert{}), ErrNotConfigured))
}

func TestEventSender(t *testing.T) {
	is := is.New(t)

	received := make(chan map[string]any, 1)
	var ceType string

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ceType = r.Header.Get("Ce-Type")
		b, _ := io.ReadAll(r.Body)
		m := map[string]any{}
		json.Unmarshal(b, &m)
		received <- m
		w.WriteHeader(http.StatusOK)
	}))
	defer s.Close()

	cfg, err := LoadConfiguration(strings.NewReader(`
notifications:
  - id: chat
    name: Fire alerts to the chat bridge
    type: fire.alertCreated
    subscribers:
    - endpoint: ` + s.URL + `
`))
	is.NoErr(err)

	sender := NewEventSender(cfg)
	is.NoErr(sender.Send(context.Background(), types.Alert{
		AlertID:   "a1",
		Title:     "Community Fire Report",
		Origin:    types.AlertOriginCommunity,
		Status:    types.AlertStatusActive,
		Severity:  types.SeverityMedium,
		Address:   "Central Park",
		CreatedAt: time.Now(),
	}))

	m := <-received
	is.Equal(ceType, AlertCreatedEventType)
	is.Equal(m["alertID"], "a1")
	is.True(strings.HasPrefix(m["message"].(string), "🚨 FIRE ALERT - MEDIUM"))
}

func TestEventSenderFailsWhenNoSubscriberAccepts(t *testing.T) {
	is := is.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer s.Close()

	sender := NewEventSender(&EventConfig{Notifications: []Notification{{
		ID:          "chat",
		Type:        AlertCreatedEventType,
		Subscribers: []SubscriberConfig{{Endpoint: s.URL}},
	}}})

	err := sender.Send(context.Background(), types.Alert{AlertID: "a1", CreatedAt: time.Now()})
	is.True(errors.Is(err, ErrChannelSend))
}

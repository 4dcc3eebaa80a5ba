package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/application/monitor"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/notifications"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/cache"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/matryer/is"
	"github.com/spf13/pflag"
)

func TestSetup(t *testing.T) {
	is, app, _ := testSetup(t)

	server := httptest.NewServer(app.router)
	defer server.Close()

	resp, _ := testRequest(is, server, http.MethodGet, "/health", nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestSeededSensorsAreListed(t *testing.T) {
	is, app, _ := testSetup(t)

	server := httptest.NewServer(app.router)
	defer server.Close()

	resp, body := testRequest(is, server, http.MethodGet, "/api/v0/sensors", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, `"sensorID":"kitchen-smoke"`))
	is.True(strings.Contains(body, `"sensorID":"warehouse-temp"`))
	is.True(strings.Contains(body, `"pipelineState":"stopped"`))
}

func TestReportThroughApi(t *testing.T) {
	is, app, _ := testSetup(t)

	server := httptest.NewServer(app.router)
	defer server.Close()

	resp, _ := testRequest(is, server, http.MethodPost, "/api/v0/reports", strings.NewReader(`{"description":"Smoke near the river","latitude":40.75,"longitude":-73.98}`))
	is.Equal(resp.StatusCode, http.StatusCreated)

	app.dispatcher.Wait()

	resp, body := testRequest(is, server, http.MethodGet, "/api/v0/alerts?status=active", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, `"origin":"community_report"`))
}

func TestSeedIsIdempotent(t *testing.T) {
	is, _, store := testSetup(t)
	ctx := context.Background()

	cfg, err := parseSeedConfig(strings.NewReader(configYaml))
	is.NoErr(err)
	is.NoErr(seed(ctx, store, cfg))

	contacts, err := store.QueryContacts(ctx)
	is.NoErr(err)
	is.Equal(contacts.TotalCount, uint64(2))

	sensors, err := store.QuerySensors(ctx)
	is.NoErr(err)
	is.Equal(sensors.TotalCount, uint64(2))
}

func TestSeedRequiresSensorID(t *testing.T) {
	is, _, store := testSetup(t)

	cfg, err := parseSeedConfig(strings.NewReader("sensors:\n  - name: nameless\n"))
	is.NoErr(err)
	is.True(seed(context.Background(), store, cfg) != nil)
}

func TestParseSeedConfig(t *testing.T) {
	is := is.New(t)

	cfg, err := parseSeedConfig(strings.NewReader(configYaml))
	is.NoErr(err)

	is.Equal(len(cfg.Sensors), 2)
	is.Equal(cfg.Sensors[0].Threshold, 30.0)
	is.Equal(cfg.Sensors[0].Location.Latitude, 40.7128)
	is.Equal(cfg.Sensors[1].Port, "tcp://10.0.0.12:4001")

	is.Equal(len(cfg.Contacts), 2)
	is.Equal(len(cfg.Notifications.Notifications), 1)
	is.Equal(cfg.Notifications.Notifications[0].Type, notifications.AlertCreatedEventType)
	is.Equal(cfg.Notifications.Notifications[0].Subscribers[0].Endpoint, "http://chatbot:8080/events")
}

func TestSettingsFromEnvironment(t *testing.T) {
	is := is.New(t)

	t.Setenv("POSTGRES_HOST", "db.local")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("SMTP_SERVER", "smtp.example.com")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "config.yaml", "")
	registerFlags(flags)
	is.NoErr(flags.Parse([]string{"--service-port", "9090"}))

	v, err := newViper(flags)
	is.NoErr(err)

	s := loadSettings(v)

	is.True(s.usePostgres())
	is.Equal(s.Postgres.Host, "db.local")
	is.Equal(s.Postgres.Port, "5432")
	is.Equal(s.RedisAddr, "redis:6379")
	is.Equal(s.Twilio.AccountSID, "AC123")
	is.Equal(s.Twilio.BaseURL, notifications.DefaultTwilioURL)
	is.Equal(s.SMTP.Host, "smtp.example.com")
	is.Equal(s.SMTP.Port, 587)
	is.Equal(s.ServicePort, "9090")
	is.Equal(s.AttemptTimeout, time.Duration(0))
}

func testSetup(t *testing.T) (*is.I, *application, storage.Store) {
	is := is.New(t)
	ctx := context.Background()

	db, err := database.New(database.NewSQLiteConnector(ctx, ""))
	is.NoErr(err)
	is.NoErr(db.Initialize(ctx))
	t.Cleanup(db.Close)

	cfg, err := parseSeedConfig(strings.NewReader(configYaml))
	is.NoErr(err)
	is.NoErr(seed(ctx, db, cfg))

	opener := monitor.OpenerFunc(func(ctx context.Context, address string) (monitor.Link, error) {
		return nil, errors.New("no devices in tests")
	})

	s := settings{AttemptTimeout: time.Second, MaxDispatches: 2}

	app := newApp(ctx, s, db, cache.NewRegistry(time.Hour, nil), opener, noopPublisher{}, nil)

	return is, app, db
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body io.Reader) (*http.Response, string) {
	req, _ := http.NewRequest(method, ts.URL+path, body)
	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	return resp, string(respBody)
}

const configYaml string = `
sensors:
  - sensorID: kitchen-smoke
    name: Kitchen Smoke Detector
    kind: smoke
    place: Main Building - Kitchen Area
    location:
      latitude: 40.7128
      longitude: -74.0060
    active: true
    threshold: 30
  - sensorID: warehouse-temp
    name: Warehouse Temperature
    kind: temperature
    place: Warehouse B
    active: true
    threshold: 60
    port: tcp://10.0.0.12:4001

contacts:
  - name: Fire Chief
    phone: "+15550101"
    email: chief@example.com
    role: fire_chief
    active: true
  - name: Site Manager
    phone: "+15550102"
    role: manager
    active: true

notifications:
  - id: chatbot
    name: WhatsApp bot
    type: fire.alertCreated
    subscribers:
      - endpoint: http://chatbot:8080/events
`

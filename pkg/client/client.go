package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// FireMonitorClient is used by community front-ends and bots to raise and follow alerts.
type FireMonitorClient interface {
	ReportFire(ctx context.Context, report FireReport) (types.Alert, error)
	GetAlert(ctx context.Context, alertID string) (types.Alert, error)
	GetAlerts(ctx context.Context, status ...types.AlertStatus) ([]types.Alert, error)
	ResolveAlert(ctx context.Context, alertID string) (types.Alert, error)
}

type FireReport struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description"`
	Severity    types.Severity    `json:"severity,omitempty"`
	Origin      types.AlertOrigin `json:"origin,omitempty"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	Address     string            `json:"address,omitempty"`
	Reporter    *types.Reporter   `json:"reporter,omitempty"`
}

var ErrNotFound = errors.New("not found")

type fireMonitorClient struct {
	url        string
	httpClient http.Client
}

var tracer = otel.Tracer("fire-monitor-client")

func NewFireMonitorClient(fireMonitorURL string) FireMonitorClient {
	return &fireMonitorClient{
		url: strings.TrimSuffix(fireMonitorURL, "/"),
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *fireMonitorClient) ReportFire(ctx context.Context, report FireReport) (types.Alert, error) {
	var err error
	ctx, span := tracer.Start(ctx, "report-fire")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetLoggerFromContext(ctx)
	log.Debug().Msgf("reporting fire at %f,%f", report.Latitude, report.Longitude)

	body, err := json.Marshal(report)
	if err != nil {
		err = fmt.Errorf("failed to marshal report: %w", err)
		return types.Alert{}, err
	}

	alert := types.Alert{}
	err = c.do(ctx, http.MethodPost, "/api/v0/reports", body, http.StatusCreated, &alert)

	return alert, err
}

func (c *fireMonitorClient) GetAlert(ctx context.Context, alertID string) (types.Alert, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-alert")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	alert := types.Alert{}
	err = c.do(ctx, http.MethodGet, "/api/v0/alerts/"+url.PathEscape(alertID), nil, http.StatusOK, &alert)

	return alert, err
}

func (c *fireMonitorClient) GetAlerts(ctx context.Context, status ...types.AlertStatus) ([]types.Alert, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-alerts")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	path := "/api/v0/alerts"
	if len(status) > 0 {
		s := make([]string, 0, len(status))
		for _, st := range status {
			s = append(s, string(st))
		}
		path += "?" + url.Values{"status": {strings.Join(s, ",")}}.Encode()
	}

	alerts := []types.Alert{}
	err = c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &alerts)

	return alerts, err
}

func (c *fireMonitorClient) ResolveAlert(ctx context.Context, alertID string) (types.Alert, error) {
	var err error
	ctx, span := tracer.Start(ctx, "resolve-alert")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	alert := types.Alert{}
	err = c.do(ctx, http.MethodPost, "/api/v0/alerts/"+url.PathEscape(alertID)+"/resolve", nil, http.StatusOK, &alert)

	return alert, err
}

func (c *fireMonitorClient) do(ctx context.Context, method, path string, body []byte, expected int, data any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to fire monitor failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode != expected {
		return fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	response := struct {
		Data json.RawMessage `json:"data"`
	}{}

	err = json.Unmarshal(respBody, &response)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return json.Unmarshal(response.Data, data)
}

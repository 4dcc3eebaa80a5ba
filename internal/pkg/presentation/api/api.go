package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/diwise/iot-fire-monitor/internal/pkg/application/alerts"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/ingest"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/monitor"
	"github.com/diwise/iot-fire-monitor/internal/pkg/application/notifications"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/cache"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("iot-fire-monitor/api")

const defaultTestValue float64 = 100

// SensorRepository is the read side of the store used by the sensor and contact endpoints.
type SensorRepository interface {
	GetSensor(ctx context.Context, sensorID string) (types.Sensor, error)
	QuerySensors(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Sensor], error)
	LatestReading(ctx context.Context, sensorID string) (types.Reading, error)
	QueryContacts(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.EmergencyContact], error)
}

type PipelineStates interface {
	State(sensorID string) monitor.State
}

type TestSender interface {
	SendTest(ctx context.Context) (notifications.Result, error)
}

type Services struct {
	Alerts    alerts.AlertService
	Ingester  ingest.Ingester
	Sensors   SensorRepository
	Latest    cache.LatestReadings
	Pipelines PipelineStates
	Notifier  TestSender
	Events    http.Handler
}

func RegisterHandlers(ctx context.Context, router *chi.Mux, svc Services) *chi.Mux {
	log := logging.GetLoggerFromContext(ctx)

	router.Route("/api/v0", func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", queryAlertsHandler(log, svc.Alerts))
			r.Post("/", createAlertHandler(log, svc.Alerts))
			r.Get("/{alertID}", getAlertHandler(log, svc.Alerts))
			r.Post("/{alertID}/resolve", closeAlertHandler(log, "resolve-alert", svc.Alerts.Resolve))
			r.Post("/{alertID}/false-alarm", closeAlertHandler(log, "mark-false-alarm", svc.Alerts.MarkFalseAlarm))
		})

		r.Post("/reports", reportFireHandler(log, svc.Alerts))

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", querySensorsHandler(log, svc.Sensors, svc.Latest, svc.Pipelines))
			r.Get("/{sensorID}/latest", latestReadingHandler(log, svc.Sensors, svc.Latest))
			r.Post("/{sensorID}/test-reading", testReadingHandler(log, svc.Ingester))
		})

		r.Get("/contacts", queryContactsHandler(log, svc.Sensors))
		r.Post("/notifications/test", testNotificationsHandler(log, svc.Notifier))

		if svc.Events != nil {
			r.Handle("/events", svc.Events)
		}
	})

	return router
}

func requestLogger(ctx context.Context, log zerolog.Logger, span trace.Span) (context.Context, zerolog.Logger) {
	if traceID := span.SpanContext().TraceID(); traceID.IsValid() {
		log = log.With().Str("traceID", traceID.String()).Logger()
	}
	return logging.NewContextWithLogger(ctx, log), log
}

func queryAlertsHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		conditions := storage.ParseConditions(ctx, r.URL.Query())

		result, err := svc.Query(ctx, conditions...)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to query alerts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if strings.Contains(r.Header.Get("Accept"), "application/geo+json") {
			fc := NewFeatureCollectionWithAlerts(result.Data)
			response := newCollectionResponse(result, r.URL)
			fc.Meta, fc.Links = response.Meta, response.Links

			b, _ := json.Marshal(fc)
			w.Header().Add("Content-Type", "application/geo+json")
			w.WriteHeader(http.StatusOK)
			w.Write(b)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(newCollectionResponse(result, r.URL).Byte())
	}
}

func getAlertHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		alertID := chi.URLParam(r, "alertID")
		requestLogger = requestLogger.With().Str("alert_id", alertID).Logger()

		alert, err := svc.GetByID(ctx, alertID)
		if errors.Is(err, alerts.ErrAlertNotFound) {
			requestLogger.Debug().Msg("alert not found")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("could not fetch alert")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeData(w, http.StatusOK, alert)
	}
}

type manualAlert struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    types.Severity `json:"severity"`
	Latitude    *float64       `json:"latitude"`
	Longitude   *float64       `json:"longitude"`
	Address     string         `json:"address"`
}

func createAlertHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var m manualAlert
		err = json.Unmarshal(body, &m)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		candidate := types.Alert{
			Title:       m.Title,
			Description: m.Description,
			Origin:      types.AlertOriginManual,
			Severity:    lo.Ternary(m.Severity == "", types.SeverityHigh, m.Severity),
			Address:     m.Address,
		}
		if m.Latitude != nil && m.Longitude != nil {
			candidate.Location = &types.Location{Latitude: *m.Latitude, Longitude: *m.Longitude}
		}

		alert, _, err := svc.Create(ctx, candidate)
		if errors.Is(err, alerts.ErrInvalidAlert) {
			requestLogger.Info().Err(err).Msg("rejected manual alert")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to create alert")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Location", "/api/v0/alerts/"+alert.AlertID)
		writeData(w, http.StatusCreated, alert)
	}
}

func closeAlertHandler(log zerolog.Logger, operation string, close func(context.Context, string) (types.Alert, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), operation)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		alertID := chi.URLParam(r, "alertID")
		ctx, requestLogger = logging.With(ctx, "alert_id", alertID)

		alert, err := close(ctx, alertID)
		if errors.Is(err, alerts.ErrAlertNotFound) {
			requestLogger.Debug().Msg("alert not found")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msgf("unable to %s", operation)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeData(w, http.StatusOK, alert)
	}
}

func reportFireHandler(log zerolog.Logger, svc alerts.AlertService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "report-fire")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var report alerts.Report
		err = json.Unmarshal(body, &report)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to unmarshal report")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		alert, err := svc.Report(ctx, report)
		if errors.Is(err, alerts.ErrInvalidAlert) {
			requestLogger.Info().Err(err).Msg("rejected fire report")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to create alert from report")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		requestLogger.Info().Str("alert_id", alert.AlertID).Msg("fire report received")

		w.Header().Add("Location", "/api/v0/alerts/"+alert.AlertID)
		writeData(w, http.StatusCreated, alert)
	}
}

func querySensorsHandler(log zerolog.Logger, sensors SensorRepository, latest cache.LatestReadings, pipelines PipelineStates) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-sensors")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		result, err := sensors.QuerySensors(ctx, storage.ParseConditions(ctx, r.URL.Query())...)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to query sensors")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		now := timeNow()

		statuses := lo.Map(result.Data, func(s types.Sensor, _ int) sensorStatus {
			status := sensorStatus{
				Sensor:        s,
				IsOnline:      s.Online(now, onlineWindow),
				PipelineState: pipelines.State(s.SensorID),
			}
			if reading, err := latestReading(ctx, sensors, latest, s.SensorID); err == nil {
				status.Latest = &reading
			}
			return status
		})

		response := newCollectionResponse(types.Collection[sensorStatus]{
			Data:       statuses,
			Count:      result.Count,
			Offset:     result.Offset,
			Limit:      result.Limit,
			TotalCount: result.TotalCount,
		}, r.URL)

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(response.Byte())
	}
}

func latestReadingHandler(log zerolog.Logger, sensors SensorRepository, latest cache.LatestReadings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "latest-reading")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		sensorID := chi.URLParam(r, "sensorID")

		if _, err = sensors.GetSensor(ctx, sensorID); err != nil {
			if errors.Is(err, storage.ErrSensorNotFound) || errors.Is(err, storage.ErrNoID) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			requestLogger.Error().Err(err).Msg("could not fetch sensor")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		reading, err := latestReading(ctx, sensors, latest, sensorID)
		if errors.Is(err, storage.ErrNoRows) {
			err = nil
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("could not fetch latest reading")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeData(w, http.StatusOK, reading)
	}
}

// latestReading prefers the cache and falls back to the reading history, warming the
// cache on a hit.
func latestReading(ctx context.Context, sensors SensorRepository, latest cache.LatestReadings, sensorID string) (types.Reading, error) {
	reading, err := latest.Get(ctx, sensorID)
	if err == nil {
		return reading, nil
	}

	reading, err = sensors.LatestReading(ctx, sensorID)
	if err != nil {
		return types.Reading{}, err
	}

	latest.Put(ctx, reading)

	return reading, nil
}

func testReadingHandler(log zerolog.Logger, ing ingest.Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "test-reading")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		sensorID := chi.URLParam(r, "sensorID")
		ctx, requestLogger = logging.With(ctx, "sensor_id", sensorID)

		value := defaultTestValue
		if v := r.URL.Query().Get("value"); v != "" {
			value, err = strconv.ParseFloat(v, 64)
			if err != nil {
				requestLogger.Debug().Err(err).Msg("invalid test value")
				http.Error(w, "value must be a number", http.StatusBadRequest)
				return
			}
		}

		result, err := ing.TestReading(ctx, sensorID, value)
		if errors.Is(err, storage.ErrSensorNotFound) || errors.Is(err, storage.ErrNoID) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			requestLogger.Error().Err(err).Msg("test reading failed")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		requestLogger.Info().Float64("value", value).Bool("triggered", result.Outcome.Triggered).Msg("test reading injected")

		writeData(w, http.StatusOK, result)
	}
}

func queryContactsHandler(log zerolog.Logger, sensors SensorRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-contacts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		conditions := append([]storage.ConditionFunc{storage.WithActive(true)}, storage.ParseConditions(ctx, r.URL.Query())...)

		result, err := sensors.QueryContacts(ctx, conditions...)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to query contacts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(newCollectionResponse(result, r.URL).Byte())
	}
}

func testNotificationsHandler(log zerolog.Logger, notifier TestSender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "test-notifications")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		ctx, requestLogger := requestLogger(ctx, log, span)

		result, err := notifier.SendTest(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("test notification failed")
			w.Header().Add("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			w.Write(ApiResponse{Data: map[string]any{"result": result, "error": err.Error()}}.Byte())
			return
		}

		writeData(w, http.StatusOK, result)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(ApiResponse{Data: data}.Byte())
}

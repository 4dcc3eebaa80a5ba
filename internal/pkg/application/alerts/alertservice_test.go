package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func TestConcurrentTriggersCreateOneAlert(t *testing.T) {
	is, ctx, svc, n, _ := testSetup(t)
	e := NewEvaluator(svc)

	const triggers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	ids := map[string]struct{}{}

	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			outcome, err := e.Evaluate(ctx, kitchen(), v)
			is.NoErr(err)

			mu.Lock()
			defer mu.Unlock()
			if outcome.Created {
				created++
			}
			ids[outcome.Alert.AlertID] = struct{}{}
		}(31 + float64(i))
	}
	wg.Wait()

	is.Equal(created, 1)
	is.Equal(len(ids), 1)
	is.Equal(len(n.SubmitCalls()), 1)

	active, err := svc.Query(ctx, storage.WithSensorID("kitchen"), storage.WithStatus(types.AlertStatusActive))
	is.NoErr(err)
	is.Equal(len(active.Data), 1)

	is.Equal(svc.(*alertSvc).locks.size(), 0)
}

func TestCreatePublishesAlertCreated(t *testing.T) {
	is, ctx, svc, _, m := testSetup(t)

	a, created, err := svc.Create(ctx, types.Alert{
		Title:    "Manual alarm",
		Origin:   types.AlertOriginManual,
		Severity: types.SeverityHigh,
		Address:  "Warehouse 4",
	})
	is.NoErr(err)
	is.True(created)
	is.True(a.AlertID != "")
	is.True(!a.CreatedAt.IsZero())

	calls := m.PublishOnTopicCalls()
	is.Equal(len(calls), 1)
	is.Equal(calls[0].Message.TopicName(), "alerts.alertCreated")

	evt, ok := calls[0].Message.(*types.AlertCreated)
	is.True(ok)
	is.Equal(evt.Alert.AlertID, a.AlertID)
}

func TestCreateRejectsInvalidAlerts(t *testing.T) {
	is, ctx, svc, n, _ := testSetup(t)

	testCases := []types.Alert{
		{Origin: types.AlertOriginManual, Severity: types.SeverityHigh, Address: "somewhere"},
		{Title: "t", Origin: "smoke_signal", Severity: types.SeverityHigh, Address: "somewhere"},
		{Title: "t", Origin: types.AlertOriginManual, Severity: "extreme", Address: "somewhere"},
		{Title: "t", Origin: types.AlertOriginManual, Severity: types.SeverityHigh},
		{Title: "t", Origin: types.AlertOriginSensor, Severity: types.SeverityHigh, Address: "somewhere"},
	}

	for _, tc := range testCases {
		_, _, err := svc.Create(ctx, tc)
		is.True(errors.Is(err, ErrInvalidAlert))
	}

	is.Equal(len(n.SubmitCalls()), 0)
}

func TestReportDefaults(t *testing.T) {
	is, ctx, svc, n, _ := testSetup(t)

	lat, lon := 40.7580, -73.9855

	a, err := svc.Report(ctx, Report{
		Description: "Smoke seen from the highway",
		Latitude:    &lat,
		Longitude:   &lon,
		Reporter:    &types.Reporter{Name: "Jane", Phone: "+15550001"},
	})
	is.NoErr(err)
	is.Equal(a.Title, "Community Fire Report")
	is.Equal(a.Origin, types.AlertOriginCommunity)
	is.Equal(a.Severity, types.SeverityMedium)
	is.Equal(a.Status, types.AlertStatusActive)
	is.Equal(a.Reporter.Name, "Jane")

	b, err := svc.Report(ctx, Report{
		Description: "Flames near the park",
		Origin:      types.AlertOriginBot,
		Severity:    types.SeverityCritical,
		Latitude:    &lat,
		Longitude:   &lon,
	})
	is.NoErr(err)
	is.Equal(b.Title, "WhatsApp Fire Report")
	is.Equal(b.Severity, types.SeverityCritical)

	is.Equal(len(n.SubmitCalls()), 2)
}

func TestReportValidation(t *testing.T) {
	is, ctx, svc, _, _ := testSetup(t)

	lat, lon := 40.7580, -73.9855

	_, err := svc.Report(ctx, Report{Latitude: &lat, Longitude: &lon})
	is.True(errors.Is(err, ErrInvalidAlert))

	_, err = svc.Report(ctx, Report{Description: "smoke", Latitude: &lat})
	is.True(errors.Is(err, ErrInvalidAlert))

	_, err = svc.Report(ctx, Report{Description: "smoke", Latitude: &lat, Longitude: &lon, Origin: types.AlertOriginSensor})
	is.True(errors.Is(err, ErrInvalidAlert))

	_, err = svc.Report(ctx, Report{Description: "smoke", Latitude: &lat, Longitude: &lon, Severity: "extreme"})
	is.True(errors.Is(err, ErrInvalidAlert))
}

func TestResolveIsIdempotent(t *testing.T) {
	is, ctx, svc, _, m := testSetup(t)
	e := NewEvaluator(svc)

	outcome, err := e.Evaluate(ctx, kitchen(), 45)
	is.NoErr(err)

	resolved, err := svc.Resolve(ctx, outcome.Alert.AlertID)
	is.NoErr(err)
	is.Equal(resolved.Status, types.AlertStatusResolved)
	is.True(resolved.ResolvedAt != nil)

	again, err := svc.Resolve(ctx, outcome.Alert.AlertID)
	is.NoErr(err)
	is.Equal(again.Status, types.AlertStatusResolved)
	is.True(again.ResolvedAt.Equal(*resolved.ResolvedAt))

	is.Equal(len(m.PublishOnTopicCalls()), 2)

	next, err := e.Evaluate(ctx, kitchen(), 45)
	is.NoErr(err)
	is.True(next.Created)
	is.True(next.Alert.AlertID != outcome.Alert.AlertID)
}

func TestMarkFalseAlarm(t *testing.T) {
	is, ctx, svc, _, _ := testSetup(t)
	e := NewEvaluator(svc)

	outcome, err := e.Evaluate(ctx, kitchen(), 45)
	is.NoErr(err)

	a, err := svc.MarkFalseAlarm(ctx, outcome.Alert.AlertID)
	is.NoErr(err)
	is.Equal(a.Status, types.AlertStatusFalseAlarm)
	is.True(a.ResolvedAt == nil)

	a, err = svc.Resolve(ctx, outcome.Alert.AlertID)
	is.NoErr(err)
	is.Equal(a.Status, types.AlertStatusFalseAlarm)
}

func TestResolveUnknownAlert(t *testing.T) {
	is, ctx, svc, _, _ := testSetup(t)

	_, err := svc.Resolve(ctx, "no-such-alert")
	is.True(errors.Is(err, ErrAlertNotFound))

	_, err = svc.GetByID(ctx, "")
	is.True(errors.Is(err, ErrAlertNotFound))
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	is := is.New(t)
	locks := newKeyedMutex()

	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	is.Equal(locks.size(), 2)

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		unlock := locks.Lock("a")
		close(acquired)
		unlock()
		close(released)
	}()

	select {
	case <-acquired:
		t.Fatal("lock on a was acquired twice")
	default:
	}

	unlockA()
	<-acquired
	<-released
	unlockB()

	is.Equal(locks.size(), 0)
}

func testSetup(t *testing.T) (*is.I, context.Context, AlertService, *NotifierMock, *messaging.MsgContextMock) {
	is := is.New(t)
	ctx := context.Background()

	db, err := database.New(database.NewSQLiteConnector(ctx, ""))
	is.NoErr(err)
	is.NoErr(db.Initialize(ctx))
	t.Cleanup(db.Close)

	is.NoErr(db.SaveSensor(ctx, kitchen()))

	n := &NotifierMock{}
	m := &messaging.MsgContextMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return nil
		},
	}

	return is, ctx, New(db, m, n), n, m
}

func TestReportReceivedHandler(t *testing.T) {
	is, ctx, svc, n, _ := testSetup(t)

	handler := ReportReceivedHandler(svc)

	handler(ctx, amqp.Delivery{
		RoutingKey: ReportReceivedTopic,
		Body:       []byte(`{"description":"Smoke behind the school","latitude":40.75,"longitude":-73.98,"origin":"bot_report","reporter":{"phone":"+15550100"}}`),
	}, zerolog.Logger{})

	handler(ctx, amqp.Delivery{RoutingKey: ReportReceivedTopic, Body: []byte(`{"description":"no coordinates"}`)}, zerolog.Logger{})
	handler(ctx, amqp.Delivery{RoutingKey: ReportReceivedTopic, Body: []byte(`not json`)}, zerolog.Logger{})

	created, err := svc.Query(ctx, storage.WithOrigin(types.AlertOriginBot))
	is.NoErr(err)
	is.Equal(len(created.Data), 1)
	is.Equal(created.Data[0].Title, "WhatsApp Fire Report")
	is.Equal(created.Data[0].Reporter.Phone, "+15550100")
	is.Equal(len(n.SubmitCalls()), 1)
}

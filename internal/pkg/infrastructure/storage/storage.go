package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

func NewConfig(host, user, password, port, dbname, sslmode string) Config {
	return Config{
		host:     host,
		user:     user,
		password: password,
		port:     port,
		dbname:   dbname,
		sslmode:  sslmode,
	}
}

func NewPool(ctx context.Context, config Config) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, config.ConnStr())
	if err != nil {
		return nil, err
	}

	err = p.Ping(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

var (
	ErrNoRows         = errors.New("no rows in result set")
	ErrNoID           = errors.New("data contains no id")
	ErrStoreFailed    = errors.New("could not store data")
	ErrSensorNotFound = errors.New("sensor not found")
)

// Store is the persistence contract shared by the PostgreSQL and the embedded backends.
type Store interface {
	Initialize(ctx context.Context) error
	Close()

	GetSensor(ctx context.Context, sensorID string) (types.Sensor, error)
	QuerySensors(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Sensor], error)
	SaveSensor(ctx context.Context, sensor types.Sensor) error

	AddReading(ctx context.Context, reading types.Reading) error
	LatestReading(ctx context.Context, sensorID string) (types.Reading, error)
	QueryReadings(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Reading], error)

	CreateAlert(ctx context.Context, alert types.Alert) (types.Alert, bool, error)
	GetAlert(ctx context.Context, alertID string) (types.Alert, error)
	QueryAlerts(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Alert], error)
	UpdateAlertStatus(ctx context.Context, alertID string, status types.AlertStatus, resolvedAt *time.Time) (bool, error)
	SetNotificationFlags(ctx context.Context, alertID string, smsSent, emailSent bool) error

	QueryContacts(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.EmergencyContact], error)
	SaveContact(ctx context.Context, contact types.EmergencyContact) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Storage struct {
	pool *pgxpool.Pool
}

func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

func New(ctx context.Context, config Config) (*Storage, error) {
	pool, err := NewPool(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) Initialize(ctx context.Context) error {
	return s.CreateTables(ctx)
}

func (s *Storage) CreateTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sensors (
			sensor_id		TEXT	NOT NULL,
			name			TEXT	NOT NULL,
			kind			TEXT	NOT NULL,
			place			TEXT	NULL,
			latitude		DOUBLE PRECISION NULL,
			longitude		DOUBLE PRECISION NULL,
			active			BOOLEAN	NOT NULL DEFAULT TRUE,
			threshold		DOUBLE PRECISION NOT NULL,
			port			TEXT	NULL,
			last_reading	DOUBLE PRECISION NULL,
			last_update		timestamp with time zone NULL,
			created_on		timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			modified_on		timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_sensors PRIMARY KEY (sensor_id)
		);

		CREATE TABLE IF NOT EXISTS readings (
			reading_id		TEXT	NOT NULL,
			sensor_id		TEXT	NOT NULL REFERENCES sensors (sensor_id),
			value			DOUBLE PRECISION NOT NULL,
			observed_at		timestamp with time zone NOT NULL,
			CONSTRAINT pkey_readings PRIMARY KEY (reading_id)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			alert_id		TEXT	NOT NULL,
			title			TEXT	NOT NULL,
			description		TEXT	NULL,
			origin			TEXT	NOT NULL,
			status			TEXT	NOT NULL DEFAULT 'active',
			severity		TEXT	NOT NULL,
			latitude		DOUBLE PRECISION NULL,
			longitude		DOUBLE PRECISION NULL,
			address			TEXT	NULL,
			sensor_id		TEXT	NULL REFERENCES sensors (sensor_id),
			sensor_reading	DOUBLE PRECISION NULL,
			created_at		timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at		timestamp with time zone NULL,
			sms_sent		BOOLEAN	NOT NULL DEFAULT FALSE,
			email_sent		BOOLEAN	NOT NULL DEFAULT FALSE,
			reporter_name	TEXT	NULL,
			reporter_phone	TEXT	NULL,
			reporter_email	TEXT	NULL,
			CONSTRAINT pkey_alerts PRIMARY KEY (alert_id)
		);

		CREATE TABLE IF NOT EXISTS emergency_contacts (
			contact_id		TEXT	NOT NULL,
			name			TEXT	NOT NULL,
			phone			TEXT	NULL,
			email			TEXT	NULL,
			role			TEXT	NOT NULL DEFAULT '',
			active			BOOLEAN	NOT NULL DEFAULT TRUE,
			CONSTRAINT pkey_emergency_contacts PRIMARY KEY (contact_id)
		);

		CREATE INDEX IF NOT EXISTS readings_sensor_observed_idx ON readings (sensor_id, observed_at DESC);
		CREATE INDEX IF NOT EXISTS alerts_status_created_idx ON alerts (status, created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS alerts_one_active_per_sensor_idx ON alerts (sensor_id) WHERE status = 'active' AND sensor_id IS NOT NULL;
	`)
	if err != nil {
		return err
	}

	return nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func offsetLimit(condition *Condition) string {
	var ol string

	if condition.offset != nil {
		ol += fmt.Sprintf("OFFSET %d ", condition.Offset())
	}

	if condition.limit != nil {
		ol += fmt.Sprintf("LIMIT %d ", condition.Limit())
	}

	return ol
}

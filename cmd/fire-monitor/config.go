package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/application/notifications"
	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

type settings struct {
	ListenAddress string
	ServicePort   string
	ConfigFile    string

	Postgres struct {
		Host     string
		Port     string
		User     string
		Password string
		DBName   string
		SSLMode  string
	}
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	RabbitMQHost string

	Twilio notifications.TwilioConfig
	SMTP   notifications.SMTPConfig

	AttemptTimeout time.Duration
	MaxDispatches  int

	ReadTimeout   time.Duration
	WatchInterval time.Duration
	OfflineWindow time.Duration
}

func (s settings) usePostgres() bool {
	return s.Postgres.Host != ""
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("listen-address", "0.0.0.0", "address the api listens on")
	flags.String("service-port", "8080", "port the api listens on")

	flags.String("postgres-host", "", "postgres host, the embedded store is used when empty")
	flags.String("postgres-port", "5432", "postgres port")
	flags.String("postgres-user", "", "postgres user")
	flags.String("postgres-password", "", "postgres password")
	flags.String("postgres-dbname", "diwise", "postgres database name")
	flags.String("postgres-sslmode", "disable", "postgres ssl mode")
	flags.String("sqlite-path", "fire-monitor.db", "path to the embedded database file")

	flags.String("redis-addr", "", "redis address for the latest reading cache, an in-process cache is used when empty")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database")
	flags.Duration("cache-ttl", 10*time.Minute, "how long a latest reading is kept in the cache")

	flags.String("rabbitmq-host", "", "rabbitmq host, events are not published when empty")

	flags.String("twilio-url", notifications.DefaultTwilioURL, "twilio api base url")
	flags.String("twilio-account-sid", "", "twilio account sid")
	flags.String("twilio-auth-token", "", "twilio auth token")
	flags.String("twilio-phone-number", "", "twilio sender phone number")

	flags.String("smtp-server", "", "smtp server host")
	flags.Int("smtp-port", 587, "smtp server port")
	flags.String("email-user", "", "smtp user")
	flags.String("email-password", "", "smtp password")
	flags.String("email-from", "", "sender address, defaults to the smtp user")

	flags.Duration("notification-timeout", 0, "timeout for a single notification attempt, 0 leaves it to the channel clients")
	flags.Int("max-dispatches", 4, "number of alerts dispatched concurrently")

	flags.Duration("read-timeout", time.Second, "device read timeout")
	flags.Duration("watch-interval", time.Minute, "how often pipelines are restarted and sensors are checked for silence")
	flags.Duration("offline-window", 5*time.Minute, "how long a sensor may stay silent before it is reported as not observed")
}

// newViper binds flags to environment variables, e.g. --postgres-host to POSTGRES_HOST.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	return v, nil
}

func loadSettings(v *viper.Viper) settings {
	s := settings{
		ListenAddress: v.GetString("listen-address"),
		ServicePort:   v.GetString("service-port"),
		ConfigFile:    v.GetString("config"),
		SQLitePath:    v.GetString("sqlite-path"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		CacheTTL:      v.GetDuration("cache-ttl"),
		RabbitMQHost:  v.GetString("rabbitmq-host"),
		Twilio: notifications.TwilioConfig{
			BaseURL:    v.GetString("twilio-url"),
			AccountSID: v.GetString("twilio-account-sid"),
			AuthToken:  v.GetString("twilio-auth-token"),
			From:       v.GetString("twilio-phone-number"),
		},
		SMTP: notifications.SMTPConfig{
			Host:     v.GetString("smtp-server"),
			Port:     v.GetInt("smtp-port"),
			Username: v.GetString("email-user"),
			Password: v.GetString("email-password"),
			From:     v.GetString("email-from"),
		},
		AttemptTimeout: v.GetDuration("notification-timeout"),
		MaxDispatches:  v.GetInt("max-dispatches"),
		ReadTimeout:    v.GetDuration("read-timeout"),
		WatchInterval:  v.GetDuration("watch-interval"),
		OfflineWindow:  v.GetDuration("offline-window"),
	}

	s.Postgres.Host = v.GetString("postgres-host")
	s.Postgres.Port = v.GetString("postgres-port")
	s.Postgres.User = v.GetString("postgres-user")
	s.Postgres.Password = v.GetString("postgres-password")
	s.Postgres.DBName = v.GetString("postgres-dbname")
	s.Postgres.SSLMode = v.GetString("postgres-sslmode")

	return s
}

type seedConfig struct {
	Sensors  []types.Sensor           `yaml:"sensors"`
	Contacts []types.EmergencyContact `yaml:"contacts"`

	Notifications *notifications.EventConfig `yaml:"-"`
}

func parseSeedConfig(r io.Reader) (*seedConfig, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := &seedConfig{}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not parse configuration: %w", err)
	}

	cfg.Notifications, err = notifications.LoadConfiguration(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("could not parse notification configuration: %w", err)
	}

	return cfg, nil
}

type seedStore interface {
	SaveSensor(ctx context.Context, sensor types.Sensor) error
	SaveContact(ctx context.Context, contact types.EmergencyContact) error
}

// seed upserts the configured sensors and contacts. Contacts without an id are given one
// derived from their details so that seeding twice does not duplicate them.
func seed(ctx context.Context, store seedStore, cfg *seedConfig) error {
	log := logging.GetLoggerFromContext(ctx)

	for _, s := range cfg.Sensors {
		if s.SensorID == "" {
			return fmt.Errorf("sensor %q has no sensorID", s.Name)
		}
		if err := store.SaveSensor(ctx, s); err != nil {
			return fmt.Errorf("could not seed sensor %s: %w", s.SensorID, err)
		}
	}

	for _, c := range cfg.Contacts {
		if c.ContactID == "" {
			c.ContactID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.Name+"|"+c.Phone+"|"+c.Email)).String()
		}
		if err := store.SaveContact(ctx, c); err != nil {
			return fmt.Errorf("could not seed contact %s: %w", c.ContactID, err)
		}
	}

	log.Info().Msgf("seeded %d sensors and %d contacts", len(cfg.Sensors), len(cfg.Contacts))

	return nil
}

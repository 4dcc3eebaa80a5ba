package database

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ConnectorFunc func() (*gorm.DB, zerolog.Logger, error)

// NewSQLiteConnector opens an SQLite database at path, or a private in-memory
// database when path is empty. The pool is limited to a single connection so that
// transactions are serialized and an in-memory database is never reopened empty.
func NewSQLiteConnector(ctx context.Context, path string) ConnectorFunc {
	log := logging.GetLoggerFromContext(ctx)

	dsn := "file::memory:"
	if path != "" {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	}

	return func() (*gorm.DB, zerolog.Logger, error) {
		sublogger := log.With().Str("database", dsn).Logger()

		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.New(
				&logadapter{log: sublogger},
				logger.Config{
					SlowThreshold:             time.Second,
					LogLevel:                  logger.Silent,
					IgnoreRecordNotFoundError: true,
					Colorful:                  false,
				},
			),
			CreateBatchSize: 1000,
		})
		if err != nil {
			return nil, sublogger, err
		}

		db.Exec("PRAGMA foreign_keys = ON")

		sqldb, err := db.DB()
		if err != nil {
			return nil, sublogger, err
		}
		sqldb.SetMaxOpenConns(1)

		return db, sublogger, nil
	}
}

// logadapter provides a Printf interface to the gorm logger
// so that we can forward the log data to zerolog
type logadapter struct {
	log zerolog.Logger
}

func (l *logadapter) Printf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

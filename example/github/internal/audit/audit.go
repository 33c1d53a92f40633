package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Register postgres driver
	"github.com/rs/zerolog"

	"github.com/kroma-labs/relay-go/apicall"
	"github.com/kroma-labs/relay-go/eventsink"
	"github.com/kroma-labs/relay-go/example/github/internal/config"
)

// Sink is the buffered audit sink plus the connection it writes through.
type Sink struct {
	*eventsink.Async
	db *sqlx.DB
}

// Open connects to dsn, creates the audit table and starts the buffered
// writer. Only success and error events are persisted.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Sink, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	if _, err := db.ExecContext(ctx, eventsink.CreateTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	sink, err := eventsink.NewSQLSink(db,
		eventsink.WithDBSystem(config.DefaultDBSystem),
		eventsink.WithSQLLogger(logger),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	filtered := eventsink.OnlyPhases(sink, apicall.PhaseSuccess, apicall.PhaseError)
	return &Sink{
		Async: eventsink.NewAsync(filtered, config.AuditBuffer, logger),
		db:    db,
	}, nil
}

// Close flushes buffered events, then closes the database.
func (s *Sink) Close(ctx context.Context) error {
	flushErr := s.Async.Close(ctx)
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

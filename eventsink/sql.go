package eventsink

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/relay-go/apicall"
)

const scope = "github.com/kroma-labs/relay-go/eventsink"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CreateTableSQL is a portable schema for the default audit table.
const CreateTableSQL = `CREATE TABLE IF NOT EXISTS apicall_events (
	call_id     VARCHAR(36)  NOT NULL,
	event_name  VARCHAR(255) NOT NULL,
	service     VARCHAR(128) NOT NULL,
	endpoint    VARCHAR(128) NOT NULL,
	phase       VARCHAR(16)  NOT NULL,
	attempt     INTEGER      NOT NULL,
	method      VARCHAR(16)  NOT NULL,
	url         TEXT         NOT NULL,
	status      INTEGER      NOT NULL,
	error       TEXT         NOT NULL,
	payload     TEXT         NOT NULL,
	created_at  TIMESTAMP    NOT NULL
)`

// auditRow is one persisted event. Credentials and headers are never stored.
type auditRow struct {
	CallID    string    `db:"call_id"`
	EventName string    `db:"event_name"`
	Service   string    `db:"service"`
	Endpoint  string    `db:"endpoint"`
	Phase     string    `db:"phase"`
	Attempt   int       `db:"attempt"`
	Method    string    `db:"method"`
	URL       string    `db:"url"`
	Status    int       `db:"status"`
	Error     string    `db:"error"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

type auditPayload struct {
	PathParams map[string]string `json:"path_params,omitempty"`
	Query      url.Values        `json:"query,omitempty"`
	Context    any               `json:"context,omitempty"`
}

// SQLSink appends one row per event to an audit table.
//
// Emit runs the insert synchronously; wrap the sink in NewAsync to keep
// database latency off the call path. Insert failures are logged.
type SQLSink struct {
	db       *sqlx.DB
	insert   string
	table    string
	dbSystem string
	now      func() time.Time
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// SQLOption configures a SQLSink.
type SQLOption func(*SQLSink)

// WithTable writes to table instead of apicall_events.
func WithTable(table string) SQLOption {
	return func(s *SQLSink) {
		s.table = table
	}
}

// WithDBSystem sets the db.system.name span attribute, e.g. "postgresql".
func WithDBSystem(system string) SQLOption {
	return func(s *SQLSink) {
		s.dbSystem = system
	}
}

// WithSQLLogger sets the logger for insert failures.
func WithSQLLogger(logger zerolog.Logger) SQLOption {
	return func(s *SQLSink) {
		s.logger = logger
	}
}

// WithSQLTracerProvider sets the tracer provider for insert spans.
// Default: otel.GetTracerProvider()
func WithSQLTracerProvider(tp trace.TracerProvider) SQLOption {
	return func(s *SQLSink) {
		s.tracer = tp.Tracer(scope)
	}
}

// WithNow overrides the created_at clock.
func WithNow(now func() time.Time) SQLOption {
	return func(s *SQLSink) {
		s.now = now
	}
}

// NewSQLSink returns a sink writing through db. It fails on a table name
// that is not a plain or schema-qualified identifier.
func NewSQLSink(db *sqlx.DB, opts ...SQLOption) (*SQLSink, error) {
	s := &SQLSink{
		db:     db,
		table:  "apicall_events",
		now:    time.Now,
		logger: zerolog.Nop(),
		tracer: otel.GetTracerProvider().Tracer(scope),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("eventsink: invalid table name %q", s.table)
	}
	s.insert = fmt.Sprintf(`INSERT INTO %s
	(call_id, event_name, service, endpoint, phase, attempt, method, url, status, error, payload, created_at)
	VALUES
	(:call_id, :event_name, :service, :endpoint, :phase, :attempt, :method, :url, :status, :error, :payload, :created_at)`,
		s.table)

	return s, nil
}

func (s *SQLSink) Emit(ctx context.Context, event apicall.Event) {
	if err := s.Write(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("event", event.Name).Msg("audit insert failed")
	}
}

// Write inserts event and reports the database error, if any.
func (s *SQLSink) Write(ctx context.Context, event apicall.Event) error {
	row, err := s.row(event)
	if err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.operation.name", "INSERT"),
		attribute.String("db.collection.name", s.table),
	}
	if s.dbSystem != "" {
		attrs = append(attrs, attribute.String("db.system.name", s.dbSystem))
	}
	ctx, span := s.tracer.Start(ctx, "INSERT "+s.table,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	if _, err := s.db.NamedExecContext(ctx, s.insert, row); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("eventsink: insert into %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLSink) row(event apicall.Event) (auditRow, error) {
	row := auditRow{
		EventName: event.Name,
		Service:   event.Service,
		Endpoint:  event.Endpoint,
		Phase:     string(event.Phase),
		CreatedAt: s.now().UTC(),
	}

	if call := event.Call; call != nil {
		row.CallID = call.ID
		row.Attempt = call.Attempt
		row.Method = call.Request.Method
		row.URL = call.Request.URL
		if call.Response != nil {
			row.Status = call.Response.Status
		}
	}
	if event.Err != nil {
		row.Error = event.Err.Error()
		if status := apicall.StatusCode(event.Err); status != 0 {
			row.Status = status
		}
	}

	payload, err := json.Marshal(auditPayload{
		PathParams: event.Params.PathParams,
		Query:      event.Params.Query,
		Context:    event.Context,
	})
	if err != nil {
		return auditRow{}, fmt.Errorf("eventsink: encode audit payload: %w", err)
	}
	row.Payload = string(payload)

	return row, nil
}

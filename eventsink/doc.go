// Package eventsink provides apicall.EventSink implementations.
//
//   - LogSink writes one zerolog entry per event.
//   - PrometheusSink counts events and failures with client_golang.
//   - SQLSink appends an audit row per event through sqlx.
//   - Recorder keeps events in memory for tests.
//   - Multi fans out, OnlyPhases filters and Async buffers.
//
// Example:
//
//	prom, err := eventsink.NewPrometheusSink()
//	if err != nil {
//	    return err
//	}
//	audit, err := eventsink.NewSQLSink(db, eventsink.WithDBSystem("postgresql"))
//	if err != nil {
//	    return err
//	}
//	async := eventsink.NewAsync(eventsink.OnlyPhases(audit, apicall.PhaseSuccess, apicall.PhaseError), 1024, logger)
//	defer async.Close(ctx)
//
//	svc, err := apicall.New(
//	    apicall.WithEventSink(eventsink.Multi(eventsink.NewLogSink(logger), prom, async)),
//	    ...
//	)
package eventsink

// Package telemetry provides observability for endstate runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and a run event stream.
//
// # Usage
//
// Initialize telemetry at process start:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithRunID(runID).WithAppID("git").Info("installing")
//	logger.WithError(err).Warn("history write failed")
//
// Logs go to stderr by default so that command output on stdout stays
// machine-readable.
//
// # Tracing
//
// Each run gets a root span and each app a child span:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, "apply", runID, manifestPath)
//	defer span.End()
//
//	ctx, appSpan := tel.Tracer.StartAppSpan(ctx, "git", "winget")
//	telemetry.RecordError(appSpan, err)
//	appSpan.End()
//
// Exporters: stdout (pretty-printed to stderr), otlp (gRPC) and none.
//
// # Metrics
//
// endstate exits after every run, so metrics are not scraped. Instead
// Shutdown writes them to Metrics.Textfile for the node-exporter textfile
// collector:
//
//	endstate_runs_total{command,status}
//	endstate_run_duration_seconds{command}
//	endstate_app_results_total{driver,status,reason}
//	endstate_drift_apps{kind}
//	endstate_state_writes_total{result}
//
// # Events
//
// The EventPublisher delivers run and item events synchronously to its
// subscribers. JSONLinesSubscriber streams them as JSON lines, which is
// what `endstate apply --events` uses.
package telemetry

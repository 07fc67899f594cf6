// Package telemetry sets up OpenTelemetry tracing, metrics and log export
// for docchat.
//
// Traces, metrics and logs are exported over OTLP (gRPC by default, or
// http/protobuf). Telemetry is disabled unless TELEMETRY_ENABLED is set; in
// that case Tracer and Meter hand out the global no-op implementations so
// instrumented code never needs to check.
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	meter := tel.Meter("docchat.http")
package telemetry

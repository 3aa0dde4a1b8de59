// Package telemetry sets up the OpenTelemetry trace and metric providers
// for copyd.
//
// Spans and instruments are created through the otel globals by the
// packages that own them (pipeline.run, copyd.http.*). This package only
// decides where that data goes: an OTLP collector over gRPC or
// HTTP/protobuf, or nowhere when telemetry is disabled.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures never stop the service. New marks the instance as
// degraded and the otel globals keep their no-op providers.
//
// Tests install in-memory providers with NewTestTelemetry.
package telemetry

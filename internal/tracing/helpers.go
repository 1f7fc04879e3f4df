package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/vattentrygg/payments"

// DBOperation is the db.operation attribute of a store span.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"
)

// Database systems reported in the db.system attribute.
const (
	DBSystemPostgres = "postgresql"
	DBSystemMongo    = "mongodb"
	DBSystemRedis    = "redis"
)

// Gateway span attributes.
const (
	AttrGatewaySystem    = attribute.Key("payment.gateway")
	AttrGatewayOperation = attribute.Key("payment.gateway.operation")
)

// StartDBSpan starts a client span for one store call against a table,
// collection or key prefix. The returned func ends the span and records err.
//
//	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemMongo, "payments", tracing.DBOperationUpdate)
//	defer endSpan(err)
func StartDBSpan(ctx context.Context, system, collection string, operation DBOperation) (context.Context, func(error)) {
	name := string(operation)
	attrs := []attribute.KeyValue{
		attribute.String("db.system", system),
		attribute.String("db.operation", string(operation)),
	}
	if collection != "" {
		name += " " + collection
		attrs = append(attrs, attribute.String("db.collection.name", collection))
	}
	return start(ctx, name, trace.SpanKindClient, attrs)
}

// StartGatewaySpan starts a client span for one payment gateway request,
// named "stripe <operation>".
func StartGatewaySpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append([]attribute.KeyValue{
		AttrGatewaySystem.String("stripe"),
		AttrGatewayOperation.String(operation),
	}, attrs...)
	return start(ctx, "stripe "+operation, trace.SpanKindClient, attrs)
}

// StartSpan starts an internal span such as payment.reconcile_session.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	return start(ctx, name, trace.SpanKindInternal, attrs)
}

func start(ctx context.Context, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

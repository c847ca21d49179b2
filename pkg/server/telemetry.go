package server

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/syncore/pkg/push"
)

// Default tracer name for syncore servers.
const defaultTracerName = "syncore"

// Span attribute keys.
const (
	attrSessionID    = attribute.Key("syncore.session_id")
	attrTransport    = attribute.Key("syncore.transport")
	attrMessageBytes = attribute.Key("syncore.message_bytes")
	attrRPCCount     = attribute.Key("syncore.rpc_count")
	attrSyncID       = attribute.Key("syncore.sync_id")
)

func (s *Server) startSpan(ctx context.Context, name, sessionID string, transport push.Transport) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attrSessionID.String(sessionID),
			attrTransport.String(string(transport)),
		),
	)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

package agentloop

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is a no-op until the host installs a TracerProvider.
var tracer = otel.Tracer("github.com/martinemde/openwork/agentloop")

func spanFail(span trace.Span, msg string) {
	span.SetStatus(codes.Error, msg)
}

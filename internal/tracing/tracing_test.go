package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func Test_SpansReachExporter(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitWithExporter("kacchikit", "test", exp)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ctx, parent := StartSpan(context.Background(), "boot", attribute.String("boot.id", "x"))
	_, child := StartSpan(ctx, "create")
	child.SetAttributes(Addr("stack.top", 0x1000))
	child.Event("entry preloaded")
	child.End(errors.New("out of stacks"))
	parent.End(nil)

	spans := exp.GetSpans()
	require.Len(t, spans, 2)

	require.Equal(t, "create", spans[0].Name)
	require.Equal(t, codes.Error, spans[0].Status.Code)
	require.Equal(t, "out of stacks", spans[0].Status.Description)
	require.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	require.Contains(t, spans[0].Attributes, attribute.Int64("stack.top", 0x1000))
	require.Len(t, spans[0].Events, 2, "entry event plus recorded error")

	require.Equal(t, "boot", spans[1].Name)
	require.Equal(t, codes.Ok, spans[1].Status.Code)
}

func Test_InitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("kacchikit", "test", &buf)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "tick")
	span.End(nil)
	require.NoError(t, shutdown(context.Background()))

	require.Contains(t, buf.String(), `"Name": "tick"`)
}

func Test_NilSpanIsSafe(t *testing.T) {
	var s *Span
	require.NotPanics(t, func() {
		s.SetAttributes(attribute.Bool("k", true))
		s.Event("e")
		s.End(nil)
	})
}

package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type tagged struct {
	Link string `json:"link"`
}

func (t tagged) Attributes() map[string]string { return map[string]string{"link": t.Link} }

func TestEncodeCopiesAttributes(t *testing.T) {
	t.Parallel()

	msg, err := Encode(context.Background(), tagged{Link: "https://forms.example.com/a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"link":"https://forms.example.com/a"}`, string(msg.Data))
	assert.Equal(t, "https://forms.example.com/a", msg.Attributes["link"])

	plain, err := Encode(context.Background(), map[string]int{"n": 1})
	require.NoError(t, err)
	assert.NotNil(t, plain.Attributes)
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := Encode(context.Background(), make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestEncodeInjectsTraceContext(t *testing.T) {
	// Swaps the global propagator, so not parallel.
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	msg, err := Encode(ctx, tagged{Link: "x"})
	require.NoError(t, err)
	assert.Contains(t, msg.Attributes["traceparent"], span.SpanContext().TraceID().String())
}

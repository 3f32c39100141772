// Package publisher encodes accepted records for the broker adapters in its
// subpackages. Every adapter sends the same bytes and attributes.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Attributer lets a payload contribute message attributes.
type Attributer interface {
	Attributes() map[string]string
}

// Message is a payload ready for a broker.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Encode marshals payload to JSON and collects its attributes plus the
// trace context carried by ctx.
func Encode(ctx context.Context, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	attrs := propagation.MapCarrier{}
	if a, ok := payload.(Attributer); ok {
		maps.Copy(attrs, a.Attributes())
	}
	otel.GetTextMapPropagator().Inject(ctx, attrs)
	return Message{Data: data, Attributes: attrs}, nil
}

package traces

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStartSpanRecordsAttributesAndErrors(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartSpan(context.Background(), "engine.Assess", EntityID("ent_1"), Tier("high"))
	RecordError(span, errors.New("fetch failed"))
	RecordError(span, nil)
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != "engine.Assess" {
		t.Errorf("name = %s", s.Name())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status().Code)
	}
	var found bool
	for _, a := range s.Attributes() {
		if string(a.Key) == "entity.id" && a.Value.AsString() == "ent_1" {
			found = true
		}
	}
	if !found {
		t.Error("entity.id attribute missing")
	}
}

func TestSamplerRatio(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec), sdktrace.WithSampler(Sampler(0)))
	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	if n := len(rec.Ended()); n != 0 {
		t.Errorf("ratio 0 recorded %d spans", n)
	}

	rec = tracetest.NewSpanRecorder()
	tp = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec), sdktrace.WithSampler(Sampler(1)))
	_, span = tp.Tracer("test").Start(context.Background(), "kept")
	span.End()
	if n := len(rec.Ended()); n != 1 {
		t.Errorf("ratio 1 recorded %d spans, want 1", n)
	}
}

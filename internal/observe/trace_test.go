package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider globally.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestSessionID(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q", got)
	}
	ctx := WithSessionID(context.Background(), "0192-abc")
	if got := SessionID(ctx); got != "0192-abc" {
		t.Errorf("SessionID = %q, want 0192-abc", got)
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTracer(t)

	ctx := WithSessionID(context.Background(), "s-42")
	ctx, parent := StartSpan(ctx, "pipeline.session")
	_, child := StartSpan(ctx, "pipeline.transcribe")
	child.End()
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	for _, s := range spans {
		var id string
		for _, a := range s.Attributes {
			if a.Key == "session.id" {
				id = a.Value.AsString()
			}
		}
		if id != "s-42" {
			t.Errorf("span %q session.id = %q, want s-42", s.Name, id)
		}
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("transcribe span is not a child of the session span")
	}
}

func TestStartSpan_NoSession(t *testing.T) {
	exp := useTracer(t)
	_, span := StartSpan(context.Background(), "HTTP GET")
	span.End()
	for _, a := range exp.GetSpans()[0].Attributes {
		if a.Key == "session.id" {
			t.Errorf("unexpected session.id %q", a.Value.AsString())
		}
	}
}

func TestFailSpan(t *testing.T) {
	exp := useTracer(t)

	_, ok := StartSpan(context.Background(), "ok")
	FailSpan(ok, nil)
	ok.End()
	_, failed := StartSpan(context.Background(), "failed")
	FailSpan(failed, errors.New("503 overloaded"))
	failed.End()

	spans := exp.GetSpans()
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("nil error set status %v", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "503 overloaded" {
		t.Errorf("status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) != 1 || spans[1].Events[0].Name != "exception" {
		t.Errorf("events = %+v, want one exception", spans[1].Events)
	}
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "request")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	tests := []struct {
		name string
		ctx  func() (context.Context, func())
		want []string
		not  []string
	}{
		{
			name: "plain",
			ctx:  func() (context.Context, func()) { return context.Background(), func() {} },
			not:  []string{"trace_id", "span_id", "session_id"},
		},
		{
			name: "session without span",
			ctx: func() (context.Context, func()) {
				return WithSessionID(context.Background(), "s-7"), func() {}
			},
			want: []string{"session_id=s-7"},
			not:  []string{"trace_id"},
		},
		{
			name: "session span",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(WithSessionID(context.Background(), "s-8"), "pipeline.session")
				return ctx, func() { span.End() }
			},
			want: []string{"trace_id=", "span_id=", "session_id=s-8"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx, end := tt.ctx()
			defer end()

			Logger(ctx).Info("session started")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(out, n) {
					t.Errorf("log %q should not contain %q", out, n)
				}
			}
		})
	}
}

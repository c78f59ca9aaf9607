package observe

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test. Tests using it must not run in parallel.
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
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSpan(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "exam.transcribe")
	if cid := CorrelationID(ctx); !traceIDPattern.MatchString(cid) {
		t.Errorf("CorrelationID = %q", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "exam.transcribe" {
		t.Fatalf("spans = %v", spans)
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestSessionID(t *testing.T) {
	t.Parallel()

	ctx := WithSession(context.Background(), "abc")
	if got := SessionID(ctx); got != "abc" {
		t.Errorf("SessionID = %q", got)
	}
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID of bare context = %q", got)
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	spanCtx, span := StartSpan(context.Background(), "coach")
	defer span.End()

	tests := []struct {
		name string
		ctx  context.Context
		want []string
		not  []string
	}{
		{name: "bare", ctx: context.Background(), not: []string{"trace_id", "session_id"}},
		{name: "span", ctx: spanCtx, want: []string{"trace_id=", "span_id="}, not: []string{"session_id"}},
		{name: "session", ctx: WithSession(context.Background(), "s-1"), want: []string{"session_id=s-1"}, not: []string{"trace_id"}},
		{name: "both", ctx: WithSession(spanCtx, "s-2"), want: []string{"trace_id=", "session_id=s-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t, slog.LevelInfo)
			Logger(tt.ctx).Info("verdict")
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

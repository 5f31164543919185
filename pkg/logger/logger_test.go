package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevels(t *testing.T) {
	for _, tc := range []struct {
		name          string
		log           func(Logger, string)
		expectedLevel zapcore.Level
	}{
		{"Debug", func(l Logger, m string) { l.Debug(m) }, zapcore.DebugLevel},
		{"Info", func(l Logger, m string) { l.Info(m) }, zapcore.InfoLevel},
		{"Warn", func(l Logger, m string) { l.Warn(m) }, zapcore.WarnLevel},
		{"Error", func(l Logger, m string) { l.Error(m) }, zapcore.ErrorLevel},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dut, logs := NewObserverLogger("debug")
			tc.log(dut, "ABC")

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			require.Equal(t, "ABC", entry.Message)
			require.Equal(t, tc.expectedLevel, entry.Level)
			require.Empty(t, entry.ContextMap())
		})
	}
}

func TestWithContextAddsTraceFields(t *testing.T) {
	dut, logs := NewObserverLogger("debug")

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	dut.InfoWithContext(ctx, "merged", zap.String("resourceType", "Patient"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "Patient", fields["resourceType"])
	require.Equal(t, traceID.String(), fields["trace_id"])
	require.Equal(t, spanID.String(), fields["span_id"])
}

func TestWithContextWithoutSpan(t *testing.T) {
	dut, logs := NewObserverLogger("debug")
	dut.WarnWithContext(context.Background(), "no span")

	require.Equal(t, 1, logs.Len())
	require.NotContains(t, logs.All()[0].ContextMap(), "trace_id")
}

func TestWith(t *testing.T) {
	dut, logs := NewObserverLogger("debug")
	dut.With(zap.String("component", "queue")).Info("tick")

	require.Equal(t, "queue", logs.All()[0].ContextMap()["component"])
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("json", "info")
	require.NoError(t, err)

	_, err = NewLogger("text", "debug")
	require.NoError(t, err)

	l, err := NewLogger("json", "none")
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = NewLogger("json", "verbose")
	require.ErrorContains(t, err, "unknown log level")

	_, err = NewLogger("xml", "info")
	require.ErrorContains(t, err, "unknown log format")

	require.Panics(t, func() { MustNewLogger("json", "verbose") })
}

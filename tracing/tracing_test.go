package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/scope"
)

func newTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	return tp, exp
}

func spansNamed(spans tracetest.SpanStubs, name string) []tracetest.SpanStub {
	var out []tracetest.SpanStub
	for _, s := range spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func attr(span tracetest.SpanStub, key string) string {
	for _, a := range span.Attributes {
		if string(a.Key) == key {
			return a.Value.Emit()
		}
	}
	return ""
}

func TestObserverSpanForCompletedCommand(t *testing.T) {
	tp, exp := newTestTracer(t)
	obs := NewObserver(tp.Tracer(InstrumentationName))

	typ := command.NewType("noop")
	cmd := typ.New(nil, command.WithLogger(flow.NopLogger()))
	obs.Observe(cmd)

	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	spans := spansNamed(exp.GetSpans(), "acommand.command")
	require.Len(t, spans, 1)
	assert.Equal(t, "noop", attr(spans[0], "command.code"))
	assert.Equal(t, "COMPLETED", attr(spans[0], "command.status"))
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestObserverSpanForFailedCommand(t *testing.T) {
	tp, exp := newTestTracer(t)
	obs := NewObserver(tp.Tracer(InstrumentationName))

	typ := command.NewType("boom", command.OnExecute(
		func(context.Context, *command.Command, *scope.Scope) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	))
	cmd := typ.New(nil, command.WithLogger(flow.NopLogger()))
	obs.Observe(cmd)

	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	spans := spansNamed(exp.GetSpans(), "acommand.command")
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, command.TitleExecution, spans[0].Status.Description)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestTransitionSpans(t *testing.T) {
	tp, exp := newTestTracer(t)
	tracer := tp.Tracer(InstrumentationName)

	m := flow.NewMachine(
		flow.WithLogger(flow.NopLogger()),
		TransitionSpans(tracer),
		flow.WithTransitionHandler("idle", "broken", func(context.Context, *scope.Scope) error {
			return errors.New("nope")
		}),
	)

	require.NoError(t, m.Transition(context.Background(), "idle", "running", nil))
	require.Error(t, m.Transition(context.Background(), "idle", "broken", nil))

	spans := spansNamed(exp.GetSpans(), "acommand.transition")
	require.Len(t, spans, 2)

	assert.Equal(t, "idle_running", attr(spans[0], "transition.id"))
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	assert.Equal(t, "idle_broken", attr(spans[1], "transition.id"))
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, flow.TitleTransition, spans[1].Status.Description)
}

func TestCommandTransitionSpansThroughTypeOptions(t *testing.T) {
	tp, exp := newTestTracer(t)

	typ := command.NewType("traced", command.WithMachineOptions(TransitionSpans(tp.Tracer(InstrumentationName))))
	cmd := typ.New(nil, command.WithLogger(flow.NopLogger()))
	_, err := cmd.Execute(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, s := range spansNamed(exp.GetSpans(), "acommand.transition") {
		ids = append(ids, attr(s, "transition.id"))
	}
	assert.Equal(t, []string{"created_initialized", "initialized_executing", "executing_completed"}, ids)
}

func TestSetupDisabledReturnsNoopTracer(t *testing.T) {
	tracer, shutdown, err := Setup(context.Background(), false, "svc", "http://localhost:4318")
	require.NoError(t, err)
	require.NotNil(t, tracer)
	assert.NoError(t, shutdown(context.Background()))
}

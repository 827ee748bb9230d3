// Package tracing emits OpenTelemetry spans for command executions and
// engine transitions.
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	command "github.com/goliatone/go-acommand"
	"github.com/goliatone/go-acommand/flow"
	"github.com/goliatone/go-acommand/scope"
)

// InstrumentationName is the tracer name used by Setup callers.
const InstrumentationName = "github.com/goliatone/go-acommand"

// Observer opens a span when a command starts executing and ends it when
// the command completes or fails.
type Observer struct {
	tracer trace.Tracer
}

func NewObserver(tracer trace.Tracer) *Observer {
	return &Observer{tracer: tracer}
}

// Observe subscribes the observer to cmd lifecycle events.
func (o *Observer) Observe(cmd *command.Command) {
	var (
		mu   sync.Mutex
		span trace.Span
	)

	cmd.On(command.EventExecute, func(cmd *command.Command) {
		_, s := o.tracer.Start(context.Background(), "acommand.command",
			trace.WithAttributes(
				attribute.String("command.code", cmd.Code()),
				attribute.String("command.origin", string(cmd.Origin())),
			),
		)
		mu.Lock()
		span = s
		mu.Unlock()
	})

	finish := func(cmd *command.Command) {
		mu.Lock()
		s := span
		span = nil
		mu.Unlock()
		if s == nil {
			return
		}

		s.SetAttributes(attribute.String("command.status", string(cmd.Status())))
		if d, ok := cmd.Duration(); ok {
			s.SetAttributes(attribute.Int64("command.duration_ms", d.Milliseconds()))
		}
		if cerr := cmd.Err(); cerr != nil {
			s.RecordError(cerr)
			s.SetStatus(codes.Error, cerr.Title)
		} else {
			s.SetStatus(codes.Ok, "")
		}
		s.End()
	}
	cmd.On(command.EventComplete, finish)
	cmd.On(command.EventFail, finish)
}

type transitionSpan struct {
	span trace.Span
}

// TransitionSpans returns a machine option that wraps every transition in a
// span. The span lives in the transition scope and is ended by the after or
// error hook.
func TransitionSpans(tracer trace.Tracer) flow.MachineOption {
	return func(m *flow.Machine) {
		m.OnBeforeTransition(func(ctx context.Context, sc *scope.Scope) error {
			rec, ok := scope.Resolve[*flow.TransitionRecord](sc)
			if !ok {
				return nil
			}
			_, span := tracer.Start(ctx, "acommand.transition",
				trace.WithAttributes(
					attribute.String("transition.id", rec.ID()),
					attribute.String("transition.from", rec.From),
					attribute.String("transition.to", rec.To),
				),
			)
			sc.Register(&transitionSpan{span: span})
			return nil
		})
		m.OnAfterTransition(func(_ context.Context, sc *scope.Scope) error {
			if ts, ok := scope.Resolve[*transitionSpan](sc); ok {
				ts.span.SetStatus(codes.Ok, "")
				ts.span.End()
			}
			return nil
		})
		m.OnError(func(_ context.Context, sc *scope.Scope) error {
			ts, ok := scope.Resolve[*transitionSpan](sc)
			if !ok {
				return nil
			}
			if ferr, ok := scope.Resolve[*flow.Error](sc); ok {
				ts.span.RecordError(ferr)
				ts.span.SetStatus(codes.Error, ferr.Title)
			}
			ts.span.End()
			return nil
		})
	}
}

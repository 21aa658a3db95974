package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/auditcore/internal/message"
)

const tracerName = "github.com/roach88/auditcore/internal/rpc"

// DefaultResponseWait bounds how long a response waits for a caller that
// is not receiving yet.
const DefaultResponseWait = time.Second

// Observer is told about every executed call. kind is empty on success.
type Observer func(code message.Code, kind Kind, elapsed time.Duration)

// Dispatcher executes calls against a Registry.
type Dispatcher struct {
	registry     *Registry
	tracer       trace.Tracer
	observe      Observer
	responseWait time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithObserver installs a per-call observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observe = o }
}

// WithResponseWait changes how long a response may wait on a response
// channel with no free capacity.
func WithResponseWait(wait time.Duration) Option {
	return func(d *Dispatcher) { d.responseWait = wait }
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:     registry,
		tracer:       otel.Tracer(tracerName),
		responseWait: DefaultResponseWait,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs call. A synchronous call always receives exactly one
// Response. The returned error reports dispatcher failures only.
func (d *Dispatcher) Execute(ctx context.Context, call *Call) (err error) {
	if call == nil {
		return ErrNilCall
	}

	name := message.CodeName(message.TypeRPC, call.Code)
	ctx, span := d.tracer.Start(ctx, "rpc "+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.code", name),
			attribute.String("audit", call.AuditName),
			attribute.Bool("rpc.sync", call.Response != nil),
		),
	)
	defer span.End()

	responded := false
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rpc dispatcher panic on %s: %v", name, r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if !responded {
				responded = true
				d.respond(ctx, call, Response{Err: &Error{
					Kind:    KindInternal,
					Message: err.Error(),
					Stack:   string(debug.Stack()),
				}})
			}
		}
	}()

	start := time.Now()
	resp := d.invoke(ctx, call)
	if d.observe != nil {
		var kind Kind
		if resp.Err != nil {
			kind = resp.Err.Kind
		}
		d.observe(call.Code, kind, time.Since(start))
	}

	if resp.Err != nil {
		span.RecordError(resp.Err)
		span.SetStatus(codes.Error, resp.Err.Message)
		if call.Response == nil {
			slog.Debug("async rpc failed",
				"audit", call.AuditName,
				"code", name,
				"kind", string(resp.Err.Kind),
				"error", resp.Err.Message,
			)
		}
	}

	responded = true
	if !d.respond(ctx, call, resp) {
		return fmt.Errorf("%w: %s", ErrResponseBlocked, name)
	}
	return nil
}

// invoke runs the handler, turning errors and panics into a failed Response.
func (d *Dispatcher) invoke(ctx context.Context, call *Call) (resp Response) {
	h, ok := d.registry.Lookup(call.Code)
	if !ok {
		return Response{Err: &Error{
			Kind:    KindNotImplemented,
			Message: fmt.Sprintf("no handler for rpc code %s", message.CodeName(message.TypeRPC, call.Code)),
		}}
	}

	defer func() {
		if r := recover(); r != nil {
			resp = Response{Err: &Error{
				Kind:    KindInternal,
				Message: fmt.Sprintf("handler panic: %v", r),
				Stack:   string(debug.Stack()),
			}}
		}
	}()

	result, err := h(ctx, call.AuditName, call.Args, call.Kwargs)
	if err != nil {
		return Response{Err: Classify(err)}
	}
	return Response{Success: true, Result: result}
}

// respond delivers resp. A channel with no room is waited on for at most
// responseWait or until ctx ends.
func (d *Dispatcher) respond(ctx context.Context, call *Call, resp Response) bool {
	if call.Response == nil {
		return true
	}
	select {
	case call.Response <- resp:
		return true
	default:
	}

	// Unbuffered or full: give a late receiver a bounded chance.
	timer := time.NewTimer(d.responseWait)
	defer timer.Stop()
	select {
	case call.Response <- resp:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

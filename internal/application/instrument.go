package application

import (
	"context"
	"time"

	domoutbox "github.com/smartshop/commerce/internal/domain/outbox"
	"github.com/smartshop/commerce/internal/observability"
	"github.com/smartshop/commerce/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	spanPrefix     = "UC."
	publishPeer    = "outbox"
	publishTimeout = 300 * time.Millisecond
)

// Instrumenter binds a service's telemetry instruments once so every use case
// records the same RED metrics, span status, and use_case_done log line.
type Instrumenter struct {
	service      string
	tel          observability.Telemetry
	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewInstrumenter(tel observability.Telemetry, service string) *Instrumenter {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Instrumenter{
		service:      service,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
		extCounter:   tel.Counter(observability.MExternalRequests),
		extHistogram: tel.Histogram(observability.MExternalRequestDuration),
	}
}

func (i *Instrumenter) Logger() observability.Logger       { return i.log }
func (i *Instrumenter) Telemetry() observability.Telemetry { return i.tel }

// Begin opens the use case span. Callers must defer obs.Done(err) with the
// named return error so the deferred block sees the final outcome.
func (i *Instrumenter) Begin(ctx context.Context, useCase string, attrs ...attribute.KeyValue) (context.Context, *Observation) {
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := i.tel.Tracer().Start(ctx, spanPrefix+useCase, attrs...)
	return ctx, &Observation{
		ins:     i,
		ctx:     ctx,
		span:    span,
		useCase: useCase,
		start:   time.Now(),
		status:  "OK",
		logger:  logctx.FromOr(ctx, i.log).With(observability.F("use_case", useCase)),
	}
}

// Publish sends an event through the outbox under a bounded timeout and
// records external call metrics keyed by the event name.
func (i *Instrumenter) Publish(ctx context.Context, pub domoutbox.Publisher, event domoutbox.Event) error {
	if pub == nil || event == nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	start := time.Now()
	err := pub.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	cancel()

	i.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
		observability.L("outcome", outcome),
	)
	i.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
	)

	return err
}

// Observation tracks one in-flight use case execution.
type Observation struct {
	ins     *Instrumenter
	ctx     context.Context
	span    trace.Span
	useCase string
	start   time.Time
	status  string
	logger  observability.Logger
	fields  []observability.Field
}

// Fail tags the result status; the deferred Done picks it up.
func (o *Observation) Fail(status string) { o.status = status }

// Annotate attaches extra fields to the final use_case_done log line.
func (o *Observation) Annotate(fields ...observability.Field) {
	o.fields = append(o.fields, fields...)
}

func (o *Observation) Span() trace.Span { return o.span }

func (o *Observation) Logger() observability.Logger { return o.logger }

func (o *Observation) Done(err error) {
	latency := time.Since(o.start).Seconds()
	outcome := "success"
	if err != nil {
		outcome = "error"
		if o.status == "OK" {
			o.status = "ERROR"
		}
	}

	if o.span != nil {
		if err != nil {
			o.span.RecordError(err)
			o.span.SetStatus(codes.Error, o.status)
		} else {
			o.span.SetStatus(codes.Ok, o.status)
		}
		o.span.End()
	}

	o.ins.reqCounter.Add(1,
		observability.L("use_case", o.useCase),
		observability.L("outcome", outcome),
	)
	o.ins.durHistogram.Observe(latency,
		observability.L("use_case", o.useCase),
	)

	fields := []observability.Field{
		observability.F("outcome", outcome),
		observability.F("status", o.status),
		observability.F("latency_seconds", latency),
	}
	if sc := trace.SpanContextFromContext(o.ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	fields = append(fields, o.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}

	o.logger.Info("use_case_done", fields...)
}

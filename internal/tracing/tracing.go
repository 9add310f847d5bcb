// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wraps each scheduler-loop iteration in one OpenTelemetry
// span, with child spans for its ordered sub-phases; the scheduler loop
// opens two, "state_changes" and "commit". Grounded on the
// teacher's internal/tracing/export/console.go (stdouttrace exporter
// construction) and internal/daemon/runner/tracing.go (panic-safe span
// helpers) — adapted from wrapping LLM-agent run steps to wrapping
// scheduler-loop iterations.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on scheduler-loop spans.
const (
	AttrCyclePoint      = "cylc.cycle_point"
	AttrFlowNums        = "cylc.flow_nums"
	AttrPoolMainSize    = "cylc.pool.main_size"
	AttrPoolHiddenSize  = "cylc.pool.hidden_size"
	AttrRunaheadLimit   = "cylc.runahead_limit"
)

// Config selects the exporter used for the workflow's trace output.
type Config struct {
	// Writer is the destination for the console span exporter (default
	// os.Stdout). The kernel never ships spans to a collector endpoint —
	// no OTLP exporter is wired, see DESIGN.md.
	Writer io.Writer

	// PrettyPrint enables human-readable span output, useful when running
	// a workflow interactively rather than under a log aggregator.
	PrettyPrint bool

	ServiceName    string
	ServiceVersion string
}

// Provider owns the process-wide TracerProvider for one scheduler run.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a Provider with a stdouttrace exporter, matching the
// teacher's console-exporter idiom (no OTLP collector dependency).
func NewProvider(cfg Config) (*Provider, error) {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	var opts []stdouttrace.Option
	opts = append(opts, stdouttrace.WithWriter(writer))
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create console trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", nonEmpty(cfg.ServiceName, "cylc-scheduler")),
			attribute.String("service.version", nonEmpty(cfg.ServiceVersion, "dev")),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer("cylc-scheduler")}, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Shutdown flushes pending spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartIteration starts the one span covering a full scheduler-loop
// iteration, tagged with the runahead limit point. Callers start child spans for each ordered sub-phase via
// StartPhase and must call the returned end func exactly once.
func (p *Provider) StartIteration(ctx context.Context, point string) (context.Context, func()) {
	if p == nil {
		return ctx, func() {}
	}
	ctx, span := safeStartSpan(ctx, p.tracer, "scheduler.iteration",
		trace.WithAttributes(attribute.String(AttrRunaheadLimit, point)))
	return ctx, func() { safeEndSpan(span) }
}

// StartPhase starts a child span for one of the iteration's ordered
// sub-phases ("state_changes", "db_staging", "datastore_deltas", "commit").
func (p *Provider) StartPhase(ctx context.Context, phase string) (context.Context, func(err error)) {
	if p == nil {
		return ctx, func(error) {}
	}
	ctx, span := safeStartSpan(ctx, p.tracer, "scheduler."+phase)
	return ctx, func(err error) {
		if err != nil {
			safeRecordError(span, err)
		}
		safeEndSpan(span)
	}
}

// safeStartSpan starts a span with panic recovery, matching the teacher's
// defensive wrapper around the OTel API (a misbehaving exporter must never
// take the scheduler loop down with it).
func safeStartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("panic during span start", "error", r, "span_name", name)
		}
	}()
	return tracer.Start(ctx, name, opts...)
}

func safeEndSpan(span trace.Span) {
	if span == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("panic during span end", "error", r)
		}
	}()
	span.End()
}

func safeRecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("panic during record error", "error", r)
		}
	}()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

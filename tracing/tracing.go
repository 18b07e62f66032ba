/*
Copyright 2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tracing installs the process-wide OpenTelemetry TracerProvider
// that api/observability/tracing/ssh instruments the orchestrator's
// connection and channel operations against. There is no collector to ship
// spans to from a bare SSH client, so the only exporter offered writes
// spans as newline-delimited JSON to Config.Destination (os.Stderr unless
// set). tool/sshc does not call NewProvider, so otel's no-op provider
// stays in place and tracing costs nothing.
package tracing

import (
	"context"
	"io"
	"os"

	"github.com/gravitational/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
)

// Config describes how to initialize tracing for a run of the client.
type Config struct {
	// Service names the resource attached to every span, e.g. "sshc".
	Service string
	// Destination receives the exported spans. Defaults to os.Stderr.
	Destination io.Writer
	// SampleRatio is the fraction of traces recorded, in (0, 1]. Defaults
	// to 1: this is a short-lived CLI invocation, not a long-running
	// service that needs head sampling to cut span volume.
	SampleRatio float64
}

// Provider owns the installed TracerProvider and must be shut down before
// the process exits so buffered spans are flushed to Destination.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a TracerProvider writing spans to cfg.Destination and
// installs it as the global provider, so every api/observability/tracing
// caller picks it up through otel.GetTracerProvider without being wired
// through explicitly.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	dest := cfg.Destination
	if dest == nil {
		dest = os.Stderr
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(dest))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.Service),
	))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &Provider{tp: tp}, nil
}

// Shutdown flushes buffered spans and stops the provider. Safe to call on a
// nil *Provider so callers can defer it unconditionally.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return trace.Wrap(p.tp.ForceFlush(ctx), p.tp.Shutdown(ctx))
}

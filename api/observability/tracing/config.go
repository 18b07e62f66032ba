/*
Copyright 2022 Gravitational, Inc

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

// Package tracing provides the functional-options plumbing shared by every
// traced client in this module (the plain golang.org/x/crypto/ssh wrapper in
// tracing/ssh). Unless the caller installs its own TracerProvider, spans are
// created against otel's no-op provider and cost nothing.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config holds the tracing dependencies a wrapped client needs.
type Config struct {
	// TracerProvider is used to create Tracers for each instrumented call.
	TracerProvider oteltrace.TracerProvider
	// TextMapPropagator propagates span context across process boundaries.
	// Reserved for a future wire-level carrier; plain SSH servers have no
	// channel type to carry it, so nothing uses it yet.
	TextMapPropagator propagation.TextMapPropagator
}

// Option configures a Config.
type Option func(*Config)

// WithTracerProvider overrides the default (global) TracerProvider.
func WithTracerProvider(provider oteltrace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = provider
	}
}

// WithTextMapPropagator overrides the default (global) propagator.
func WithTextMapPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *Config) {
		c.TextMapPropagator = propagator
	}
}

// NewConfig builds a Config from the provided options, defaulting to the
// globally configured TracerProvider/propagator.
func NewConfig(opts []Option) Config {
	cfg := Config{
		TracerProvider:    otel.GetTracerProvider(),
		TextMapPropagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

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

package tracing

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestNewConfigDefaultsToGlobalProviderAndPropagator(t *testing.T) {
	cfg := NewConfig(nil)
	require.Equal(t, otel.GetTracerProvider(), cfg.TracerProvider)
	require.Equal(t, otel.GetTextMapPropagator(), cfg.TextMapPropagator)
}

func TestWithTracerProviderOverrides(t *testing.T) {
	t.Parallel()

	provider := oteltrace.NewNoopTracerProvider()
	cfg := NewConfig([]Option{WithTracerProvider(provider)})
	require.Equal(t, provider, cfg.TracerProvider)
}

func TestWithTextMapPropagatorOverrides(t *testing.T) {
	t.Parallel()

	prop := propagation.TraceContext{}
	cfg := NewConfig([]Option{WithTextMapPropagator(prop)})
	require.Equal(t, prop, cfg.TextMapPropagator)
}

package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func gatheredNames(t *testing.T, reg *prometheus.Registry) []string {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}

func TestSetupInstallsMeterProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	shutdown, err := Setup(context.Background(), Config{ServiceName: "librarium-test", Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, ok := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	require.True(t, ok, "got %T", otel.GetMeterProvider())

	counter, err := otel.Meter("librarium/test").Int64Counter("eventstore.events.appended")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	var found bool
	for _, name := range gatheredNames(t, reg) {
		if strings.HasPrefix(name, "eventstore_events_appended") {
			found = true
		}
	}
	assert.True(t, found, "counter not exported: %v", gatheredNames(t, reg))
}

func TestSetupEnabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{
		Enabled:     true,
		Endpoint:    "127.0.0.1:1",
		ServiceName: "librarium-test",
		Registerer:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	// Nothing was recorded, so shutdown has nothing to flush.
	require.NoError(t, shutdown(context.Background()))
}

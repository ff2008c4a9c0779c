package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registration-api/pkg/config"
)

func TestSetupNoopWhenDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false, Endpoint: "http://localhost:4318"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetupCreatesProvider(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Endpoint: "http://192.0.2.1:4318", ServiceName: "course-registration-api"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

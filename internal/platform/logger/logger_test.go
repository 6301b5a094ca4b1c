package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/diligence-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
	}{
		{name: "debug level", logLevel: "debug"},
		{name: "info level", logLevel: "info"},
		{name: "warn level", logLevel: "warn"},
		{name: "error level", logLevel: "error"},
		{name: "mixed case", logLevel: "DeBuG"},
		{name: "invalid level falls back to info", logLevel: "verbose"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := Setup(config.ServerConfig{Port: 8080, LogLevel: tc.logLevel})
			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.Equal(t, logger, slog.Default())
		})
	}
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx := WithContext(context.Background(), logger)

		assert.Equal(t, logger, FromContext(ctx))
		assert.Equal(t, logger, FromContextOrDefault(ctx))
	})

	t.Run("empty context", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		assert.Nil(t, FromContext(ctx))
		assert.Equal(t, slog.Default(), FromContextOrDefault(ctx))
	})
}

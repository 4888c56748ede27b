package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureWritesComponentAndRequestFields(t *testing.T) {
	var buf bytes.Buffer
	Reset()
	Configure(Config{Level: "debug", Output: &buf, Service: "test-svc"})
	t.Cleanup(Reset)

	ctx := ContextWithRequestID(context.Background(), "req-42")
	logger := WithContext(ctx, WithComponent("pool"))
	logger.Info().Str(FieldSessionID, "s-1").Msg("acquired")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test-svc", entry["service"])
	assert.Equal(t, "pool", entry[FieldComponent])
	assert.Equal(t, "req-42", entry[FieldRequestID])
	assert.Equal(t, "s-1", entry[FieldSessionID])
	assert.Equal(t, "acquired", entry["message"])
}

func TestConfigureIsIdempotentUntilReset(t *testing.T) {
	var first, second bytes.Buffer
	Reset()
	Configure(Config{Output: &first})
	Configure(Config{Output: &second})
	t.Cleanup(Reset)

	Base().Info().Msg("hello")
	assert.NotEmpty(t, first.String())
	assert.Empty(t, second.String())
}

func TestWithContextWithoutRequestIDReturnsLogger(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "", RequestIDFromContext(nil)) //nolint:staticcheck
}

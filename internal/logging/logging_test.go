package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCtxChainsLevelMethods(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Level("debug"), JSONOutput: true, Output: &buf})

	ctx := WithCorrelationID(context.Background(), "abc-123")
	Ctx(ctx, WithComponent("test")).Warn().Str("k", "v").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "abc-123", line["correlation_id"])
	require.Equal(t, "test", line["component"])
	require.Equal(t, "hello", line["message"])
}

func TestCtxWithoutCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Ctx(context.Background(), WithComponent("test")).Info().Msg("plain")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.NotContains(t, line, "correlation_id")
}

func TestWithCorrelationIDGeneratesWhenEmpty(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	require.NotEmpty(t, CorrelationID(ctx))
}

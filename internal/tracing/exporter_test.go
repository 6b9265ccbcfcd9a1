package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestFileExporterWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "opsd.jsonl")

	exporter, err := NewFileExporter(path)
	require.NoError(t, err)

	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	_, span := tracer.Start(context.Background(), "submit_schedule")
	span.SetAttributes(attribute.String("night", "2026-08-25"))
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan(), "expected at least one span record")

	var record SpanRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
	assert.Equal(t, "submit_schedule", record.Name)
	assert.Equal(t, "2026-08-25", record.Attributes["night"])
	assert.NotEmpty(t, record.TraceID)
	assert.NotEmpty(t, record.SpanID)
}

func TestDisabledProviderIsNoop(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, provider.Enabled())
	assert.NotNil(t, provider.Tracer())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Exporter: "carrier-pigeon"})
	require.Error(t, err)
}

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	t.Run("generates an id when empty", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "")
		id := RequestID(ctx)
		assert.Len(t, id, 26, "ULID string length")
	})

	t.Run("keeps an explicit id", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-1")
		assert.Equal(t, "req-1", RequestID(ctx))
	})

	t.Run("missing id is empty", func(t *testing.T) {
		assert.Empty(t, RequestID(context.Background()))
	})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")
	ctx := WithRequestID(context.Background(), "req-42")

	RequestLogger(ctx, logger, "recognize").Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "recognize", line["route"])
	assert.Equal(t, "req-42", line["request_id"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("publish", http.StatusOK, 20*time.Millisecond)
	m.RecordArtifact("local", 128)
	m.RecordArtifact("local", 64)
	m.RecordRejection("unauthorized")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("publish", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.artifactsTotal.WithLabelValues("local")))
	assert.Equal(t, 192.0, testutil.ToFloat64(m.artifactBytes.WithLabelValues("local")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `listingmock_rejected_total{reason="unauthorized"} 1`))
}

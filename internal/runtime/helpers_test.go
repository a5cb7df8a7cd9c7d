package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/szaher/designs/listingmock/internal/artifact"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T, mutate func(*Config), opts ...func(*Options)) *Runtime {
	t.Helper()
	config := DefaultConfig()
	config.Addr = "127.0.0.1:0"
	config.TempDir = t.TempDir()
	if mutate != nil {
		mutate(config)
	}
	o := Options{Logger: discardLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	rt, err := New(context.Background(), config, o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt
}

func uploadDir(t *testing.T, rt *Runtime) string {
	t.Helper()
	local, ok := rt.Store().(*artifact.LocalStore)
	require.True(t, ok, "expected a local store")
	return local.Dir()
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

type part struct {
	field, name, content string
}

// multipartBody encodes files and text fields as multipart/form-data.
func multipartBody(t *testing.T, files []part, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, f.content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func uploadRequest(t *testing.T, path, token string, files []part, fields map[string]string) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return authed(req, token)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

package runtime

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeLifecycle(t *testing.T) {
	rt := newTestRuntime(t, nil)
	dir := uploadDir(t, rt)

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(context.Background()) }()

	select {
	case <-rt.Ready():
	case err := <-errCh:
		t.Fatalf("start failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime never became ready")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	defer client.CloseIdleConnections()
	req := uploadRequest(t, "/product/ebay/recognize", "tok", []part{{"image", "a.png", "a"}}, nil)
	req.URL.Scheme = "http"
	req.URL.Host = rt.Addr()
	req.RequestURI = ""
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, countFiles(t, dir))

	require.NoError(t, rt.Shutdown(context.Background()))
	require.NoError(t, <-errCh, "serve returns cleanly after shutdown")

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "upload directory removed")

	t.Run("second shutdown is a no-op", func(t *testing.T) {
		assert.NoError(t, rt.Shutdown(context.Background()))
	})
}

func TestShutdownWithoutStart(t *testing.T) {
	rt := newTestRuntime(t, nil)
	dir := uploadDir(t, rt)

	require.NoError(t, rt.Shutdown(context.Background()))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestShutdownToleratesMissingDirectory(t *testing.T) {
	rt := newTestRuntime(t, nil)
	require.NoError(t, os.RemoveAll(uploadDir(t, rt)))
	assert.NoError(t, rt.Shutdown(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown artifact backend", func(c *Config) { c.ArtifactBackend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.ArtifactBackend = BackendS3 }},
		{"redis without url", func(c *Config) { c.SessionBackend = BackendRedis }},
		{"bad item rule", func(c *Config) { c.ItemRules = []string{"item.("} }},
		{"missing fixtures file", func(c *Config) { c.FixturesFile = "/does/not/exist.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.TempDir = t.TempDir()
			tt.mutate(config)
			_, err := New(context.Background(), config, Options{Logger: discardLogger()})
			require.Error(t, err)
		})
	}
}

func TestNewCleansUpStoreOnLateFailure(t *testing.T) {
	parent := t.TempDir()
	config := DefaultConfig()
	config.TempDir = parent
	config.StrictOrder = true
	config.SessionBackend = BackendRedis
	config.RedisURL = "not-a-url"

	_, err := New(context.Background(), config, Options{Logger: discardLogger()})
	require.Error(t, err)
	assert.Equal(t, 0, countFiles(t, parent), "temp directory removed again")
}

func TestFixturesFileIsServedAndReloaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recognition:\n  product_name: Desk Lamp\n  categories: [Home]\n"), 0o644))

	rt := newTestRuntime(t, func(c *Config) { c.FixturesFile = path })
	go func() { _ = rt.Start(context.Background()) }()
	<-rt.Ready()

	recognize := func() string {
		rec := serve(rt.Handler(), uploadRequest(t, "/product/ebay/recognize", "tok", []part{{"image", "a.png", "a"}}, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		return decodeBody(t, rec)["product_name"].(string)
	}
	assert.Equal(t, "Desk Lamp", recognize())

	require.NoError(t, os.WriteFile(path, []byte("recognition:\n  product_name: Floor Lamp\n"), 0o644))
	assert.Eventually(t, func() bool { return recognize() == "Floor Lamp" }, 5*time.Second, 50*time.Millisecond)
}

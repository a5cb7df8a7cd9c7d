package runtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, ":3000", c.Addr)
	assert.Equal(t, "mock-api-uploads-", c.TempPrefix)
	assert.Equal(t, BackendLocal, c.ArtifactBackend)
	assert.False(t, c.StrictOrder)
	assert.Zero(t, c.MaxUploadBytes)
	assert.Zero(t, c.MaxFiles)
	assert.False(t, c.UploadRate.Enabled())
	assert.Equal(t, 5*time.Second, c.ShutdownGrace)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LISTINGMOCK_ADDR", ":8080")
	t.Setenv("LISTINGMOCK_MAX_FILES", "4")
	t.Setenv("LISTINGMOCK_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("LISTINGMOCK_STRICT_ORDER", "true")
	t.Setenv("LISTINGMOCK_SHUTDOWN_GRACE", "2s")
	t.Setenv("LISTINGMOCK_ITEM_RULES", `"title" in item; item.price > 0`)
	t.Setenv("LISTINGMOCK_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("LISTINGMOCK_UPLOAD_RATE", "2:5")

	c := DefaultConfig()
	require.NoError(t, c.ApplyEnv())
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, 4, c.MaxFiles)
	assert.Equal(t, int64(1048576), c.MaxUploadBytes)
	assert.True(t, c.StrictOrder)
	assert.Equal(t, 2*time.Second, c.ShutdownGrace)
	assert.Equal(t, []string{`"title" in item`, "item.price > 0"}, c.ItemRules)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.CORSOrigins)
	assert.Equal(t, 2.0, c.UploadRate.RequestsPerSecond)
	assert.Equal(t, 5, c.UploadRate.Burst)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	t.Setenv("LISTINGMOCK_MAX_FILES", "many")
	t.Setenv("LISTINGMOCK_SHUTDOWN_GRACE", "soon")

	err := DefaultConfig().ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LISTINGMOCK_MAX_FILES")
	assert.Contains(t, err.Error(), "LISTINGMOCK_SHUTDOWN_GRACE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"s3 with bucket", func(c *Config) { c.ArtifactBackend = BackendS3; c.S3.Bucket = "b" }, false},
		{"redis with url", func(c *Config) { c.SessionBackend = BackendRedis; c.RedisURL = "redis://x" }, false},
		{"negative max files", func(c *Config) { c.MaxFiles = -1 }, true},
		{"negative grace", func(c *Config) { c.ShutdownGrace = -time.Second }, true},
		{"unknown session backend", func(c *Config) { c.SessionBackend = "etcd" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is fine", func(t *testing.T) {
		assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
	})

	t.Run("empty path reads nothing", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LISTINGMOCK_TEST_C=from-file\n"), 0o600))
		t.Chdir(dir)

		require.NoError(t, LoadDotEnv(""))
		_, ok := os.LookupEnv("LISTINGMOCK_TEST_C")
		assert.False(t, ok)
	})

	t.Run("does not override the environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("LISTINGMOCK_TEST_A=from-file\nLISTINGMOCK_TEST_B=from-file\n"), 0o600))
		t.Setenv("LISTINGMOCK_TEST_A", "from-env")
		t.Cleanup(func() { os.Unsetenv("LISTINGMOCK_TEST_B") })

		require.NoError(t, LoadDotEnv(path))
		assert.Equal(t, "from-env", os.Getenv("LISTINGMOCK_TEST_A"))
		assert.Equal(t, "from-file", os.Getenv("LISTINGMOCK_TEST_B"))
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv_fallback(t *testing.T) {
	t.Setenv("TRAFFIC_TEST_STR", "")
	assert.Equal(t, "dflt", GetEnv("TRAFFIC_TEST_STR", "dflt"))

	t.Setenv("TRAFFIC_TEST_STR", "set")
	assert.Equal(t, "set", GetEnv("TRAFFIC_TEST_STR", "dflt"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TRAFFIC_TEST_INT", "42")
	assert.Equal(t, 42, GetEnvInt("TRAFFIC_TEST_INT", 7))

	t.Setenv("TRAFFIC_TEST_INT", "nope")
	assert.Equal(t, 7, GetEnvInt("TRAFFIC_TEST_INT", 7))
}

func TestGetEnvDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", time.Second},
		{"350ms", 350 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"500", 500 * time.Millisecond},
		{"garbage", time.Second},
	}
	for _, tc := range cases {
		t.Setenv("TRAFFIC_TEST_DUR", tc.raw)
		assert.Equal(t, tc.want, GetEnvDuration("TRAFFIC_TEST_DUR", time.Second), "raw=%q", tc.raw)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TRAFFIC_TEST_BOOL", "false")
	assert.False(t, GetEnvBool("TRAFFIC_TEST_BOOL", true))

	t.Setenv("TRAFFIC_TEST_BOOL", "maybe")
	assert.True(t, GetEnvBool("TRAFFIC_TEST_BOOL", true))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TRAFFIC_TEST_LIST", " a, ,b ,")
	assert.Equal(t, []string{"a", "b"}, GetEnvList("TRAFFIC_TEST_LIST", nil))

	t.Setenv("TRAFFIC_TEST_LIST", ",")
	assert.Equal(t, []string{"*"}, GetEnvList("TRAFFIC_TEST_LIST", []string{"*"}))
}

func TestLoad_reads_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TRAFFIC_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TRAFFIC_TEST_DOTENV") })

	require.NoError(t, Load(path))
	assert.Equal(t, "from-file", os.Getenv("TRAFFIC_TEST_DOTENV"))
}

func TestLoad_missing_file(t *testing.T) {
	assert.Error(t, Load(filepath.Join(t.TempDir(), "absent.env")))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/iago/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".local/share/iago/iago.db"), cfg.Database.Path)
	assert.Equal(t, 3, cfg.Extraction.ContextWords)
	assert.Empty(t, cfg.Extraction.ServerURL)
	assert.Equal(t, 2*time.Hour, cfg.Locks.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Locks.SweepInterval)
	assert.Equal(t, "localhost:8080", cfg.Server.Address())
	assert.InDelta(t, 20.0, cfg.Server.RateLimit, 0.001)
	assert.False(t, cfg.Server.TLS)
	assert.Equal(t, filepath.Join(home, ".local/share/iago/certs"), cfg.Server.CertDir)
	assert.Empty(t, cfg.Notify.URL)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: ` + filepath.Join(dir, "data.db") + `
extraction:
  context_words: 4
  server_url: http://iago.internal:8080/
locks:
  ttl: 30m
server:
  port: 9090
notify:
  url: https://ntfy.sh/iago-reviewers
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data.db"), cfg.Database.Path)
	assert.Equal(t, 4, cfg.Extraction.ContextWords)
	assert.Equal(t, "http://iago.internal:8080", cfg.Extraction.ServerURL)
	assert.Equal(t, 30*time.Minute, cfg.Locks.TTL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://ntfy.sh/iago-reviewers", cfg.Notify.URL)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("IAGO_LOCKS_TTL", "0s")
	t.Setenv("IAGO_DATABASE_PATH", ":memory:")

	v := viper.New()
	BindEnv(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Zero(t, cfg.Locks.TTL)
	assert.Equal(t, ":memory:", cfg.Database.Path)
}

func TestLoad_TLSRequiresCertDir(t *testing.T) {
	v := viper.New()
	v.Set(KeyServerTLS, true)
	v.Set(KeyServerCertDir, "")

	_, err := Load(v)
	require.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		value   any
		name    string
		key     string
		wantErr error
	}{
		{name: "empty database path", key: KeyDatabasePath, value: " ", wantErr: common.ErrMissingConfig},
		{name: "zero context words", key: KeyContextWords, value: 0, wantErr: common.ErrInvalidConfig},
		{name: "negative ttl", key: KeyLockTTL, value: "-1m", wantErr: common.ErrInvalidConfig},
		{name: "port out of range", key: KeyServerPort, value: 70000, wantErr: common.ErrInvalidConfig},
		{name: "negative rate limit", key: KeyServerRateLimit, value: -1, wantErr: common.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("IAGO_TEST_DIR", "/srv/iago")

	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: ":memory:", want: ":memory:"},
		{input: "~", want: home},
		{input: "~/data/iago.db", want: filepath.Join(home, "data/iago.db")},
		{input: "$IAGO_TEST_DIR/iago.db", want: "/srv/iago/iago.db"},
		{input: "/abs/path.db", want: "/abs/path.db"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.input))
		})
	}
}

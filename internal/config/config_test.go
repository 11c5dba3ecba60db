package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"db_path": "registry.db",
		"port": 8080,
		"embed": {"model": "embed-multilingual-v3.0", "dimension": 1024}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "file", cfg.Store.Type)
	require.Equal(t, "local", cfg.Source.Type)
	require.Equal(t, "stub", cfg.Embed.Provider)
	require.Equal(t, 3, cfg.Embed.Retry.MaxAttempts)
	require.Equal(t, 100, cfg.Embed.Retry.BaseDelayMs)
	require.Equal(t, 2.0, cfg.Embed.Retry.Multiplier)
	require.Equal(t, 5, cfg.Sync.CheckpointEvery)
	require.Equal(t, 3, cfg.Sync.MaxParallel)
	require.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing db_path",
			content: `{"port": 8080, "embed": {"model": "m", "dimension": 8}}`,
			wantErr: "db_path is required",
		},
		{
			name:    "missing port",
			content: `{"db_path": "x.db", "embed": {"model": "m", "dimension": 8}}`,
			wantErr: "port is required",
		},
		{
			name:    "missing model",
			content: `{"db_path": "x.db", "port": 1, "embed": {"dimension": 8}}`,
			wantErr: "embed.model is required",
		},
		{
			name:    "missing dimension",
			content: `{"db_path": "x.db", "port": 1, "embed": {"model": "m"}}`,
			wantErr: "embed.dimension is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScheduleCronDefault(t *testing.T) {
	path := writeConfig(t, `{
		"db_path": "registry.db",
		"port": 8080,
		"embed": {"model": "m", "dimension": 8},
		"schedule": {"enabled": true}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0 3 * * *", cfg.Schedule.Cron)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	t.Setenv("ARENA_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Combat.ContactRetrigger)
	assert.Equal(t, 4, cfg.Sync.MaxResends)
	assert.InDelta(t, 120, cfg.BlastRadius(), 1e-9)
}

func TestLoad_OverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	yml := `
arena:
  grid_size: 32
combat:
  contact_retrigger: 100ms
sync:
  send_rate: 30
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32.0, cfg.Arena.GridSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Combat.ContactRetrigger)
	assert.Equal(t, 30, cfg.Sync.SendRate)
	assert.Equal(t, 60, cfg.Arena.TickRate, "незаданные поля остаются по умолчанию")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("ARENA_KCP_PORT", "9000")
	t.Setenv("ARENA_REST_PORT", "")

	assert.Equal(t, 9000, s.GetKCPPort(), "порт из окружения")
	assert.Equal(t, 8088, s.GetRESTPort(), "порт по умолчанию")

	s.KCPPort = 1234
	assert.Equal(t, 1234, s.GetKCPPort(), "порт из конфига важнее окружения")
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	cfg, err := ReadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	filename := filepath.Join(t.TempDir(), "swand.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(`
storage: swan.db
mqtt:
  broker: tcp://localhost:1883
sensors:
  clock:
    location: America/Chicago
expressions:
  - id: opening
    source: clock:window?schedule='0 9 * * 1-5'
    doc: Business hours.
`), 0644))

	cfg, err = ReadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "swan.db", cfg.Storage)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "America/Chicago", cfg.Sensors["clock"]["location"])
	assert.Equal(t, []string{"value"}, cfg.External)
	require.Len(t, cfg.Expressions, 1)
	assert.Equal(t, "opening", cfg.Expressions[0].ID)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filename, []byte("listen: [\n"), 0644))
	_, err = ReadConfig(filename)
	assert.Error(t, err)
}

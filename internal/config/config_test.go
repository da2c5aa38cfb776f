package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and defaulting behaviour.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing listen address.
	err := Validate(&Config{})
	require.Error(t, err)

	// Bad listen address.
	err = Validate(&Config{ListenAddress: "bad:address"})
	require.Error(t, err)

	// Defaults filled in.
	cfg := &Config{ListenAddress: "127.0.0.1:0"}

	err = Validate(cfg)
	require.NoError(t, err)
	require.Equal(t, DefaultDatabaseFilename, cfg.DatabasePath)
	require.Equal(t, DefaultTickPeriod, cfg.TickPeriod)
	require.Equal(t, DefaultRingTimeout, cfg.RingTimeout)
	require.Equal(t, DefaultNotifyTimeout, cfg.NotifyTimeout)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		ListenAddress: "127.0.0.1:8000",
		DatabasePath:  filepath.Join(dir, "alarms.db"),
		TickPeriod:    2 * time.Second,
		RingTimeout:   5 * time.Minute,
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ListenAddress, loaded.ListenAddress)
	require.Equal(t, cfg.DatabasePath, loaded.DatabasePath)
	require.Equal(t, cfg.TickPeriod, loaded.TickPeriod)
	require.Equal(t, cfg.RingTimeout, loaded.RingTimeout)
}

// TestLoadMissingFileReturnsDefaults verifies the server can start without a config file.
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, DefaultTickPeriod, cfg.TickPeriod)
}

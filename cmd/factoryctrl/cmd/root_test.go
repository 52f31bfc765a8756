package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/factoryctrl/internal/config"
	"github.com/KevinKickass/factoryctrl/internal/controlloop"
)

// TestRun_MissingConfig checks that a missing config file is a startup error.
func TestRun_MissingConfig(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

// TestRun_InvalidConfig checks that a config without both registers never starts the loop.
func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"io_module_ip":"127.0.0.1","io_module_port":502}`), 0o600))

	err := run(context.Background(), path)
	require.ErrorIs(t, err, config.ErrValidation)
}

// TestRun_MultipleTopics checks that two configured topics fail before any connection.
func TestRun_MultipleTopics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"io_module_ip": "127.0.0.1",
		"io_module_port": 1,
		"red_bit_register": 0,
		"green_bit_register": 1
	}`), 0o600))

	t.Setenv("SubTopics", "camera/results,camera/other")

	err := run(context.Background(), path)
	require.ErrorIs(t, err, controlloop.ErrMultipleTopics)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validJSON = `{
  "io_module_ip": "192.168.0.12",
  "io_module_port": 502,
  "red_bit_register": 20,
  "green_bit_register": 21
}`

// clearEnv resets every variable the loader reads so host settings do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()

	for _, name := range []string{"DEV_MODE", "AppName", "SubTopics", "LOG_LEVEL", "PY_LOG_LEVEL", "results_cfg"} {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// TestLoad_JSONWithDefaults loads the required keys and fills in defaults.
func TestLoad_JSONWithDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeFile(t, "config.json", validJSON))
	require.NoError(t, err)

	require.Equal(t, "192.168.0.12", cfg.IOModule.IP)
	require.Equal(t, "192.168.0.12:502", cfg.IOModule.Address())
	require.Equal(t, uint16(20), cfg.IOModule.RedBitRegister)
	require.Equal(t, uint16(21), cfg.IOModule.GreenBitRegister)
	require.Equal(t, uint8(0), cfg.IOModule.UnitID)
	require.Equal(t, time.Second, cfg.IOModule.ConnectTimeout)
	require.Equal(t, 3, cfg.IOModule.RetryOnEmpty)
	require.Equal(t, 0, cfg.IOModule.ConnectRetries)
	require.Equal(t, 500*time.Millisecond, cfg.IOModule.ConnectBackoff)
	require.False(t, cfg.IOModule.VerifyWrites)
	require.Equal(t, 0, cfg.StatusPort)

	require.False(t, cfg.Env.DevMode)
	require.Equal(t, "info", cfg.Env.LogLevel)
	require.Empty(t, cfg.Env.SubTopics)
}

// TestLoad_YAMLWithOptions accepts YAML and the optional keys.
func TestLoad_YAMLWithOptions(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "config.yaml", `
io_module_ip: io-module.local
io_module_port: 5020
red_bit_register: 0
green_bit_register: 1
unit_id: 3
connect_timeout: 250ms
retry_on_empty: 1
connect_retries: 4
connect_backoff: 2s
verify_writes: true
status_port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "io-module.local:5020", cfg.IOModule.Address())
	require.Equal(t, uint8(3), cfg.IOModule.UnitID)
	require.Equal(t, 250*time.Millisecond, cfg.IOModule.ConnectTimeout)
	require.Equal(t, 1, cfg.IOModule.RetryOnEmpty)
	require.Equal(t, 4, cfg.IOModule.ConnectRetries)
	require.Equal(t, 2*time.Second, cfg.IOModule.ConnectBackoff)
	require.True(t, cfg.IOModule.VerifyWrites)
	require.Equal(t, 9090, cfg.StatusPort)
}

// TestLoad_Environment reads routing, mode and log level from the environment.
func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEV_MODE", "true")
	t.Setenv("AppName", "FactoryControlApp")
	t.Setenv("SubTopics", "VideoAnalytics/results, Other/second ,")
	t.Setenv("results_cfg", "zmq_tcp,127.0.0.1:65013")
	t.Setenv("PY_LOG_LEVEL", "DEBUG")

	cfg, err := Load(writeFile(t, "config.json", validJSON))
	require.NoError(t, err)

	require.True(t, cfg.Env.DevMode)
	require.Equal(t, "FactoryControlApp", cfg.Env.AppName)
	require.Equal(t, "DEBUG", cfg.Env.LogLevel)
	require.Equal(t, []string{"VideoAnalytics/results", "Other/second"}, cfg.Env.SubTopics)
	require.Equal(t, map[string]string{"results": "zmq_tcp,127.0.0.1:65013"}, cfg.Env.TopicConfigs)

	t.Setenv("LOG_LEVEL", "warn")
	cfg, err = Load(writeFile(t, "config.json", validJSON))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Env.LogLevel)
}

// TestLoad_ValidationErrors rejects missing, mistyped and conflicting fields.
func TestLoad_ValidationErrors(t *testing.T) {
	clearEnv(t)

	cases := map[string]string{
		"missing red":      `{"io_module_ip": "h", "io_module_port": 502, "green_bit_register": 1}`,
		"missing ip":       `{"io_module_port": 502, "red_bit_register": 0, "green_bit_register": 1}`,
		"port as string":   `{"io_module_ip": "h", "io_module_port": "502", "red_bit_register": 0, "green_bit_register": 1}`,
		"negative coil":    `{"io_module_ip": "h", "io_module_port": 502, "red_bit_register": -1, "green_bit_register": 1}`,
		"bad duration":     `{"io_module_ip": "h", "io_module_port": 502, "red_bit_register": 0, "green_bit_register": 1, "connect_timeout": "soon"}`,
		"same register":    `{"io_module_ip": "h", "io_module_port": 502, "red_bit_register": 4, "green_bit_register": 4}`,
		"misspelled key":   `{"io_module_ip": "h", "io_module_port": 502, "red_bit_register": 0, "green_bit_register": 1, "verify_write": true}`,
		"env key in file":  `{"io_module_ip": "h", "io_module_port": 502, "red_bit_register": 0, "green_bit_register": 1, "sub_topics": "p/t"}`,
		"dev mode in file": `{"io_module_ip": "h", "io_module_port": 502, "red_bit_register": 0, "green_bit_register": 1, "dev_mode": true}`,
		"not json at all":  `io_module_ip = "h"`,
	}

	for name, doc := range cases {
		_, err := Load(writeFile(t, "config.json", doc))
		require.ErrorIs(t, err, ErrValidation, name)
	}

	_, err := Load(writeFile(t, "config.yml", "io_module_ip: [unclosed"))
	require.ErrorIs(t, err, ErrValidation)
}

// TestLoad_InvalidDevMode rejects a DEV_MODE value that is not a boolean.
func TestLoad_InvalidDevMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEV_MODE", "maybe")

	_, err := Load(writeFile(t, "config.json", validJSON))
	require.ErrorIs(t, err, ErrValidation)
}

// TestLoad_MissingFile is an I/O error, not a validation error.
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrValidation)
}

// TestTopicName strips the publisher prefix.
func TestTopicName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "results", TopicName("VideoAnalytics/results"))
	require.Equal(t, "results", TopicName(" results "))
}

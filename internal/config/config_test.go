package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadReceiverClientRequiresHostAndPort(t *testing.T) {
	path := writeYAML(t, "role: receiver-client\nreceiver:\n  host: game.local\n  port: 9000\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "game.local:9000", cfg.Addr())
}

func TestLoadReceiverClientRejectsMissingHost(t *testing.T) {
	path := writeYAML(t, "role: receiver-client\nreceiver:\n  port: 9000\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadReceiverServerRequiresPassword(t *testing.T) {
	path := writeYAML(t, "role: receiver-server\nreceiver:\n  port: 9000\n")
	_, err := Load(path)
	require.Error(t, err)

	path = writeYAML(t, "role: receiver-server\nreceiver:\n  port: 9000\n  password: hunter2\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr())
}

func TestLoadSenderClientRoleRequiresHost(t *testing.T) {
	path := writeYAML(t, "role: sender\nsender:\n  port: 9001\n")
	_, err := Load(path)
	require.Error(t, err)

	path = writeYAML(t, "role: sender\nsender:\n  host: relay.example.com\n  port: 9001\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "relay.example.com:9001", cfg.Addr())
}

func TestLoadSenderServerRoleRequiresPassword(t *testing.T) {
	path := writeYAML(t, "role: sender\nsender:\n  server_role: true\n  port: 9001\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeYAML(t, "role: receiver-client\nreceiver:\n  host: game.local\n  port: 9000\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Receiver.AsyncWorkers)
	require.Equal(t, 7, cfg.Sender.MaxRetries)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverridesFileValue(t *testing.T) {
	path := writeYAML(t, "role: receiver-client\nreceiver:\n  host: game.local\n  port: 9000\n")
	t.Setenv("CROWDLINK_RECEIVER_HOST", "override.local")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "override.local", cfg.Receiver.Host)
}

func TestLoadMissingFileStillWorksFromEnv(t *testing.T) {
	t.Setenv("CROWDLINK_ROLE", "receiver-client")
	t.Setenv("CROWDLINK_RECEIVER_HOST", "game.local")
	t.Setenv("CROWDLINK_RECEIVER_PORT", "9000")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "game.local:9000", cfg.Addr())
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	path := writeYAML(t, "role: bogus\n")
	_, err := Load(path)
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Godyy/go-market/market"
)

const sample = `
[Server]
ListenAddress = "127.0.0.1:7000"
MaxMessageSize = 4096
IdleGrace = "90s"
FinalizePeriods = true

[Logging]
Level = "debug"
  [Logging.Subsystems]
  socket = "warn"

[[Services]]
ID = "1"
Name = "transit"
Resource = "bw"

[[Services]]
ID = "2"
Name = "storage"
Resource = "disk"
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddress)
	require.Equal(t, "tcp", cfg.Server.Network, "defaults are kept")
	require.Equal(t, 8192, cfg.Server.SendBufferSize)
	require.Equal(t, 4096, cfg.Server.MaxMessageSize)
	require.Equal(t, 90*time.Second, time.Duration(cfg.Server.IdleGrace))
	require.True(t, cfg.Server.FinalizePeriods)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, map[string]string{"socket": "warn"}, cfg.Logging.Subsystems)

	require.Equal(t, []*market.Service{
		{ID: "1", Name: "transit", Resource: "bw"},
		{ID: "2", Name: "storage", Resource: "disk"},
	}, cfg.MarketServices())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestUnknownKeys(t *testing.T) {
	_, err := FromReader(strings.NewReader("[Server]\nListenAdress = \"x\"\n"), Default())
	require.ErrorContains(t, err, "Server.ListenAdress")
}

func TestBadDuration(t *testing.T) {
	_, err := FromReader(strings.NewReader("[Server]\nIdleGrace = \"soon\"\n"), Default())
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Server.Network = "udp"
	cfg.Server.SendBufferSize = 0
	cfg.Services = []ServiceConfig{{ID: "1"}, {ID: "1"}, {}}
	err := cfg.Validate()
	require.ErrorContains(t, err, "unknown network")
	require.ErrorContains(t, err, "SendBufferSize")
	require.ErrorContains(t, err, "duplicate ID")
	require.ErrorContains(t, err, "empty ID")
}

func TestDurationText(t *testing.T) {
	b, err := Duration(1500 * time.Millisecond).MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1.5s", string(b))
}

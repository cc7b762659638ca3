package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "release", cfg.Mode)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "mediasoup-worker", cfg.Worker.Bin)
	require.Equal(t, "warn", cfg.Worker.LogLevel)
	require.Equal(t, "0.0.0.0", cfg.Rtc.ListenIP)
	require.Less(t, cfg.Rtc.MinPort, cfg.Rtc.MaxPort)
	require.NotZero(t, cfg.Rtc.MaxIncomingBitrate)
}

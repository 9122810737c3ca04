package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goecho/pkg/bus"
	"github.com/itohio/goecho/pkg/config"
	"github.com/itohio/goecho/pkg/cycle"
)

func TestOpenBus_Mock(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Library = config.LibraryMock

	adapter, closer, err := openBus(cfg)
	require.NoError(t, err)
	assert.IsType(t, &bus.Mock{}, adapter)
	assert.NoError(t, closer.Close())
}

func TestOpenBus_Unknown(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Library = "wiringpi"

	_, _, err := openBus(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenLink(t *testing.T) {
	cfg := config.Default().Transport
	cfg.Kind = config.TransportStdout

	direct, link, err := openLink(cfg)
	require.NoError(t, err)
	assert.True(t, direct.Ready())
	assert.NoError(t, link.Close())

	cfg.Kind = "usb"
	_, _, err = openLink(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenHeartbeat_Disabled(t *testing.T) {
	assert.Equal(t, cycle.NopHeartbeat{}, openHeartbeat(config.HeartbeatConfig{}, config.LibraryPeriph))
	assert.Equal(t, cycle.NopHeartbeat{}, openHeartbeat(config.HeartbeatConfig{Pin: "GPIO17"}, config.LibraryMock))
}

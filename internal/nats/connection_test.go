package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectValidatesConfig(t *testing.T) {
	_, err := Connect(context.Background(), nil, nil)
	assert.Error(t, err)

	_, err = Connect(context.Background(), &ConnectionConfig{}, nil)
	assert.ErrorContains(t, err, "URL cannot be empty")
}

func TestConnectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := DefaultConnectionConfig("nats://127.0.0.1:1")
	config.Timeout = 50 * time.Millisecond
	config.MaxReconnects = 0

	_, err := Connect(ctx, config, nil)
	require.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TALOS_NATS_URL", "")
	assert.Nil(t, ConfigFromEnv())

	t.Setenv("TALOS_NATS_URL", "nats://broker:4222")
	t.Setenv("TALOS_NATS_TOKEN", "secret")
	config := ConfigFromEnv()
	require.NotNil(t, config)
	assert.Equal(t, "nats://broker:4222", config.URL)
	assert.Equal(t, "secret", config.Token)
	assert.Equal(t, "talos", config.Name)
	assert.Len(t, options(config, nil), 8)
}

func TestCloseNil(t *testing.T) {
	assert.NoError(t, Close(nil))
	assert.False(t, IsConnected(nil))
}

package smax

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, DefaultSMAXHostname, c.Host)
	assert.True(t, c.PipelineEnabled)
	assert.Equal(t, DefaultMaxPendingPulls, c.MaxPendingPulls)
	assert.Equal(t, DefaultPipeReadTimeout, c.PipeReadTimeout)
	assert.True(t, c.ResilientExitOnDrain)
}

func TestConfigOptions(t *testing.T) {
	c := NewConfig(
		WithServer("redis.example", 6380),
		WithAuth("user", "pass"),
		WithDB(2),
		WithResilientMode(true),
		WithReconnectRetry(5*time.Second),
	)
	assert.Equal(t, "redis.example", c.Host)
	assert.Equal(t, 6380, c.Port)
	assert.Equal(t, "user", c.Username)
	assert.Equal(t, 2, c.DB)
	assert.True(t, c.ResilientMode)
	assert.Equal(t, 5*time.Second, c.ReconnectRetry)
}

func TestWithSentinelDefaultsServiceName(t *testing.T) {
	c := NewConfig(WithSentinel("", "a:1", "b:1"))
	assert.Equal(t, DefaultSentinelService, c.Sentinel.ServiceName)
	assert.Equal(t, []string{"a:1", "b:1"}, c.Sentinel.Addrs)
}

func TestRedisOptionsPlain(t *testing.T) {
	c := NewConfig(WithServer("myhost", 6400))
	opts := c.redisOptions()
	assert.Equal(t, []string{"myhost:6400"}, opts.Addrs)
}

func TestRedisOptionsSentinel(t *testing.T) {
	c := NewConfig(WithSentinel("SMA-X", "s1:26379"))
	opts := c.redisOptions()
	assert.Equal(t, []string{"s1:26379"}, opts.Addrs)
	assert.Equal(t, "SMA-X", opts.MasterName)
}

func TestDisabledFlag(t *testing.T) {
	c := NewConfig()
	assert.False(t, c.disabled())
	c.setDisabled(true)
	assert.True(t, c.disabled())
}

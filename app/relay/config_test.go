package relay_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/docrelay/app/relay"
	"github.com/dmitrymomot/docrelay/core/config"
	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*relay.Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*relay.Config) {}},
		{
			name:    "unknown_store",
			mutate:  func(c *relay.Config) { c.StoreDriver = "postgres" },
			wantErr: relay.ErrUnknownStoreDriver,
		},
		{
			name:    "unknown_queue",
			mutate:  func(c *relay.Config) { c.QueueDriver = "sqs" },
			wantErr: relay.ErrUnknownQueueDriver,
		},
		{
			name:    "unknown_policy",
			mutate:  func(c *relay.Config) { c.Broadcast.Policy = "block" },
			wantErr: relay.ErrUnknownPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = relay.NewApp(context.Background(), cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	// Parse reads the process environment.
	var cfg relay.Config
	require.NoError(t, config.Parse(&cfg))

	assert.Equal(t, relay.StoreMongo, cfg.StoreDriver)
	assert.Equal(t, relay.QueueRedis, cfg.QueueDriver)
	assert.Equal(t, 64, cfg.Broadcast.QueueSize)
	assert.Equal(t, "drop_newest", cfg.Broadcast.Policy)
	assert.Equal(t, relay.DefaultStreamConfig(), cfg.Stream)
	assert.Equal(t, "scraped_data", cfg.Mongo.Collection)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestBroadcastConfig_Options(t *testing.T) {
	t.Parallel()

	b := broadcast.New(relay.BroadcastConfig{QueueSize: 3, Policy: "disconnect", MaxSubscribers: 1}.Options()...)
	defer b.Close()

	assert.Equal(t, broadcast.Disconnect, b.Policy())
	assert.Equal(t, 3, b.Stats().QueueSize)

	_, err := b.Subscribe()
	require.NoError(t, err)
	_, err = b.Subscribe()
	assert.ErrorIs(t, err, broadcast.ErrRegistryFull)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORE_BACKEND", "MESSAGES_FILE", "MESSAGE_ENC_KEY", "SUBSCRIBER_BUFFER", "SHUTDOWN_TIMEOUT", "MESSAGE_KEY_DERIVE"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3210", cfg.Port)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, "./data/messages.json", cfg.Store.MessagesFile)
	assert.Equal(t, 64, cfg.Realtime.SubscriberBuffer)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.EncKey)
	assert.False(t, cfg.DeriveKey)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("MESSAGE_ENC_KEY", "k")
	t.Setenv("MESSAGE_KEY_DERIVE", "true")
	t.Setenv("SUBSCRIBER_BUFFER", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Store.SQLitePath)
	assert.Equal(t, "k", cfg.EncKey)
	assert.True(t, cfg.DeriveKey)
	assert.Equal(t, 5, cfg.Realtime.SubscriberBuffer)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STORE_BACKEND", "redis"},
		{"SUBSCRIBER_BUFFER", "-1"},
		{"SUBSCRIBER_BUFFER", "lots"},
		{"SHUTDOWN_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

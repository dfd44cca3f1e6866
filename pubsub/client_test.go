package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)

	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.False(t, client.Connected())
}

func TestSubscribeBeforeConnectFails(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = client.Subscribe(context.Background(), "github.actions")
	require.Error(t, err)
}

func TestIsHeartbeat(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"keepalive ping", `{"stillalive": 1693000000}`, true},
		{"real event", `{"repository": "httpd", "jobs_url": "https://example.org/jobs"}`, false},
		{"not json", `ping`, false},
		{"empty object", `{}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isHeartbeat([]byte(tt.payload)))
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	client.Close()
	client.Close()
}

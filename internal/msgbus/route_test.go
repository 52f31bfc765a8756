package msgbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseRoute resolves modes, schemes and addresses.
func TestParseRoute(t *testing.T) {
	t.Parallel()

	cfgs := map[string]string{
		"camera1_stream_results": "zmq_tcp, 127.0.0.1:65013",
		"plain":                  "ws,localhost:8080",
		"secure":                 "WSS,publisher.local:443",
	}

	r, err := ParseRoute("VideoAnalytics/camera1_stream_results", cfgs, true)
	require.NoError(t, err)
	require.Equal(t, "VideoAnalytics", r.Publisher)
	require.Equal(t, "camera1_stream_results", r.Topic)
	require.Equal(t, "zmq_tcp", r.Mode)
	require.Equal(t, "ws://127.0.0.1:65013/camera1_stream_results", r.URL())
	require.Equal(t, "VideoAnalytics/camera1_stream_results", r.String())

	r, err = ParseRoute("VideoAnalytics/camera1_stream_results", cfgs, false)
	require.NoError(t, err)
	require.Equal(t, "wss://127.0.0.1:65013/camera1_stream_results", r.URL())

	r, err = ParseRoute("pub/plain", cfgs, false)
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/plain", r.URL())

	r, err = ParseRoute("pub/secure", cfgs, true)
	require.NoError(t, err)
	require.True(t, r.Secure)
}

// TestParseRoute_Invalid rejects malformed entries and unsupported modes.
func TestParseRoute_Invalid(t *testing.T) {
	t.Parallel()

	cfgs := map[string]string{
		"ipc":     "zmq_ipc,/tmp/socket",
		"noport":  "tcp,127.0.0.1",
		"noaddr":  "tcp",
		"results": "tcp,127.0.0.1:1",
	}

	for _, sub := range []string{"results", "a/b/results", "/results", "pub/", "pub/missing", "pub/noport", "pub/noaddr"} {
		_, err := ParseRoute(sub, cfgs, true)
		require.ErrorIs(t, err, ErrInvalidRoute, sub)
	}

	_, err := ParseRoute("pub/ipc", cfgs, true)
	require.ErrorIs(t, err, ErrUnsupportedMode)
}

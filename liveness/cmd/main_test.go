package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness/mocks"
	"github.com/imtaco/stream-liveness/liveness/status"
)

func TestDiffStreams(t *testing.T) {
	added, removed := diffStreams([]string{"a", "b", "c"}, []string{"b", "d", "d", "e"})
	sort.Strings(removed)

	assert.Equal(t, []string{"d", "e"}, added)
	assert.Equal(t, []string{"a", "c"}, removed)

	added, removed = diffStreams(nil, nil)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestStreamReloaderOnlyTouchesConfiguredStreams(t *testing.T) {
	ctrl := gomock.NewController(t)
	streams := mocks.NewMockStreamController(ctrl)
	r := &streamReloader{ctrl: streams, logger: log.NewTest(t)}

	streams.EXPECT().AddStream("a").Return(true)
	streams.EXPECT().AddStream("b").Return(true)
	r.apply([]string{"a", "b"})

	// "api-added" is monitored too but never listed in the config
	streams.EXPECT().RemoveStream("a").Return(true)
	streams.EXPECT().AddStream("c").Return(true)
	r.apply([]string{"b", "c"})
}

func TestConfigDefaultsValidate(t *testing.T) {
	t.Setenv("STREAMS", "cam-1,cam-2")

	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cam-1", "cam-2"}, cfg.Streams)
	assert.Equal(t, "/liveness/streams/", cfg.Registry.Etcd.Prefix)
	assert.Equal(t, 60*time.Second, cfg.Poll.MaxBackoff)
	assert.Equal(t, status.DefaultLiveTokens, cfg.LiveTokens)
}

func TestConfigRejectsBadStreamID(t *testing.T) {
	t.Setenv("STREAMS", "ok,not ok")

	_, err := loadConfig(nil)
	require.Error(t, err)
}

func TestConfigRejectsEmptyAllowedOrigins(t *testing.T) {
	file := filepath.Join(t.TempDir(), "liveness.yaml")
	require.NoError(t, os.WriteFile(file, []byte("http:\n  allowed_origins: []\n"), 0o600))
	t.Setenv("CONFIG_FILE", file)

	_, err := loadConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.allowed_origins")
}

func TestConfigRejectsBackoffBelowInterval(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("POLL_MAX_BACKOFF", "5s")

	_, err := loadConfig(nil)
	require.Error(t, err)
}

package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	logger, err := NewLogger(path)
	require.NoError(t, err)
	logger.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local) }
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func TestLogFormat(t *testing.T) {
	logger, path := newTestLogger(t)

	logger.Info("dataset loaded")
	logger.Errorf("upload failed: %s", "bad header")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"[2024-03-01 12:00:00] INFO: dataset loaded\n"+
			"[2024-03-01 12:00:00] ERROR: upload failed: bad header\n",
		string(data))
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	logger, _ := newTestLogger(t)

	sub := logger.Subscribe()
	logger.Warning("disk almost full")

	select {
	case entry := <-sub:
		assert.Contains(t, entry, "WARNING: disk almost full")
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}

	logger.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)

	// 取消订阅后继续写日志不应阻塞或panic
	logger.Info("after unsubscribe")
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	logger, _ := newTestLogger(t)
	_ = logger.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			logger.Debug("tick")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("logger blocked on full subscriber channel")
	}
}

func TestCheckRotate(t *testing.T) {
	logger, path := newTestLogger(t)

	logger.Info(strings.Repeat("x", 64))
	require.NoError(t, logger.CheckRotate("1024"))
	_, err := os.Stat(filepath.Join(filepath.Dir(path), "app.20240301120000.log"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, logger.CheckRotate("8 * 4"))
	rotated := filepath.Join(filepath.Dir(path), "app.20240301120000.log")
	assert.FileExists(t, rotated)

	logger.Info("fresh")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[2024-03-01 12:00:00] INFO: fresh\n", string(data))
}

func TestReopen(t *testing.T) {
	logger, path := newTestLogger(t)
	logger.Info("before")

	moved := path + ".1"
	require.NoError(t, os.Rename(path, moved))
	require.NoError(t, logger.Reopen())
	logger.Info("after")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[2024-03-01 12:00:00] INFO: after\n", string(data))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		expr    string
		want    int64
		wantErr bool
	}{
		{"10 * 1024 * 1024", 10 << 20, false},
		{"2048", 2048, false},
		{"1*2*3", 6, false},
		{"ten", 0, true},
		{"", 0, true},
		{"0 * 5", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.expr)
		if tt.wantErr {
			assert.Error(t, err, tt.expr)
			continue
		}
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}
}

func TestWriteLogsAsError(t *testing.T) {
	logger, path := newTestLogger(t)
	n, err := logger.Write([]byte("http: TLS handshake error\n"))
	require.NoError(t, err)
	assert.Equal(t, 26, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[2024-03-01 12:00:00] ERROR: http: TLS handshake error\n", string(data))
}

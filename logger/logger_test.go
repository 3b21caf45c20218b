package logger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := New(Config{
		Level:      INFO,
		FilePath:   path,
		MaxSize:    10,
		MaxBackups: 2,
		Console:    false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestLevelFiltering(t *testing.T) {
	l, path := newTestLogger(t)

	l.Debug("below threshold")
	l.Info("at threshold")
	l.Error("above threshold")

	content := readLog(t, path)
	assert.NotContains(t, content, "below threshold")
	assert.Contains(t, content, "at threshold")
	assert.Contains(t, content, "above threshold")
}

func TestSetLevelTakesEffect(t *testing.T) {
	l, path := newTestLogger(t)
	assert.Equal(t, INFO, l.Level())

	l.SetLevel(ERROR)
	assert.Equal(t, ERROR, l.Level())

	l.Warn("suppressed warning")
	l.Error("kept error")

	content := readLog(t, path)
	assert.NotContains(t, content, "suppressed warning")
	assert.Contains(t, content, "kept error")
}

func TestSetLevelConcurrentWithLogging(t *testing.T) {
	l, path := newTestLogger(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			l.Info("message %d", i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				l.SetLevel(ERROR)
			} else {
				l.SetLevel(INFO)
			}
		}
	}()
	wg.Wait()

	l.SetLevel(INFO)
	l.Info("after the dust settles")
	assert.Contains(t, readLog(t, path), "after the dust settles")
}

func TestParseLogLevelValues(t *testing.T) {
	for input, want := range map[string]LogLevel{
		"debug": DEBUG, "INFO": INFO, "Warn": WARN, "warning": WARN, "error": ERROR,
	} {
		level, err := ParseLogLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, level, input)
	}

	_, err := ParseLogLevel("loud")
	require.Error(t, err)
}

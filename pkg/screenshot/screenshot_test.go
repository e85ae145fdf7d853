package screenshot

import (
	"context"
	"testing"

	"bilisub/pkg/config"
	"bilisub/pkg/imagecache"
	"bilisub/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	puts map[string][]byte
}

func (m *memStore) Put(kind imagecache.Kind, name string, data []byte) (string, error) {
	if m.puts == nil {
		m.puts = map[string][]byte{}
	}
	m.puts[name] = data
	return "/cache/" + string(kind) + "/" + name, nil
}

func TestNewDisabled(t *testing.T) {
	c := New(config.ScreenshotConfig{Enabled: false}, &memStore{}, nil)
	_, err := c.Capture(context.Background(), models.Dynamic{ID: "1"})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, c.Close())
}

func TestNewEnabledAppliesDefaults(t *testing.T) {
	c := New(config.ScreenshotConfig{Enabled: true}, &memStore{}, nil)
	rc, ok := c.(*RodCapturer)
	require.True(t, ok)
	assert.Equal(t, 750, rc.cfg.Width)
	assert.Equal(t, 1334, rc.cfg.Height)
	assert.Positive(t, rc.cfg.Timeout)

	// never launched, so nothing to close
	assert.NoError(t, rc.Close())
}

func TestCaptureRequiresID(t *testing.T) {
	rc := NewRodCapturer(config.ScreenshotConfig{Enabled: true}, &memStore{}, nil)
	_, err := rc.Capture(context.Background(), models.Dynamic{})
	assert.Error(t, err)
	assert.Nil(t, rc.browser)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "dynamic-123.png", fileName(models.Dynamic{ID: "123"}))
}

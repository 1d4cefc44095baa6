package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"verifyflow/internal/platform/config"
)

func TestNew(t *testing.T) {
	t.Run("json format emits json lines", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(config.LogConfig{Level: "info", Format: "json"}, &buf)
		log.Info("capture started", "kind", "face")
		assert.Contains(t, buf.String(), `"msg":"capture started"`)
		assert.Contains(t, buf.String(), `"kind":"face"`)
	})

	t.Run("level filters lower records", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(config.LogConfig{Level: "warn"}, &buf)
		log.Info("dropped")
		log.Warn("kept")
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(config.LogConfig{Level: "loud"}, &buf)
		log.Debug("hidden")
		log.Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

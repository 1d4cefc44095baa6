//go:build !gst

package main

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifyflow/internal/platform/config"
	"verifyflow/internal/platform/logger"
)

func TestGStreamerCameraNeedsBuildTag(t *testing.T) {
	cfg := config.Default()
	cfg.Session.Store = config.SessionStoreMemory
	cfg.Audit.Sink = config.AuditSinkNone
	cfg.Capture.Camera = config.CameraGStreamer

	_, err := build(context.Background(), cfg, logger.Discard(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-tags gst")
}

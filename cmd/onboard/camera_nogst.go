//go:build !gst

package main

import (
	"errors"
	"log/slog"

	"verifyflow/internal/media"
	"verifyflow/internal/media/synthetic"
	"verifyflow/internal/platform/config"
)

func openCamera(cfg config.CaptureConfig, _ *slog.Logger) (media.Device, error) {
	if cfg.Camera == config.CameraGStreamer {
		return nil, errors.New("camera \"gstreamer\" needs a binary built with -tags gst")
	}
	return synthetic.New(), nil
}

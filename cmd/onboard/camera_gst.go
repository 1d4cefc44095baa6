//go:build gst

package main

import (
	"log/slog"

	"verifyflow/internal/media"
	"verifyflow/internal/media/gstdevice"
	"verifyflow/internal/media/synthetic"
	"verifyflow/internal/platform/config"
)

func openCamera(cfg config.CaptureConfig, logger *slog.Logger) (media.Device, error) {
	if cfg.Camera == config.CameraGStreamer {
		return gstdevice.New(cfg.DevicePath, logger), nil
	}
	return synthetic.New(), nil
}

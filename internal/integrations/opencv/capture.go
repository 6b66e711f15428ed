// Package opencv provides a webcam frame source backed by OpenCV's video
// capture, feeding the attendance pipeline with live frames.
package opencv

import (
	"context"
	"fmt"
	"image"
	"time"

	"timekeeper-go/internal/config"
	"timekeeper-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Webcam reads frames from a local capture device. Implements the
// pipeline's FrameSource.
type Webcam struct {
	cfg     config.CaptureConfig
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// OpenWebcam opens the configured capture device.
func OpenWebcam(cfg config.CaptureConfig) (*Webcam, error) {
	capture, err := gocv.OpenVideoCapture(cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %d: %w", cfg.DeviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("capture device %d is not available", cfg.DeviceID)
	}

	log.Infof("Opened capture device %d (%gx%g @ %g fps)",
		cfg.DeviceID,
		capture.Get(gocv.VideoCaptureFrameWidth),
		capture.Get(gocv.VideoCaptureFrameHeight),
		capture.Get(gocv.VideoCaptureFPS))

	return &Webcam{
		cfg:     cfg,
		capture: capture,
		mat:     gocv.NewMat(),
	}, nil
}

// Next blocks until the next frame arrives and returns it with its capture
// time. A read failure is returned to the caller; the device stays open so
// the next call can retry.
func (w *Webcam) Next(ctx context.Context) (image.Image, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	if ok := w.capture.Read(&w.mat); !ok {
		return nil, time.Time{}, fmt.Errorf("failed to read frame from device %d", w.cfg.DeviceID)
	}
	at := timezone.Now()

	if w.mat.Empty() {
		return nil, time.Time{}, fmt.Errorf("empty frame from device %d", w.cfg.DeviceID)
	}

	img, err := w.mat.ToImage()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to convert frame: %w", err)
	}

	return img, at, nil
}

// Close releases the capture device.
func (w *Webcam) Close() error {
	if err := w.mat.Close(); err != nil {
		log.Warnf("Failed to release frame buffer: %v", err)
	}
	return w.capture.Close()
}

package main // import "github.com/tcolgate/catcam"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

// Camera delivers encoded JPEG data to a writer. Writes are made from a
// single goroutine, in order; a write that starts with the JPEG
// start-of-image marker begins a new frame.
type Camera interface {
	// Run blocks until ctx is done or the camera fails.
	Run(ctx context.Context, w io.Writer) error
	Close() error
}

// newCamera opens the camera source selected by cfg.
func newCamera(cfg *Config) (Camera, error) {
	tr, err := newTransform(cfg.Rotation, cfg.HFlip, cfg.VFlip, cfg.Quality)
	if err != nil {
		return nil, err
	}

	switch cfg.Source {
	case sourceV4L2:
		cam, err := newWebcam(cfg.Device, cfg.Format, cfg.Size, tr)
		if err != nil {
			return nil, err
		}
		return cam, nil
	case sourceRpicam:
		// rpicam-vid rotates and flips on the camera itself
		cam, err := newRpicam(cfg.Width, cfg.Height, cfg.Framerate, cfg.Rotation, cfg.HFlip, cfg.VFlip)
		if err != nil {
			return nil, err
		}
		return cam, nil
	case sourceURL:
		return newUpstream(cfg.URL, tr), nil
	case sourcePattern:
		return newPattern(cfg.Width, cfg.Height, cfg.Framerate, tr), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}

// runCamera runs cam into sink until ctx is done. The camera is always
// closed before runCamera returns.
func runCamera(ctx context.Context, cam Camera, sink io.Writer, fps bool) (err error) {
	defer func() {
		if cerr := cam.Close(); cerr != nil {
			log.WithError(cerr).Error("Failed to stop camera")
			if err == nil {
				err = cerr
			}
		}
		log.Println("Camera stopped")
	}()

	if fps {
		sink = newFPSWriter(sink)
	}

	err = cam.Run(ctx, sink)
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSinkClosed) {
		return nil
	}
	return err
}

// fpsWriter logs the rate of frames written through it.
type fpsWriter struct {
	w        io.Writer
	interval time.Duration
	start    time.Time
	frames   int
}

func newFPSWriter(w io.Writer) *fpsWriter {
	return &fpsWriter{
		w:        w,
		interval: 10 * time.Second,
		start:    time.Now(),
	}
}

func (f *fpsWriter) Write(p []byte) (int, error) {
	if bytes.HasPrefix(p, soiMarker) {
		f.frames++
		// print framerate info every 10 seconds
		if d := time.Since(f.start); d > f.interval {
			log.WithField("fps", float64(f.frames)/d.Seconds()).Info("Capture rate")
			f.start = time.Now()
			f.frames = 0
		}
	}
	return f.w.Write(p)
}

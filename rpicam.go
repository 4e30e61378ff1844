package main // import "github.com/tcolgate/catcam"

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var jpegTrailer = []byte{0xFF, 0xD9}

// rpicam captures from the rpicam-vid application.
type rpicam struct {
	command string
	args    []string
	bufSize int
}

func newRpicam(width, height, framerate, rotation int, hflip, vflip bool) (*rpicam, error) {
	args := []string{
		"--timeout", "0", // no timeout, run until explicitly closed
		"--width", strconv.Itoa(width),
		"--height", strconv.Itoa(height),
		"--framerate", strconv.Itoa(framerate),
		"--nopreview",
		"--codec", "mjpeg",
		"--flush",
		"--output", "-", // stdout
	}
	switch rotation {
	case 0:
	case 180:
		args = append(args, "--rotation", "180")
	default:
		return nil, fmt.Errorf("rpicam-vid cannot rotate by %d", rotation)
	}
	if hflip {
		args = append(args, "--hflip")
	}
	if vflip {
		args = append(args, "--vflip")
	}

	return &rpicam{
		command: "rpicam-vid",
		args:    args,
		// Estimated 24 bits per pixel
		bufSize: width * height * 3,
	}, nil
}

func (r *rpicam) Run(ctx context.Context, w io.Writer) error {
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open stdout pipe")
	}

	scanner := bufio.NewScanner(stdout)
	// Use 4k resolution as the max
	scanner.Buffer(make([]byte, 0, r.bufSize), 3840*2160*3)
	scanner.Split(mjpegSplitFunc)

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start %s", r.command)
	}
	log.WithField("command", r.command).Info("Camera process started")

	var werr error
	for scanner.Scan() {
		if _, werr = w.Write(scanner.Bytes()); werr != nil {
			break
		}
	}
	serr := scanner.Err()

	if werr != nil || serr != nil {
		if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
			cmd.Process.Kill()
		}
	}
	// Flush stdout so Wait() can finish
	_, _ = io.Copy(io.Discard, stdout)

	log.WithField("command", r.command).Info("Waiting for camera process to exit")
	err = cmd.Wait()

	switch {
	case werr != nil:
		return werr
	case serr != nil:
		return errors.Wrap(serr, "reading frames")
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return errors.Wrapf(err, "%s failed", r.command)
	default:
		return fmt.Errorf("%s exited", r.command)
	}
}

// Close is a no-op, the process is stopped when Run returns.
func (r *rpicam) Close() error {
	return nil
}

// mjpegSplitFunc splits an MJPEG stream into individual JPEG frames by finding the JPEG trailer bytes at the end of
// each frame.
// It is intended to be used as a bufio.SplitFunc for bufio.Scanner.
func mjpegSplitFunc(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.Index(data, jpegTrailer); i >= 0 {
		return i + 2, data[0 : i+2], nil
	}

	// Request more data.
	return 0, nil, nil
}

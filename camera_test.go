package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeCam struct {
	frames   [][]byte
	runErr   error
	closeErr error
	closed   bool
}

func (c *fakeCam) Run(ctx context.Context, w io.Writer) error {
	for _, f := range c.frames {
		if _, err := w.Write(f); err != nil {
			return err
		}
	}
	if c.runErr != nil {
		return c.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeCam) Close() error {
	c.closed = true
	return c.closeErr
}

func waitForFrame(t *testing.T, s *FrameSink) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, _, err := s.Next(ctx, 0)
	if err != nil {
		t.Fatalf("no frame published: %v", err)
	}
	return frame
}

func TestRunCameraClosesOnCancel(t *testing.T) {
	cam := &fakeCam{frames: [][]byte{jpegChunk(1), jpegChunk(2)}}
	sink := NewFrameSink()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runCamera(ctx, cam, sink, true) }()

	if frame := waitForFrame(t, sink); !bytes.Equal(frame, jpegChunk(1)) {
		t.Errorf("frame = %x", frame)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("runCamera() = %v, want nil after cancel", err)
	}
	if !cam.closed {
		t.Error("camera not closed")
	}
}

func TestRunCameraClosesOnFailure(t *testing.T) {
	failure := errors.New("camera unplugged")
	cam := &fakeCam{runErr: failure}

	err := runCamera(context.Background(), cam, NewFrameSink(), false)
	if !errors.Is(err, failure) {
		t.Errorf("runCamera() = %v, want %v", err, failure)
	}
	if !cam.closed {
		t.Error("camera not closed")
	}
}

func TestRunCameraReportsCloseFailure(t *testing.T) {
	failure := errors.New("stuck")
	cam := &fakeCam{closeErr: failure}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runCamera(ctx, cam, NewFrameSink(), false); !errors.Is(err, failure) {
		t.Errorf("runCamera() = %v, want %v", err, failure)
	}
}

func TestRunCameraStopsWhenSinkCloses(t *testing.T) {
	cam := &fakeCam{frames: [][]byte{jpegChunk(1)}}
	sink := NewFrameSink()
	sink.Close()

	if err := runCamera(context.Background(), cam, sink, false); err != nil {
		t.Errorf("runCamera() = %v, want nil", err)
	}
}

func TestFPSWriterPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	w := newFPSWriter(&buf)
	w.interval = 0

	for _, c := range [][]byte{jpegChunk(1), {2}, jpegChunk(3)} {
		if _, err := w.Write(c); err != nil {
			t.Fatal(err)
		}
	}
	if want := []byte{0xFF, 0xD8, 1, 2, 0xFF, 0xD8, 3}; !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("written = %x, want %x", buf.Bytes(), want)
	}
}

func TestNewCameraUnknownSource(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = "carrier-pigeon"
	if _, err := newCamera(&cfg); err == nil {
		t.Error("newCamera() accepted an unknown source")
	}
}

func TestPatternCamera(t *testing.T) {
	cfg := defaultConfig()
	cfg.Source = sourcePattern
	cfg.Width, cfg.Height, cfg.Framerate = 64, 48, 50
	cfg.Rotation = 90

	cam, err := newCamera(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	sink := NewFrameSink()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runCamera(ctx, cam, sink, false) }()

	img := decodeJPEG(t, waitForFrame(t, sink))
	if b := img.Bounds(); b.Dx() != 48 || b.Dy() != 64 {
		t.Errorf("frame bounds = %v, want 48x64", b)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("runCamera() = %v", err)
	}
}

func TestMJPEGSplitFunc(t *testing.T) {
	a := []byte{0xFF, 0xD8, 1, 2, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 3, 0xFF, 0xD9}

	scanner := bufio.NewScanner(bytes.NewReader(append(append(bytes.Clone(a), b...), 0xFF, 0xD8, 4)))
	scanner.Split(mjpegSplitFunc)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, bytes.Clone(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("frames = %x, want %x and %x", got, a, b)
	}
}

func TestNewRpicamArgs(t *testing.T) {
	r, err := newRpicam(640, 480, 30, 180, true, false)
	if err != nil {
		t.Fatal(err)
	}

	args := map[string]string{}
	for i := 0; i < len(r.args); i++ {
		if i+1 < len(r.args) && r.args[i+1][0] != '-' {
			args[r.args[i]] = r.args[i+1]
			i++
			continue
		}
		args[r.args[i]] = ""
	}

	want := map[string]string{
		"--width":     "640",
		"--height":    "480",
		"--framerate": "30",
		"--codec":     "mjpeg",
		"--rotation":  "180",
		"--hflip":     "",
	}
	for k, v := range want {
		if got, ok := args[k]; !ok || got != v {
			t.Errorf("%s = %q, want %q (args %v)", k, got, v, r.args)
		}
	}
	if _, ok := args["--vflip"]; ok {
		t.Error("unexpected --vflip")
	}

	if _, err := newRpicam(640, 480, 30, 90, false, false); err == nil {
		t.Error("newRpicam() accepted a 90 degree rotation")
	}
}

func TestRpicamRunReadsFrames(t *testing.T) {
	var stream []byte
	for i := byte(1); i <= 3; i++ {
		stream = append(stream, 0xFF, 0xD8, i, i, 0xFF, 0xD9)
	}
	path := filepath.Join(t.TempDir(), "capture.mjpg")
	if err := os.WriteFile(path, stream, 0o644); err != nil {
		t.Fatal(err)
	}

	r := &rpicam{command: "cat", args: []string{path}}
	sink := NewFrameSink()

	err := r.Run(context.Background(), sink)
	if err == nil {
		t.Error("Run() returned nil after the process exited")
	}

	frame, gen := sink.Current()
	if gen != 2 {
		t.Errorf("published %d frames, want 2", gen)
	}
	if want := []byte{0xFF, 0xD8, 2, 2, 0xFF, 0xD9}; !bytes.Equal(frame, want) {
		t.Errorf("Current() = %x, want %x", frame, want)
	}
}

func TestUpstreamCamera(t *testing.T) {
	source, _, ts := newTestServer(t, testPage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pat := newPattern(32, 32, 100, nil)
	go pat.Run(ctx, source)

	sink := NewFrameSink()
	up := newUpstream(ts.URL+streamPath, nil)
	done := make(chan error, 1)
	go func() { done <- runCamera(ctx, up, sink, false) }()

	img := decodeJPEG(t, waitForFrame(t, sink))
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
		t.Errorf("frame bounds = %v, want 32x32", b)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runCamera() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upstream camera did not stop")
	}
}

func TestUpstreamCameraBadStatus(t *testing.T) {
	_, _, ts := newTestServer(t, testPage)

	up := newUpstream(ts.URL+"/doesnotexist", nil)
	if err := up.Run(context.Background(), NewFrameSink()); err == nil {
		t.Error("Run() succeeded against a 404")
	}
}

func TestUpstreamCameraOwnsClient(t *testing.T) {
	a := newUpstream("http://a.invalid/stream.mjpg", nil)
	b := newUpstream("http://b.invalid/stream.mjpg", nil)
	if a.client == http.DefaultClient || a.client == b.client {
		t.Error("upstream cameras share an HTTP client")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

package main // import "github.com/tcolgate/catcam"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/blackjack/webcam"
	log "github.com/sirupsen/logrus"
)

const (
	fmtYUYV  = 0x56595559
	fmtMJPEG = 0x47504a4d
)

type byArea []webcam.FrameSize

func (slice byArea) Len() int {
	return len(slice)
}

//For sorting purposes
func (slice byArea) Less(i, j int) bool {
	ls := slice[i].MaxWidth * slice[i].MaxHeight
	rs := slice[j].MaxWidth * slice[j].MaxHeight
	return ls < rs
}

//For sorting purposes
func (slice byArea) Swap(i, j int) {
	slice[i], slice[j] = slice[j], slice[i]
}

var supportedFormats = map[webcam.PixelFormat]bool{
	fmtYUYV:  true,
	fmtMJPEG: true,
}

// v4l2Cam captures from a video4linux device.
type v4l2Cam struct {
	cam     *webcam.Webcam
	dev     string
	timeout uint32
	f       webcam.PixelFormat
	w, h    uint32
	tr      *transform
}

func newWebcam(dev, fmtstr, szstr string, tr *transform) (_ *v4l2Cam, err error) {
	cam, err := webcam.Open(dev)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			cam.Close()
		}
	}()

	logger := log.WithField("device", dev)

	// select pixel format
	formatDesc := cam.GetSupportedFormats()
	for f, s := range formatDesc {
		logger.Debugf("Available format %s (%#x)", s, f)
	}

	format, err := selectFormat(formatDesc, fmtstr)
	if err != nil {
		return nil, err
	}

	// select frame size
	frames := byArea(cam.GetSupportedFrameSizes(format))
	sort.Sort(frames)
	for _, f := range frames {
		logger.Debugf("Supported frame size for %s: %s", formatDesc[format], f.GetString())
	}

	size, err := selectSize(frames, szstr)
	if err != nil {
		return nil, err
	}

	logger.Infof("Requesting %s %s", formatDesc[format], size.GetString())
	f, w, h, err := cam.SetImageFormat(format, uint32(size.MaxWidth), uint32(size.MaxHeight))
	if err != nil {
		return nil, fmt.Errorf("SetImageFormat error %v", err)
	}
	logger.Infof("Resulting image format: %s %dx%d", formatDesc[f], w, h)

	// start streaming
	err = cam.StartStreaming()
	if err != nil {
		return nil, fmt.Errorf("failed to start stream, %v", err)
	}

	return &v4l2Cam{
		cam:     cam,
		dev:     dev,
		timeout: uint32(1),
		f:       f,
		w:       w,
		h:       h,
		tr:      tr,
	}, nil
}

func selectFormat(formatDesc map[webcam.PixelFormat]string, fmtstr string) (webcam.PixelFormat, error) {
	if fmtstr == "" {
		// prefer frames the camera has already compressed
		if _, ok := formatDesc[fmtMJPEG]; ok {
			return fmtMJPEG, nil
		}
		if _, ok := formatDesc[fmtYUYV]; ok {
			return fmtYUYV, nil
		}
		return 0, errors.New("no supported format found")
	}

	for f, s := range formatDesc {
		if fmtstr != s {
			continue
		}
		if !supportedFormats[f] {
			return 0, fmt.Errorf("format %q is not supported", s)
		}
		return f, nil
	}
	return 0, fmt.Errorf("format %q not offered by the camera", fmtstr)
}

func selectSize(frames byArea, szstr string) (*webcam.FrameSize, error) {
	switch {
	case szstr == "":
		if len(frames) == 0 {
			return nil, errors.New("camera reports no frame sizes")
		}
		return &frames[len(frames)-1], nil
	case strings.Count(szstr, "x") == 1:
		parts := strings.Split(szstr, "x")
		x, xerr := strconv.Atoi(parts[0])
		y, yerr := strconv.Atoi(parts[1])
		if xerr != nil || yerr != nil {
			return nil, fmt.Errorf("couldn't parse width x height %q", szstr)
		}
		return &webcam.FrameSize{
			MaxWidth:  uint32(x),
			MaxHeight: uint32(y),
		}, nil
	default:
		for i := range frames {
			if szstr == frames[i].GetString() {
				return &frames[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no matching frame size %q", szstr)
}

func (c *v4l2Cam) Run(ctx context.Context, w io.Writer) error {
	log.WithField("device", c.dev).Println("Running webcam loop")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.cam.WaitForFrame(c.timeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return fmt.Errorf("unhandled error from WaitForFrame, %v", err)
		}

		frame, err := c.cam.ReadFrame()
		if err != nil {
			return fmt.Errorf("unhandled error reading frame, %v", err)
		}
		if len(frame) == 0 {
			continue
		}

		jpg, err := c.encodeToJPEG(frame)
		if err != nil {
			log.WithError(err).Warn("Dropping frame")
			continue
		}
		if _, err := w.Write(jpg); err != nil {
			return err
		}
	}
}

func (c *v4l2Cam) encodeToJPEG(frame []byte) ([]byte, error) {
	switch c.f {
	case fmtYUYV:
		img, err := yuyvToImage(frame, c.w, c.h)
		if err != nil {
			return nil, err
		}
		return c.tr.Encode(img)
	case fmtMJPEG:
		return c.tr.Apply(frame)
	default:
		return nil, errors.New("invalid format ?")
	}
}

func (c *v4l2Cam) Close() error {
	return c.cam.Close()
}

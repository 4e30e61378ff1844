package main // import "github.com/tcolgate/catcam"

import (
	"context"
	"image"
	"image/color"
	"io"
	"time"

	"github.com/disintegration/imaging"
)

// pattern produces solid colour frames, for running without a camera.
type pattern struct {
	width, height int
	interval      time.Duration
	tr            *transform
}

func newPattern(width, height, framerate int, tr *transform) *pattern {
	if framerate <= 0 {
		framerate = 1
	}
	return &pattern{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(framerate),
		tr:       tr,
	}
}

var patternColors = []color.NRGBA{
	{0xff, 0x00, 0x00, 0xff},
	{0x00, 0xff, 0x00, 0xff},
	{0x00, 0x00, 0xff, 0xff},
	{0xff, 0xff, 0xff, 0xff},
}

// Frame renders frame n of the pattern.
func (p *pattern) Frame(n int) ([]byte, error) {
	img := imaging.New(p.width, p.height, patternColors[n%len(patternColors)])
	// mark the top left corner so orientation survives the transform
	img = imaging.Paste(img, imaging.New(p.width/4+1, p.height/4+1, color.Black), image.Pt(0, 0))
	return p.tr.Encode(img)
}

func (p *pattern) Run(ctx context.Context, w io.Writer) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		frame, err := p.Frame(n)
		if err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *pattern) Close() error {
	return nil
}

package main // import "github.com/tcolgate/catcam"

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mattn/go-mjpeg"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// upstream re-publishes the frames of another MJPEG stream.
type upstream struct {
	url    string
	client *http.Client
	tr     *transform
}

func newUpstream(url string, tr *transform) *upstream {
	return &upstream{
		url:    url,
		client: &http.Client{},
		tr:     tr,
	}
}

func (u *upstream) Run(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return err
	}
	res, err := u.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", u.url)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream %s: %s", u.url, res.Status)
	}

	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		return errors.Wrapf(err, "upstream %s", u.url)
	}
	log.WithField("url", u.url).Info("Connected to upstream stream")

	for {
		frame, err := dec.DecodeRaw()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "reading upstream frame")
		}

		jpg, err := u.tr.Apply(frame)
		if err != nil {
			log.WithError(err).Warn("Dropping frame")
			continue
		}
		if _, err := w.Write(jpg); err != nil {
			return err
		}
	}
}

func (u *upstream) Close() error {
	u.client.CloseIdleConnections()
	return nil
}

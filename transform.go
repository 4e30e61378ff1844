package main // import "github.com/tcolgate/catcam"

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/gift"
	"github.com/disintegration/imaging"
)

// transform rotates and flips JPEG frames. A nil *transform passes frames
// through untouched.
type transform struct {
	g       *gift.GIFT
	quality int
}

// newTransform returns nil when no transformation is needed. rotation is
// clockwise, in degrees.
func newTransform(rotation int, hflip, vflip bool, quality int) (*transform, error) {
	g := gift.New()
	switch rotation {
	case 0:
	case 90:
		g.Add(gift.Rotate270())
	case 180:
		g.Add(gift.Rotate180())
	case 270:
		g.Add(gift.Rotate90())
	default:
		return nil, fmt.Errorf("unsupported rotation %d", rotation)
	}
	if hflip {
		g.Add(gift.FlipHorizontal())
	}
	if vflip {
		g.Add(gift.FlipVertical())
	}

	if len(g.Filters) == 0 {
		return nil, nil
	}
	return &transform{g: g, quality: quality}, nil
}

// Apply returns frame transformed and re-encoded.
func (t *transform) Apply(frame []byte) ([]byte, error) {
	if t == nil {
		return frame, nil
	}

	img, err := imaging.Decode(bytes.NewReader(addMotionDht(frame)))
	if err != nil {
		return nil, fmt.Errorf("decoding frame, %v", err)
	}
	return t.Encode(img)
}

// Encode transforms img and encodes it as a JPEG.
func (t *transform) Encode(img image.Image) ([]byte, error) {
	quality := imaging.JPEGQuality(defaultQuality)
	if t != nil {
		dst := image.NewRGBA(t.g.Bounds(img.Bounds()))
		t.g.Draw(dst, img)
		img = dst
		quality = imaging.JPEGQuality(t.quality)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	dhtMarker = []byte{0xFF, 0xC4}
	sosMarker = []byte{0xFF, 0xDA}
	// standard Huffman tables from the JPEG spec, section K.3
	motionDht = []byte{1, 162, 0, 0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 1, 0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 16, 0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 125, 1, 2, 3, 0, 4, 17, 5, 18, 33, 49, 65, 6, 19, 81, 97, 7, 34, 113, 20, 50, 129, 145, 161, 8, 35, 66, 177, 193, 21, 82, 209, 240, 36, 51, 98, 114, 130, 9, 10, 22, 23, 24, 25, 26, 37, 38, 39, 40, 41, 42, 52, 53, 54, 55, 56, 57, 58, 67, 68, 69, 70, 71, 72, 73, 74, 83, 84, 85, 86, 87, 88, 89, 90, 99, 100, 101, 102, 103, 104, 105, 106, 115, 116, 117, 118, 119, 120, 121, 122, 131, 132, 133, 134, 135, 136, 137, 138, 146, 147, 148, 149, 150, 151, 152, 153, 154, 162, 163, 164, 165, 166, 167, 168, 169, 170, 178, 179, 180, 181, 182, 183, 184, 185, 186, 194, 195, 196, 197, 198, 199, 200, 201, 202, 210, 211, 212, 213, 214, 215, 216, 217, 218, 225, 226, 227, 228, 229, 230, 231, 232, 233, 234, 241, 242, 243, 244, 245, 246, 247, 248, 249, 250, 17, 0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 119, 0, 1, 2, 3, 17, 4, 5, 33, 49, 6, 18, 65, 81, 7, 97, 113, 19, 34, 50, 129, 8, 20, 66, 145, 161, 177, 193, 9, 35, 51, 82, 240, 21, 98, 114, 209, 10, 22, 36, 52, 225, 37, 241, 23, 24, 25, 26, 38, 39, 40, 41, 42, 53, 54, 55, 56, 57, 58, 67, 68, 69, 70, 71, 72, 73, 74, 83, 84, 85, 86, 87, 88, 89, 90, 99, 100, 101, 102, 103, 104, 105, 106, 115, 116, 117, 118, 119, 120, 121, 122, 130, 131, 132, 133, 134, 135, 136, 137, 138, 146, 147, 148, 149, 150, 151, 152, 153, 154, 162, 163, 164, 165, 166, 167, 168, 169, 170, 178, 179, 180, 181, 182, 183, 184, 185, 186, 194, 195, 196, 197, 198, 199, 200, 201, 202, 210, 211, 212, 213, 214, 215, 216, 217, 218, 226, 227, 228, 229, 230, 231, 232, 233, 234, 242, 243, 244, 245, 246, 247, 248, 249, 250}
)

// motion jpeg frames are missing attributes for use as a
// regular jpeg. We add them back here.
func addMotionDht(frame []byte) []byte {
	if bytes.Contains(frame, dhtMarker) {
		return frame
	}
	i := bytes.Index(frame, sosMarker)
	if i < 0 {
		return frame
	}

	out := make([]byte, 0, len(frame)+len(dhtMarker)+len(motionDht))
	out = append(out, frame[:i]...)
	out = append(out, dhtMarker...)
	out = append(out, motionDht...)
	return append(out, frame[i:]...)
}

// yuyvToImage unpacks a packed 4:2:2 YUYV frame.
func yuyvToImage(frame []byte, w, h uint32) (*image.YCbCr, error) {
	img := image.NewYCbCr(image.Rect(0, 0, int(w), int(h)), image.YCbCrSubsampleRatio422)
	if len(frame) < len(img.Cb)*4 {
		return nil, fmt.Errorf("short YUYV frame, %d bytes for %dx%d", len(frame), w, h)
	}
	for i := range img.Cb {
		ii := i * 4
		img.Y[i*2] = frame[ii]
		img.Y[i*2+1] = frame[ii+2]
		img.Cb[i] = frame[ii+1]
		img.Cr[i] = frame[ii+3]
	}
	return img, nil
}


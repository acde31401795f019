package agent

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// imageState holds the mutable image a segment analysis works on.
// rotate_image replaces the decoded image and subsequent analyze_image
// calls see the re-encoded bytes.
type imageState struct {
	img     image.Image
	encoded []byte
}

func newImageState(data []byte) (*imageState, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, flowerr.InvalidInput("decode segment image", err)
	}
	s := &imageState{img: img}
	if err := s.encode(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rotate turns the image counter-clockwise by the given degrees.
// 90, 180 and 270 take the orthogonal fast paths; any other angle uses
// free rotation with the canvas expanded to fit.
func (s *imageState) Rotate(degrees float64) error {
	switch degrees {
	case 0, 360:
	case 90:
		s.img = imaging.Rotate90(s.img)
	case 180:
		s.img = imaging.Rotate180(s.img)
	case 270:
		s.img = imaging.Rotate270(s.img)
	default:
		s.img = imaging.Rotate(s.img, degrees, color.White)
	}
	return s.encode()
}

func (s *imageState) encode() error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, s.img, imaging.PNG); err != nil {
		return flowerr.ModelAgent("encode rotated image", err)
	}
	s.encoded = buf.Bytes()
	return nil
}

// DataURL renders the current image bytes as an inline data URL for
// vision model requests.
func (s *imageState) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(s.encoded)
}

// Bounds returns the current image dimensions.
func (s *imageState) Bounds() image.Rectangle {
	return s.img.Bounds()
}

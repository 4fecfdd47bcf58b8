// Package imaging normalises uploaded pictures with libvips.
package imaging

import (
	"errors"
	"fmt"

	"github.com/h2non/bimg"
)

var ErrUnsupported = errors.New("unsupported image type")

// JPEGEncoder re-encodes any image libvips can read as JPEG. JPEG input is
// returned unchanged.
type JPEGEncoder struct {
	Quality int
}

func (e JPEGEncoder) Encode(data []byte) ([]byte, string, error) {
	kind := bimg.DetermineImageType(data)
	if kind == bimg.UNKNOWN || !bimg.IsTypeSupported(kind) {
		return nil, "", ErrUnsupported
	}
	if kind == bimg.JPEG {
		return data, "image/jpeg", nil
	}

	quality := e.Quality
	if quality <= 0 {
		quality = 85
	}
	out, err := bimg.NewImage(data).Process(bimg.Options{
		Type:          bimg.JPEG,
		Quality:       quality,
		StripMetadata: true,
		Background:    bimg.Color{R: 255, G: 255, B: 255},
	})
	if err != nil {
		return nil, "", fmt.Errorf("convert %s to jpeg: %w", bimg.ImageTypeName(kind), err)
	}
	return out, "image/jpeg", nil
}

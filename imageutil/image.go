package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

var ErrEmptyImage = errors.New("image data is empty")

// Info describes a decoded image.
type Info struct {
	Format string // "png" or "jpeg"
	Width  int
	Height int
}

// Decode fully decodes data so that a truncated or corrupt artifact is
// caught here rather than by whoever receives the bytes.
func Decode(data []byte) (image.Image, Info, error) {
	if len(data) == 0 {
		return nil, Info{}, ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, fmt.Errorf("decoding image: %w", err)
	}
	b := img.Bounds()
	return img, Info{Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}

// Inspect reads only the image header.
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyImage
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("reading image header: %w", err)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Extension returns the file extension, with the dot, for a decoded format.
func Extension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "":
		return ""
	}
	return "." + format
}

// Package radiometry turns a completed VoSPI frame into a displayable image.
//
// With the sensor's automatic gain control enabled only 8 bits of each
// sample carry information. The decoder takes that byte as the display
// intensity and either writes it out directly (grayscale) or looks it up in
// a fixed 256-entry palette (RGB565 pseudocolour).
package radiometry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/banshee-data/thermal.capture/internal/vospi"
)

var (
	// ErrUnsupportedFormat is returned for any pixel format other than
	// grayscale and RGB565.
	ErrUnsupportedFormat = errors.New("radiometry: unsupported pixel format")
	// ErrShortFrame is returned when the frame holds fewer samples than its
	// geometry needs.
	ErrShortFrame = errors.New("radiometry: frame smaller than geometry")
)

// PixFormat is the output pixel format.
type PixFormat int

const (
	FormatInvalid   PixFormat = iota
	FormatGrayscale           // 1 byte per pixel
	FormatRGB565              // 2 bytes per pixel, palette lookup
)

// ParsePixFormat accepts "grayscale" and "rgb565" (and the alias
// "pseudocolor").
func ParsePixFormat(s string) (PixFormat, error) {
	switch s {
	case "grayscale", "gray", "greyscale", "grey":
		return FormatGrayscale, nil
	case "rgb565", "pseudocolor", "pseudocolour":
		return FormatRGB565, nil
	default:
		return FormatInvalid, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f PixFormat) String() string {
	switch f {
	case FormatGrayscale:
		return "grayscale"
	case FormatRGB565:
		return "rgb565"
	default:
		return fmt.Sprintf("PixFormat(%d)", int(f))
	}
}

// BytesPerPixel is 1 for grayscale, 2 for RGB565, 0 otherwise.
func (f PixFormat) BytesPerPixel() int {
	switch f {
	case FormatGrayscale:
		return 1
	case FormatRGB565:
		return 2
	default:
		return 0
	}
}

// Options control Decode.
type Options struct {
	Format  PixFormat
	HMirror bool
	VFlip   bool
	Palette *[256]uint16 // nil selects Rainbow
}

// Image is a decoded frame. RGB565 pixels are stored little-endian.
type Image struct {
	Width  int
	Height int
	Format PixFormat
	Pix    []byte
}

// Stride is the number of bytes per row.
func (img *Image) Stride() int {
	return img.Width * img.Format.BytesPerPixel()
}

// Intensity returns the display byte of the sample at index i, the high
// byte of the word as laid out in the frame buffer.
func Intensity(frame vospi.Frame, i int) uint8 {
	return uint8(frame.Sample(i) >> 8)
}

// Decode converts a completed frame. It never modifies frame, so decoding
// the same frame twice yields identical images.
func Decode(frame vospi.Frame, opts Options) (*Image, error) {
	bpp := opts.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.Format)
	}
	w, h := frame.Geometry.Width, frame.Geometry.Height
	if w <= 0 || h <= 0 || frame.Len() < w*h {
		return nil, fmt.Errorf("%w: %d samples for %s", ErrShortFrame, frame.Len(), frame.Geometry)
	}
	palette := opts.Palette
	if palette == nil {
		palette = &Rainbow
	}

	img := &Image{Width: w, Height: h, Format: opts.Format, Pix: make([]byte, w*h*bpp)}
	for y := 0; y < h; y++ {
		dy := y
		if opts.VFlip {
			dy = h - 1 - y
		}
		for x := 0; x < w; x++ {
			dx := x
			if opts.HMirror {
				dx = w - 1 - x
			}
			val := Intensity(frame, y*w+x)
			off := (dy*w + dx) * bpp
			switch opts.Format {
			case FormatGrayscale:
				img.Pix[off] = val
			case FormatRGB565:
				binary.LittleEndian.PutUint16(img.Pix[off:], palette[val])
			}
		}
	}
	return img, nil
}

// ToImage converts to a standard library image for encoding.
func (img *Image) ToImage() image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)
	switch img.Format {
	case FormatGrayscale:
		return &image.Gray{Pix: img.Pix, Stride: img.Width, Rect: rect}
	default:
		out := image.NewRGBA(rect)
		for y := 0; y < img.Height; y++ {
			for x := 0; x < img.Width; x++ {
				c := binary.LittleEndian.Uint16(img.Pix[(y*img.Width+x)*2:])
				r, g, b := ExpandRGB565(c)
				out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xFF})
			}
		}
		return out
	}
}

// Package convert implements the conversion service: image to image, images to PDF
// and PDF pages to a zip of images. Every call works on fully buffered input and
// keeps no state between calls.
package convert

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultRasterDPI is the resolution PDF pages are rendered at.
const DefaultRasterDPI = 300

// Options tunes the encoders and sets request limits. Zero limits mean unlimited.
type Options struct {
	JPEGQuality int
	RasterDPI   float64
	MaxFiles    int
	MaxPDFPages int
}

// Service runs conversions. It is safe for concurrent use.
type Service struct {
	opts Options
}

// New returns a Service, filling unset options with defaults.
func New(opts Options) *Service {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 90
	}
	if opts.RasterDPI <= 0 {
		opts.RasterDPI = DefaultRasterDPI
	}
	return &Service{opts: opts}
}

// Options returns the effective options.
func (s *Service) Options() Options { return s.opts }

func decode(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}

// flattenOnWhite composites src over an opaque white canvas of the same bounds.
func flattenOnWhite(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

// prepare adapts img to what format f can store.
func prepare(img image.Image, f Format) image.Image {
	if f.Opaque && !isOpaque(img) {
		return flattenOnWhite(img)
	}
	return img
}

// BaseName returns filename without directories and without its last extension.
// A name with no extension is used whole; an empty result becomes "document".
func BaseName(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "." || name == "/" {
		return "document"
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" {
		return "document"
	}
	return name
}

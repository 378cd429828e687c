package convert

import (
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

const octetStream = "application/octet-stream"

// Format describes one output encoding.
type Format struct {
	Name      string
	Ext       string
	MediaType string
	// Opaque formats cannot carry alpha; sources are flattened onto white first.
	Opaque bool
	encode func(w io.Writer, img image.Image, opts Options) error
}

var (
	jpegFormat = Format{Name: "jpeg", Ext: "jpeg", MediaType: "image/jpeg", Opaque: true, encode: encodeJPEG}
	jpgFormat  = Format{Name: "jpeg", Ext: "jpg", MediaType: "image/jpeg", Opaque: true, encode: encodeJPEG}
	pngFormat  = Format{Name: "png", Ext: "png", MediaType: "image/png", encode: encodePNG}
	bmpFormat  = Format{Name: "bmp", Ext: "bmp", MediaType: "image/bmp", Opaque: true, encode: encodeBMP}
	gifFormat  = Format{Name: "gif", Ext: "gif", MediaType: "image/gif", encode: encodeGIF}
)

// imageFormats are the targets of image-to-image conversion, in the order they are reported.
var imageFormats = []Format{jpegFormat, jpgFormat, pngFormat, bmpFormat, gifFormat}

// pageFormats are the targets of PDF page rasterization.
var pageFormats = []Format{pngFormat, jpegFormat, jpgFormat}

func lookup(table []Format, name string) (Format, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range table {
		if f.Ext == name {
			return f, true
		}
	}
	return Format{}, false
}

func names(table []Format) []string {
	out := make([]string, len(table))
	for i, f := range table {
		out[i] = f.Ext
	}
	return out
}

// ImageFormats lists the accepted toFormat values of image conversion.
func ImageFormats() []string { return names(imageFormats) }

// PageFormats lists the accepted format values of PDF rasterization.
func PageFormats() []string { return names(pageFormats) }

// MediaType maps a format identifier to its media type.
func MediaType(format string) string {
	if f, ok := lookup(imageFormats, format); ok {
		return f.MediaType
	}
	return octetStream
}

func formatList(table []Format) string {
	return "[" + strings.Join(names(table), ", ") + "]"
}

func encodeJPEG(w io.Writer, img image.Image, opts Options) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: opts.JPEGQuality})
}

func encodePNG(w io.Writer, img image.Image, _ Options) error {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	return enc.Encode(w, img)
}

func encodeBMP(w io.Writer, img image.Image, _ Options) error {
	return bmp.Encode(w, img)
}

func encodeGIF(w io.Writer, img image.Image, _ Options) error {
	if p, ok := img.(*image.Paletted); ok && len(p.Palette) <= 256 {
		return gif.Encode(w, p, nil)
	}

	var pal color.Palette
	if isOpaque(img) {
		pal = palette.Plan9
	} else {
		// keep the last slot for fully transparent pixels
		pal = make(color.Palette, 0, 256)
		pal = append(pal, palette.Plan9[:255]...)
		pal = append(pal, color.Transparent)
	}

	b := img.Bounds()
	dst := image.NewPaletted(b, pal)
	draw.FloydSteinberg.Draw(dst, b, img, b.Min)
	return gif.Encode(w, dst, &gif.Options{NumColors: len(pal)})
}

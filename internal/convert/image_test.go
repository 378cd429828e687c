package convert

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "golang.org/x/image/bmp"

	"snapshift/internal/domain"
)

func TestImage_EveryFormatDecodesWithSameDimensions(t *testing.T) {
	svc := New(Options{})
	src := halfTransparentPNG(t, 37, 21)

	want := map[string]string{"jpeg": "jpeg", "jpg": "jpeg", "png": "png", "bmp": "bmp", "gif": "gif"}
	for _, format := range ImageFormats() {
		t.Run(format, func(t *testing.T) {
			res, err := svc.Image(domain.Upload{Filename: "logo.png", ContentType: "image/png", Data: src}, format)
			require.NoError(t, err)

			cfg, decoded, err := image.DecodeConfig(bytes.NewReader(res.Data))
			require.NoError(t, err)
			assert.Equal(t, want[format], decoded)
			assert.Equal(t, 37, cfg.Width)
			assert.Equal(t, 21, cfg.Height)
			assert.Equal(t, MediaType(format), res.ContentType)
			assert.Equal(t, "logo."+format, res.Filename)
		})
	}
}

func TestImage_TransparencyBecomesWhiteForOpaqueFormats(t *testing.T) {
	svc := New(Options{JPEGQuality: 100})
	src := halfTransparentPNG(t, 16, 16)

	for _, format := range []string{"jpeg", "jpg", "bmp"} {
		t.Run(format, func(t *testing.T) {
			res, err := svc.Image(domain.Upload{Data: src}, format)
			require.NoError(t, err)

			img, _, err := image.Decode(bytes.NewReader(res.Data))
			require.NoError(t, err)
			assert.True(t, isOpaque(img), "output must have no transparency")

			r, g, b, a := img.At(14, 8).RGBA()
			assert.Equal(t, uint32(0xffff), a)
			assert.Greater(t, r, uint32(0xf000))
			assert.Greater(t, g, uint32(0xf000))
			assert.Greater(t, b, uint32(0xf000))

			r, g, _, _ = img.At(1, 8).RGBA()
			assert.Greater(t, r, uint32(0xc000))
			assert.Less(t, g, uint32(0x4000))
		})
	}
}

func TestImage_BMPHasNoAlphaChannel(t *testing.T) {
	svc := New(Options{})
	res, err := svc.Image(domain.Upload{Data: halfTransparentPNG(t, 8, 8)}, "bmp")
	require.NoError(t, err)

	// BITMAPINFOHEADER bit count lives at offset 28.
	require.Greater(t, len(res.Data), 30)
	assert.Equal(t, uint16(24), binary.LittleEndian.Uint16(res.Data[28:30]))
}

func TestImage_PNGAndGIFKeepTransparency(t *testing.T) {
	svc := New(Options{})
	src := halfTransparentPNG(t, 10, 10)

	for _, format := range []string{"png", "gif"} {
		t.Run(format, func(t *testing.T) {
			res, err := svc.Image(domain.Upload{Data: src}, format)
			require.NoError(t, err)

			img, _, err := image.Decode(bytes.NewReader(res.Data))
			require.NoError(t, err)
			_, _, _, a := img.At(9, 5).RGBA()
			assert.Equal(t, uint32(0), a, "transparent pixel must stay transparent")
			_, _, _, a = img.At(0, 5).RGBA()
			assert.Equal(t, uint32(0xffff), a)
		})
	}
}

func TestImage_PalettedGIFSourceKeepsPalette(t *testing.T) {
	pal := color.Palette{color.Black, color.White, color.RGBA{R: 255, A: 255}}
	src := image.NewPaletted(image.Rect(0, 0, 5, 4), pal)
	src.SetColorIndex(2, 2, 2)
	var in bytes.Buffer
	require.NoError(t, gif.Encode(&in, src, nil))

	res, err := New(Options{}).Image(domain.Upload{Data: in.Bytes()}, "gif")
	require.NoError(t, err)

	out, err := gif.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	p, ok := out.(*image.Paletted)
	require.True(t, ok)
	assert.LessOrEqual(t, len(p.Palette), 4, "source palette must be reused, not replaced")
	r, g, _, _ := p.At(2, 2).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
}

func TestImage_PNGToJPEGRoundTrip(t *testing.T) {
	src := solidPNG(t, 64, 48, color.RGBA{G: 200, A: 255})
	res, err := New(Options{}).Image(domain.Upload{Data: src}, "JPEG")
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
	assert.Equal(t, "image/jpeg", res.ContentType)
}

func TestImage_UnsupportedFormatListsSupported(t *testing.T) {
	_, err := New(Options{}).Image(domain.Upload{Data: solidPNG(t, 2, 2, color.Black)}, "tiff")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))

	var ce *domain.ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "Unsupported output format 'tiff'. Supported formats are: [jpeg, jpg, png, bmp, gif]", ce.Message)
}

func TestImage_FormatCheckedBeforeEmptyInput(t *testing.T) {
	_, err := New(Options{}).Image(domain.Upload{}, "tiff")
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
}

func TestImage_EmptyInput(t *testing.T) {
	_, err := New(Options{}).Image(domain.Upload{Filename: "a.png"}, "png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmptyUpload))
	assert.Equal(t, "Please upload a file.", err.Error())
}

func TestImage_NotAnImage(t *testing.T) {
	_, err := New(Options{}).Image(domain.Upload{Data: []byte("definitely not pixels")}, "png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidImage))
	assert.Equal(t, "The uploaded file is not a valid or supported image.", err.Error())
}

func TestMediaType(t *testing.T) {
	tests := map[string]string{
		"jpeg": "image/jpeg",
		"JPG":  "image/jpeg",
		"png":  "image/png",
		"gif":  "image/gif",
		"bmp":  "image/bmp",
		"tiff": "application/octet-stream",
		"":     "application/octet-stream",
	}
	for in, want := range tests {
		assert.Equal(t, want, MediaType(in), in)
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report"},
		{"archive.tar.gz", "archive.tar"},
		{"scan", "scan"},
		{"", "document"},
		{".pdf", "document"},
		{"dir/sub/report.pdf", "report"},
		{`C:\Users\me\report.pdf`, "report"},
		{"trailingdot.", "trailingdot"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, BaseName(tc.in), tc.in)
	}
}

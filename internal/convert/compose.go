package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/phpdave11/gofpdf"
	"golang.org/x/image/draw"

	"snapshift/internal/domain"
	"snapshift/internal/infra/logging"
)

// PDFFilename is the download name of composed documents.
const PDFFilename = "converted_document.pdf"

// Layout is the page geometry of a composed PDF, in points.
type Layout struct {
	PageWidth  float64
	PageHeight float64
	Margin     float64
}

// A4Layout is an A4 portrait page with 20pt margins.
var A4Layout = Layout{PageWidth: 595.28, PageHeight: 841.89, Margin: 20}

// pageImage is an accepted upload, ready to be placed on a page.
type pageImage struct {
	name      string
	imageType string
	data      []byte
	width     float64
	height    float64
}

// ComposePDF places every image upload on its own page, in input order.
//
// Uploads that are empty or not declared as image/* are skipped; the remaining
// ones keep their relative order. Each image is scaled to fit inside the margins
// with its aspect ratio kept.
func (s *Service) ComposePDF(files []domain.Upload, layout Layout) (domain.Result, error) {
	if len(files) == 0 {
		return domain.Result{}, domain.Client(domain.ErrNoFiles, "Please upload at least one image file.")
	}
	if s.opts.MaxFiles > 0 && len(files) > s.opts.MaxFiles {
		return domain.Result{}, domain.Client(domain.ErrTooManyFiles,
			fmt.Sprintf("Too many files: at most %d can be combined into one PDF.", s.opts.MaxFiles))
	}
	if layout.PageWidth <= 2*layout.Margin || layout.PageHeight <= 2*layout.Margin {
		return domain.Result{}, domain.Server(domain.ErrRender, "Error during PDF conversion.",
			fmt.Errorf("margin %.2f does not fit page %.2fx%.2f", layout.Margin, layout.PageWidth, layout.PageHeight))
	}

	pages := make([]pageImage, 0, len(files))
	for i, f := range files {
		if f.Empty() || !strings.HasPrefix(f.ContentType, "image/") {
			logging.Debug("Skipping upload", "index", i, "filename", f.Filename, "content_type", f.ContentType)
			continue
		}
		p, err := preparePage(i, f)
		if err != nil {
			return domain.Result{}, err
		}
		pages = append(pages, p)
	}
	if len(pages) == 0 {
		return domain.Result{}, domain.Client(domain.ErrNoValidImages, "No valid images supplied.")
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: layout.PageWidth, Ht: layout.PageHeight},
	})
	pdf.SetMargins(layout.Margin, layout.Margin, layout.Margin)
	pdf.SetAutoPageBreak(false, layout.Margin)
	pdf.SetCreator("snapshift", true)

	for _, p := range pages {
		// A new page precedes every image, so the first image lands on page one.
		pdf.AddPage()
		opts := gofpdf.ImageOptions{ImageType: p.imageType, ReadDpi: false}
		pdf.RegisterImageOptionsReader(p.name, opts, bytes.NewReader(p.data))
		w, h := fitInto(p.width, p.height, layout)
		pdf.ImageOptions(p.name, layout.Margin, layout.Margin, w, h, false, opts, 0, "")
		if pdf.Err() {
			break
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return domain.Result{}, domain.Server(domain.ErrRender, "Error during PDF conversion.", err)
	}

	return domain.Result{Data: buf.Bytes(), ContentType: "application/pdf", Filename: PDFFilename}, nil
}

// preparePage decodes upload i and picks the bytes handed to the PDF writer.
// JPEG data is embedded as is; anything else is normalised to 8-bit PNG.
func preparePage(i int, f domain.Upload) (pageImage, error) {
	img, format, err := decode(f.Data)
	if err != nil {
		name := f.Filename
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		return pageImage{}, domain.Client(domain.ErrInvalidImage,
			fmt.Sprintf("The file '%s' is not a valid or supported image.", name))
	}

	b := img.Bounds()
	p := pageImage{
		name:   fmt.Sprintf("img-%d", i),
		width:  float64(b.Dx()),
		height: float64(b.Dy()),
	}

	if format == "jpeg" {
		p.imageType = "JPG"
		p.data = f.Data
		return p, nil
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, nrgba); err != nil {
		return pageImage{}, domain.Server(domain.ErrEncode, "Error during PDF conversion.", err)
	}
	p.imageType = "PNG"
	p.data = buf.Bytes()
	return p, nil
}

// fitInto scales w x h to the largest size inside the layout margins with the same aspect ratio.
func fitInto(w, h float64, layout Layout) (float64, float64) {
	availW := layout.PageWidth - 2*layout.Margin
	availH := layout.PageHeight - 2*layout.Margin
	scale := math.Min(availW/w, availH/h)
	return w * scale, h * scale
}

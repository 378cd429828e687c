package convert

import (
	"bytes"
	"fmt"

	"github.com/gen2brain/go-fitz"
	"github.com/klauspost/compress/zip"

	"snapshift/internal/domain"
)

const rasterFailed = "Error during PDF to Image conversion."

// RasterizePDF renders every page of a PDF upload and returns the pages as a zip.
//
// Entries are named <base>_page_<n>.<format>, n starting at 1, and are written in
// page order. Any render or encode failure fails the whole call; no partial
// archive is returned.
func (s *Service) RasterizePDF(in domain.Upload, targetFormat string) (domain.Result, error) {
	f, ok := lookup(pageFormats, targetFormat)
	if !ok {
		return domain.Result{}, domain.Client(domain.ErrUnsupportedFormat,
			fmt.Sprintf("Unsupported output format '%s'. Supported formats are: %s", targetFormat, formatList(pageFormats)))
	}
	if in.Empty() || in.ContentType != "application/pdf" {
		return domain.Result{}, domain.Client(domain.ErrNotPDF, "Please upload a valid PDF file.")
	}

	doc, err := fitz.NewFromMemory(in.Data)
	if err != nil {
		return domain.Result{}, domain.Server(domain.ErrRender, rasterFailed, fmt.Errorf("open pdf: %w", err))
	}
	defer doc.Close()

	pages := doc.NumPage()
	if s.opts.MaxPDFPages > 0 && pages > s.opts.MaxPDFPages {
		return domain.Result{}, domain.Client(domain.ErrTooManyPages,
			fmt.Sprintf("The PDF has %d pages; at most %d can be converted.", pages, s.opts.MaxPDFPages))
	}

	base := BaseName(in.Filename)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i := 0; i < pages; i++ {
		img, err := doc.ImageDPI(i, s.opts.RasterDPI)
		if err != nil {
			return domain.Result{}, domain.Server(domain.ErrRender, rasterFailed, fmt.Errorf("render page %d: %w", i+1, err))
		}

		w, err := zw.Create(fmt.Sprintf("%s_page_%d.%s", base, i+1, f.Ext))
		if err != nil {
			return domain.Result{}, domain.Server(domain.ErrEncode, rasterFailed, fmt.Errorf("zip entry %d: %w", i+1, err))
		}
		if err := f.encode(w, prepare(img, f), s.opts); err != nil {
			return domain.Result{}, domain.Server(domain.ErrEncode, rasterFailed, fmt.Errorf("encode page %d: %w", i+1, err))
		}
	}

	if err := zw.Close(); err != nil {
		return domain.Result{}, domain.Server(domain.ErrEncode, rasterFailed, fmt.Errorf("finish zip: %w", err))
	}

	return domain.Result{Data: buf.Bytes(), ContentType: "application/zip", Filename: base + ".zip"}, nil
}

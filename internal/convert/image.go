package convert

import (
	"bytes"
	"fmt"

	"snapshift/internal/domain"
)

// Image re-encodes in.Data as targetFormat.
//
// Checks run in a fixed order: the target format, then empty input, then decoding.
// Formats without alpha get the image flattened onto white first.
func (s *Service) Image(in domain.Upload, targetFormat string) (domain.Result, error) {
	f, ok := lookup(imageFormats, targetFormat)
	if !ok {
		return domain.Result{}, domain.Client(domain.ErrUnsupportedFormat,
			fmt.Sprintf("Unsupported output format '%s'. Supported formats are: %s", targetFormat, formatList(imageFormats)))
	}
	if in.Empty() {
		return domain.Result{}, domain.Client(domain.ErrEmptyUpload, "Please upload a file.")
	}

	img, _, err := decode(in.Data)
	if err != nil {
		return domain.Result{}, domain.Client(domain.ErrInvalidImage, "The uploaded file is not a valid or supported image.")
	}

	var buf bytes.Buffer
	if err := f.encode(&buf, prepare(img, f), s.opts); err != nil {
		return domain.Result{}, domain.Server(domain.ErrEncode,
			fmt.Sprintf("Could not write to format '%s'.", f.Ext), err)
	}

	res := domain.Result{Data: buf.Bytes(), ContentType: f.MediaType}
	if in.Filename != "" {
		res.Filename = BaseName(in.Filename) + "." + f.Ext
	}
	return res, nil
}

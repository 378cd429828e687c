package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"snapshift/internal/config"
	"snapshift/internal/convert"
	"snapshift/internal/domain"
	"snapshift/internal/infra/cache"
	"snapshift/internal/infra/logging"
)

const noCache = "no-cache, no-store, must-revalidate, post-check=0, pre-check=0"

// ConvertHandler serves the conversion endpoints.
type ConvertHandler struct {
	cfg   config.Config
	svc   *convert.Service
	cache *cache.Cache
}

// NewConvertHandler builds the handler. rdb may be nil; the result cache is then off.
func NewConvertHandler(cfg config.Config, rdb *redis.Client) *ConvertHandler {
	h := &ConvertHandler{
		cfg: cfg,
		svc: convert.New(convert.Options{
			JPEGQuality: cfg.Convert.JPEGQuality,
			RasterDPI:   cfg.Convert.RasterDPI,
			MaxFiles:    cfg.Limits.MaxFiles,
			MaxPDFPages: cfg.Limits.MaxPDFPages,
		}),
	}
	if cfg.Cache.ResultCacheEnabled {
		h.cache = cache.New(rdb, cfg.Cache.ResultCacheTTL, cfg.Cache.MaxEntryBytes)
	}
	return h
}

// HandleImage converts the "file" upload to the "toFormat" format.
func (h *ConvertHandler) HandleImage(c *fiber.Ctx) error {
	format := c.FormValue("toFormat")
	in, err := readUpload(c, "file")
	if err != nil {
		return uploadFailed(c, err)
	}

	key := cache.Key("image", []byte(strings.ToLower(format)), []byte(in.Filename), in.Data)
	res, err := h.cached(c, key, func() (domain.Result, error) {
		return h.svc.Image(in, format)
	})
	if err != nil {
		return conversionFailed(c, "image", err)
	}

	logging.Info("Image converted", "format", format, "bytes", len(res.Data), "request_id", requestID(c))
	c.Set(fiber.HeaderContentType, res.ContentType)
	if res.Filename != "" {
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("inline", map[string]string{"filename": res.Filename}))
	}
	return c.Send(res.Data)
}

// HandleImageToPDF puts every image of the "files" field on its own PDF page.
func (h *ConvertHandler) HandleImageToPDF(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Please upload at least one image file.")
	}

	paper := firstValue(form, "paper")
	orientation := strings.ToLower(firstValue(form, "orientation"))
	if orientation != "" && orientation != "portrait" && orientation != "landscape" {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid orientation: must be 'portrait' or 'landscape'")
	}
	size, ok := h.cfg.Paper(paper, orientation)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("Invalid paper '%s'. Supported sizes are: [%s]", paper, strings.Join(h.paperNames(), ", ")))
	}

	headers := form.File["files"]
	files := make([]domain.Upload, 0, len(headers))
	parts := [][]byte{[]byte(strings.ToUpper(paper)), []byte(orientation)}
	for _, fh := range headers {
		up, err := readFileHeader(fh)
		if err != nil {
			return uploadFailed(c, err)
		}
		files = append(files, up)
		parts = append(parts, []byte(up.ContentType), up.Data)
	}

	layout := convert.Layout{PageWidth: size.Width, PageHeight: size.Height, Margin: h.cfg.PDF.Margin}
	res, err := h.cached(c, cache.Key("image-to-pdf", parts...), func() (domain.Result, error) {
		return h.svc.ComposePDF(files, layout)
	})
	if err != nil {
		return conversionFailed(c, "image-to-pdf", err)
	}

	logging.Info("PDF composed", "files", len(files), "bytes", len(res.Data), "request_id", requestID(c))
	c.Attachment(res.Filename)
	c.Set(fiber.HeaderContentType, res.ContentType)
	c.Set(fiber.HeaderCacheControl, noCache)
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
	return c.Send(res.Data)
}

// HandlePDFToImage renders each page of the "file" PDF into a zip of "format" images.
func (h *ConvertHandler) HandlePDFToImage(c *fiber.Ctx) error {
	format := c.FormValue("format")
	in, err := readUpload(c, "file")
	if err != nil {
		return uploadFailed(c, err)
	}

	key := cache.Key("pdf-to-image", []byte(strings.ToLower(format)), []byte(in.Filename), []byte(in.ContentType), in.Data)
	res, err := h.cached(c, key, func() (domain.Result, error) {
		return h.svc.RasterizePDF(in, format)
	})
	if err != nil {
		return conversionFailed(c, "pdf-to-image", err)
	}

	logging.Info("PDF rasterized", "format", format, "bytes", len(res.Data), "request_id", requestID(c))
	c.Attachment(res.Filename)
	c.Set(fiber.HeaderContentType, res.ContentType)
	return c.Send(res.Data)
}

// HandleFormats lists what the conversion endpoints accept.
func (h *ConvertHandler) HandleFormats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"image":         convert.ImageFormats(),
		"pdf_to_image":  convert.PageFormats(),
		"paper_sizes":   h.paperNames(),
		"default_paper": h.cfg.PDF.DefaultPaper,
		"raster_dpi":    h.svc.Options().RasterDPI,
	})
}

func (h *ConvertHandler) paperNames() []string {
	out := make([]string, 0, len(h.cfg.PDF.PaperSizes))
	for name := range h.cfg.PDF.PaperSizes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// cached serves key from the result cache or runs fn and stores its result.
func (h *ConvertHandler) cached(c *fiber.Ctx, key string, fn func() (domain.Result, error)) (domain.Result, error) {
	if h.cache == nil {
		return fn()
	}
	if res, ok := h.cache.Get(c.UserContext(), key); ok {
		c.Set("X-Cache", "HIT")
		return res, nil
	}
	res, err := fn()
	if err != nil {
		return res, err
	}
	h.cache.Set(c.UserContext(), key, res)
	c.Set("X-Cache", "MISS")
	return res, nil
}

// readUpload buffers the file in field. A missing field yields an empty upload,
// which the conversion reports in its own validation order.
func readUpload(c *fiber.Ctx, field string) (domain.Upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return domain.Upload{}, nil
	}
	return readFileHeader(fh)
}

func readFileHeader(fh *multipart.FileHeader) (domain.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.Upload{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}
	return domain.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Data:        data,
	}, nil
}

func firstValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func requestID(c *fiber.Ctx) string {
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

func uploadFailed(c *fiber.Ctx, err error) error {
	logging.Error("Reading upload failed", "path", c.Path(), "error", err, "request_id", requestID(c))
	return fiber.NewError(fiber.StatusInternalServerError, "Error reading the uploaded file.")
}

// conversionFailed maps domain errors to HTTP errors. Client errors keep their
// message; server errors are logged and answered with a generic text.
func conversionFailed(c *fiber.Ctx, op string, err error) error {
	var ce *domain.ClientError
	if errors.As(err, &ce) {
		return fiber.NewError(fiber.StatusBadRequest, ce.Message)
	}

	msg := "Error during conversion."
	var se *domain.ServerError
	if errors.As(err, &se) {
		msg = se.Message
	}
	logging.Error("Conversion failed", "op", op, "error", err, "request_id", requestID(c))
	return fiber.NewError(fiber.StatusInternalServerError, msg)
}

package domain

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEmptyUpload       = errors.New("empty upload")
	ErrInvalidImage      = errors.New("invalid image")
	ErrNoFiles           = errors.New("no files")
	ErrNoValidImages     = errors.New("no valid images")
	ErrNotPDF            = errors.New("not a pdf")
	ErrTooManyPages      = errors.New("too many pages")
	ErrTooManyFiles      = errors.New("too many files")

	ErrEncode = errors.New("encode failed")
	ErrRender = errors.New("render failed")
)

// ClientError is caused by the request and maps to 400.
// Message is safe to show to the caller.
type ClientError struct {
	Message string
	Err     error
}

func (e *ClientError) Error() string { return e.Message }
func (e *ClientError) Unwrap() error { return e.Err }

// ServerError maps to 500. Message is the generic text shown to the caller;
// Err carries the cause, which is only logged.
type ServerError struct {
	Message string
	Err     error
}

func (e *ServerError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error { return e.Err }

// Client builds a ClientError around a sentinel.
func Client(sentinel error, msg string) error {
	return &ClientError{Message: msg, Err: sentinel}
}

// Server builds a ServerError whose cause wraps both the sentinel and err.
func Server(sentinel error, msg string, err error) error {
	if err == nil {
		err = sentinel
	} else {
		err = errors.Join(sentinel, err)
	}
	return &ServerError{Message: msg, Err: err}
}

package preprocess

import (
	"errors"
	"fmt"
)

// ErrTooManyPixels reports an image whose declared size exceeds the pixel cap.
var ErrTooManyPixels = errors.New("image too large")

// InvalidInputError reports an upload whose declared type is not an image.
type InvalidInputError struct {
	ContentType string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid content type %q: expected image/*", e.ContentType)
}

// DecodeError reports bytes that could not be decoded as an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode image: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

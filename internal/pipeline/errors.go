package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can react without string matching.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindImageSize         Kind = "image_size"
	KindImageProcessing   Kind = "image_processing"
)

// Error is the base error for every pipeline failure. Cause carries the
// underlying decoder or encoder error when there is one.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	if e.Op == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports a match against the kind-only sentinels below, so
// errors.Is(err, ErrImageSize) works for any size failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Message != "" || t.Cause != nil {
		return t == e
	}
	return t.Kind == e.Kind
}

var (
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrImageSize         = &Error{Kind: KindImageSize}
	ErrImageProcessing   = &Error{Kind: KindImageProcessing}

	// ErrEncoderUnavailable is wrapped when the active backend cannot encode a
	// format the pipeline otherwise supports (webp/avif without libvips).
	ErrEncoderUnavailable = errors.New("encoder unavailable in this build")
	ErrInvalidOptions     = errors.New("invalid processing options")
)

func UnsupportedFormatError(op, format string) *Error {
	return &Error{
		Kind:    KindUnsupportedFormat,
		Op:      op,
		Message: fmt.Sprintf("unsupported image format %q", format),
	}
}

func ImageSizeError(op, message string, cause error) *Error {
	return &Error{Kind: KindImageSize, Op: op, Message: message, Cause: cause}
}

func ImageProcessingError(op, message string, cause error) *Error {
	return &Error{Kind: KindImageProcessing, Op: op, Message: message, Cause: cause}
}

// wrapProcessing keeps typed pipeline errors as they are and wraps anything
// else (library errors, ctx errors) as a processing failure.
func wrapProcessing(op, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return ImageProcessingError(op, message, err)
}

// KindOf returns the kind of the first pipeline error in err's chain, or "".
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

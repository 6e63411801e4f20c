package dcm2nii

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Each typed error below matches exactly one of them.
var (
	ErrNotFound      = errors.New("not found")
	ErrFileFormat    = errors.New("invalid file format")
	ErrTagNotPresent = errors.New("tag not present")
	ErrConversion    = errors.New("conversion failed")
)

// NotFoundError is returned when a file, object or directory does not exist,
// or when a directory holds nothing that could be read.
type NotFoundError struct {
	Path   string
	Detail string
	Err    error
}

func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: not found: %s", e.Path, e.Detail)
	}
	return fmt.Sprintf("%s: not found", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// FileFormatError is returned when a DICOM or NIfTI file has a malformed
// header, or when a value cannot be decoded as the type its tag demands.
type FileFormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FileFormatError) Error() string {
	msg := fmt.Sprintf("%s: invalid file format: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FileFormatError) Unwrap() error { return e.Err }

func (e *FileFormatError) Is(target error) bool { return target == ErrFileFormat }

// TagNotPresentError is returned when a requested (group, element) pair is
// absent from a parsed dataset.
type TagNotPresentError struct {
	Path    string
	Group   uint16
	Element uint16
}

func (e *TagNotPresentError) Error() string {
	return fmt.Sprintf("%s: tag (%04X,%04X) not present", e.Path, e.Group, e.Element)
}

func (e *TagNotPresentError) Is(target error) bool { return target == ErrTagNotPresent }

// ConversionError is returned when the slices of a series cannot be assembled
// into a volume: too few slices, or slices that disagree with one another.
type ConversionError struct {
	Series string
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: cannot convert series: %s", e.Series, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// Conversionf is shorthand for a ConversionError with a formatted reason.
func Conversionf(series, format string, args ...interface{}) error {
	return &ConversionError{Series: series, Reason: fmt.Sprintf(format, args...)}
}

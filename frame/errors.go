package frame

import "errors"

var (
	// ErrEmptyBuffer is returned when there is no data at all to parse.
	ErrEmptyBuffer = errors.New("frame: empty buffer")

	// ErrIncompleteFrame is returned when the input ends before a full
	// frame (command, headers, blank line, body, NUL) has been read.
	ErrIncompleteFrame = errors.New("frame: incomplete frame")

	// ErrBodyNotTerminated is returned when a content-length-delimited
	// body is not followed by the mandatory NUL terminator.
	ErrBodyNotTerminated = errors.New("frame: body not terminated with NUL")

	// ErrNoContentLength names the case of a binary body sent without a
	// content-length header. The parser never returns it: a body without
	// content-length is always read up to the first NUL.
	ErrNoContentLength = errors.New("frame: binary body requires content-length")

	// ErrInvalidContentLength is returned when content-length cannot be
	// parsed as a non-negative integer.
	ErrInvalidContentLength = errors.New("frame: invalid content-length header")

	// ErrEmptyCommand is returned when the command line is blank.
	ErrEmptyCommand = errors.New("frame: empty command")
)

package goqa

import "errors"

var (
	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("goqa: unsupported document format")

	// ErrParsingFailed is returned when document extraction fails.
	ErrParsingFailed = errors.New("goqa: parsing failed")

	// ErrNoContent is returned when a document yields no chunks.
	ErrNoContent = errors.New("goqa: document has no usable text")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("goqa: embedding generation failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goqa: invalid configuration")

	// ErrEmptyQuery is returned when a search query is blank.
	ErrEmptyQuery = errors.New("goqa: empty query")
)

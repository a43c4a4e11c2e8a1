package entity

import "errors"

// Error kinds surfaced when processing an inbound message. They are always wrapped with
// details, so matching should be done with errors.Is().
var (
	// ErrConfiguration is returned for an unknown CSV format name, a malformed alias spec,
	// an invalid delimiter or an unknown charset. Malformed aliases are detected when the
	// processor is created, while the format name is resolved for each inbound message.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput is returned when the inbound payload is not a well-formed URL with a
	// supported scheme. No resource access is attempted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrResourceUnavailable is returned for I/O failures opening or reading the resource,
	// such as an unreachable host, a non-2xx response or a missing file.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrParse is returned for structural CSV errors, e.g. bad quoting or duplicate
	// header names.
	ErrParse = errors.New("csv parse error")

	// ErrEmit is returned when the sink did not accept a projected row.
	ErrEmit = errors.New("could not emit row")
)

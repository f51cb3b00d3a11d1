package protocol

import "errors"

// Sentinel errors for frame decoding.
var (
	// ErrDecode indicates a frame that could not be parsed.
	ErrDecode = errors.New("protocol: malformed frame")

	// ErrBadVersion indicates a frame with an unsupported protocol version.
	ErrBadVersion = errors.New("protocol: unsupported version")
)

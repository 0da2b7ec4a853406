package wire

import "errors"

// Sentinel errors returned by the codec, mirroring the Parsed/NeedMore/
// Malformed result shape: success is a non-error return, ErrNeedMoreData
// means "call again once more bytes are buffered", and every other error
// means the connection is unsalvageable and must be closed.
var (
	// ErrNeedMoreData indicates the buffer does not yet hold a complete
	// frame; the caller should read more bytes and retry with the same
	// (plus newly arrived) prefix.
	ErrNeedMoreData = errors.New("wire: need more data")

	// ErrNoMatch indicates a specific first-packet variant's leading
	// byte(s) didn't match; the caller should try the next variant.
	ErrNoMatch = errors.New("wire: no match")

	// ErrMalformed indicates the buffer contains enough bytes to
	// conclusively reject the frame as invalid.
	ErrMalformed = errors.New("wire: malformed frame")

	// ErrFrameTooLarge indicates a declared frame length exceeds the
	// configured maximum before it was even fully parsed.
	ErrFrameTooLarge = errors.New("wire: frame too large")

	// ErrUnexpectedFrame indicates a structurally valid frame carried a
	// tag this codec does not recognise.
	ErrUnexpectedFrame = errors.New("wire: unexpected frame")
)

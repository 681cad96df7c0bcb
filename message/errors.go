package message

import "github.com/sippet/go-sippet/internal/errorutil"

// Error represents a SIP message error.
// See [errorutil.Error].
type Error = errorutil.Error

// Parse errors.
const (
	ErrMissingMethod        Error = "missing method"
	ErrMissingRequestURI    Error = "missing request-uri"
	ErrUnsupportedVersion   Error = "unsupported SIP version"
	ErrInvalidStatusCode    Error = "invalid response status code"
	ErrMalformedContactLike Error = "malformed contact-like header"
	ErrEmbeddedNull         Error = "embedded null in header"
	ErrMissingHeaderName    Error = "missing header name"
)

// Serialization errors.
const (
	ErrInvalidMessage Error = "invalid message"
)

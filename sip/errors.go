package sip

import "github.com/sippet/go-sippet/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument        = errorutil.ErrInvalidArgument
	ErrActionNotAllowed Error = "action not allowed"
)

// Transaction errors.
const (
	ErrTransactionNotFound   Error = "transaction not found"
	ErrTransactionNotMatched Error = "transaction not matched"
	ErrTransactionTimedOut   Error = "transaction timed out"
)

// Channel and network errors.
const (
	ErrNetworkClosed      Error = "network layer closed"
	ErrChannelClosed      Error = "channel closed"
	ErrChannelNotFound    Error = "channel not found"
	ErrNoDestination      Error = "no destination resolved"
	ErrMethodNotAllowed   Error = "request method not allowed"
	ErrUnhandledMessage   Error = "unhandled message"
	ErrUnknownProtocol    Error = "unknown protocol"
	ErrMessageTooLarge    Error = "message too large"
	ErrCertificateUnknown Error = "unknown certificate"
)

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

package message

import "github.com/sippet/go-sippet/internal/util"

// Request methods defined in RFC 3261 and common extensions.
const (
	MethodInvite    = "INVITE"
	MethodAck       = "ACK"
	MethodBye       = "BYE"
	MethodCancel    = "CANCEL"
	MethodRegister  = "REGISTER"
	MethodOptions   = "OPTIONS"
	MethodInfo      = "INFO"
	MethodPrack     = "PRACK"
	MethodUpdate    = "UPDATE"
	MethodSubscribe = "SUBSCRIBE"
	MethodNotify    = "NOTIFY"
	MethodRefer     = "REFER"
	MethodMessage   = "MESSAGE"
)

// compactForms maps RFC 3261 single-letter header aliases to their long form.
var compactForms = map[byte]string{
	'i': "Call-ID",
	'm': "Contact",
	'e': "Content-Encoding",
	'l': "Content-Length",
	'c': "Content-Type",
	'f': "From",
	's': "Subject",
	'k': "Supported",
	't': "To",
	'v': "Via",
}

// ExpandHeader returns the long form of a compact header name,
// or the empty string when the letter has no expansion.
func ExpandHeader(c byte) string {
	if 'A' <= c && c <= 'Z' {
		c += 'a' - 'A'
	}
	return compactForms[c]
}

// contactLikeHeaders share the name-addr / addr-spec grammar and get their
// values rewritten to the canonical `"display" <addr>;params` form on parse.
// Contact itself is handled apart so the wildcard "*" survives.
var contactLikeHeaders = map[string]bool{
	"from":         true,
	"to":           true,
	"route":        true,
	"record-route": true,
	"reply-to":     true,
}

// IsContactLikeHeader reports whether values of the named header follow the
// name-addr grammar and must be normalized. Contact is excluded here because
// its "*" wildcard form bypasses normalization.
func IsContactLikeHeader(name string) bool {
	return contactLikeHeaders[util.LCase(name)]
}

// nonCoalescingHeaders must not have their comma-separated values merged or
// split, because their grammar embeds unquoted commas.
var nonCoalescingHeaders = map[string]bool{
	"www-authenticate":    true,
	"proxy-authenticate":  true,
	"authorization":       true,
	"proxy-authorization": true,
}

// IsNonCoalescingHeader reports whether the named header keeps each value
// as a separate entry instead of splitting on commas.
func IsNonCoalescingHeader(name string) bool {
	return nonCoalescingHeaders[util.LCase(name)]
}

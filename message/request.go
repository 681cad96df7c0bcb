package message

import (
	"strconv"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
)

// NewRequest builds an outgoing request with the given method and
// request-URI, carrying only a Max-Forwards header. Remaining headers are
// added with [Message.AddHeader].
func NewRequest(method, requestURI string) (*Message, error) {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(util.UCase(method))
	sb.WriteByte(' ')
	sb.WriteString(requestURI)
	sb.WriteString(" SIP/2.0")
	sb.WriteByte(0)
	sb.WriteString("Max-Forwards: 70")
	sb.WriteByte(0)
	sb.WriteByte(0)

	m, err := Parse(sb.String())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	m.direction = DirectionOutgoing
	return m, nil
}

// NewResponseFrom builds a response to the given request, copying the Via,
// From, To, Call-ID and CSeq headers verbatim per RFC 3261 section 8.2.6.
// Record-Route is carried over on provisional and success responses. An
// empty reason selects the standard phrase for the code.
func NewResponseFrom(req *Message, statusCode int, reason string) (*Message, error) {
	if !req.IsRequest() {
		return nil, errtrace.Wrap(ErrInvalidMessage)
	}
	if reason == "" {
		reason = ReasonPhrase(statusCode)
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString("SIP/2.0 ")
	sb.WriteString(strconv.Itoa(statusCode))
	if reason != "" {
		sb.WriteByte(' ')
		sb.WriteString(reason)
	}
	sb.WriteByte(0)

	iter := 0
	for {
		name, value, ok := req.EnumerateHeaderLines(&iter)
		if !ok {
			break
		}
		copyLine := false
		switch {
		case util.EqFold(name, "via"),
			util.EqFold(name, "from"),
			util.EqFold(name, "to"),
			util.EqFold(name, "call-id"),
			util.EqFold(name, "cseq"):
			copyLine = true
		case util.EqFold(name, "record-route"):
			copyLine = statusCode < 300
		}
		if copyLine {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteByte(0)
		}
	}
	sb.WriteByte(0)

	m, err := Parse(sb.String())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	m.direction = DirectionOutgoing
	return m, nil
}

// CreateAck builds the ACK for a non-2xx final response to an INVITE, per
// RFC 3261 section 17.1.1.3: the request-URI, From, Call-ID, Max-Forwards
// and Route headers come from the INVITE, the single Via is the INVITE's
// topmost Via (keeping its branch), To comes from the response so the
// remote tag is carried, and CSeq keeps the INVITE sequence with the
// method rewritten.
func CreateAck(invite, response *Message) (*Message, error) {
	if !invite.IsRequest() || invite.Method() != MethodInvite || !response.IsResponse() {
		return nil, errtrace.Wrap(ErrInvalidMessage)
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(MethodAck)
	sb.WriteByte(' ')
	sb.WriteString(invite.RequestURI())
	sb.WriteString(" SIP/2.0")
	sb.WriteByte(0)

	topVia, ok := invite.EnumerateHeader(nil, "via")
	if !ok {
		return nil, errtrace.Wrap(errorNoVia)
	}
	sb.WriteString("Via: ")
	sb.WriteString(topVia)
	sb.WriteByte(0)

	iter := 0
	for {
		name, value, ok := invite.EnumerateHeaderLines(&iter)
		if !ok {
			break
		}
		if util.EqFold(name, "route") || util.EqFold(name, "from") ||
			util.EqFold(name, "call-id") || util.EqFold(name, "max-forwards") {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteByte(0)
		}
	}

	to, ok := response.GetNormalizedHeader("to")
	if !ok {
		to, _ = invite.GetNormalizedHeader("to")
	}
	sb.WriteString("To: ")
	sb.WriteString(to)
	sb.WriteByte(0)

	seq, _ := invite.GetCSeq()
	if seq < 0 {
		return nil, errtrace.Wrap(ErrInvalidMessage)
	}
	sb.WriteString("CSeq: ")
	sb.WriteString(strconv.FormatInt(seq, 10))
	sb.WriteByte(' ')
	sb.WriteString(MethodAck)
	sb.WriteByte(0)
	sb.WriteByte(0)

	m, err := Parse(sb.String())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	m.direction = DirectionOutgoing
	return m, nil
}

// ReasonPhrase returns the standard reason phrase for a status code, or ""
// when the code has no assigned phrase.
func ReasonPhrase(code int) string {
	return reasonPhrases[code]
}

var reasonPhrases = map[int]string{
	100: "Trying",
	180: "Ringing",
	181: "Call Is Being Forwarded",
	182: "Queued",
	183: "Session Progress",
	200: "OK",
	202: "Accepted",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Moved Temporarily",
	305: "Use Proxy",
	380: "Alternative Service",
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	410: "Gone",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	415: "Unsupported Media Type",
	416: "Unsupported URI Scheme",
	420: "Bad Extension",
	421: "Extension Required",
	423: "Interval Too Brief",
	480: "Temporarily Unavailable",
	481: "Call/Transaction Does Not Exist",
	482: "Loop Detected",
	483: "Too Many Hops",
	484: "Address Incomplete",
	485: "Ambiguous",
	486: "Busy Here",
	487: "Request Terminated",
	488: "Not Acceptable Here",
	491: "Request Pending",
	493: "Undecipherable",
	500: "Server Internal Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Server Time-out",
	505: "Version Not Supported",
	513: "Message Too Large",
	600: "Busy Everywhere",
	603: "Decline",
	604: "Does Not Exist Anywhere",
	606: "Not Acceptable",
}

// Package message implements parsing, normalization and structured access of
// SIP requests and responses as defined in RFC 3261.
//
// A parsed [Message] keeps its headers in a canonical raw-headers buffer:
// the start line and every logical header line are terminated by a NUL byte
// and the whole buffer ends with two consecutive NULs. Compact header forms
// are expanded and contact-like values are rewritten to the canonical
// `"display" <addr>;params` form during parsing, so consumers never see the
// loose grammar allowed on the wire.
package message

import (
	"log/slog"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/errorutil"
	"github.com/sippet/go-sippet/internal/util"
)

// Direction tags where a message came from.
type Direction int

const (
	// DirectionIncoming marks messages received from the network.
	DirectionIncoming Direction = iota
	// DirectionOutgoing marks messages built by the upper layers for sending.
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// Version is a SIP protocol version pair. Only 2.0 is accepted by the parser.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return "SIP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// parsedHeader indexes one header entry as spans into the raw-headers buffer.
// A continuation carries a subsequent comma-separated value of the preceding
// header and has an empty name span.
type parsedHeader struct {
	nameBegin, nameEnd   int
	valueBegin, valueEnd int
}

func (h parsedHeader) isContinuation() bool { return h.nameBegin == h.nameEnd }

// Message is a parsed SIP message.
//
// The header order established at parse time is immutable; mutations go
// through explicit operations ([Message.AddHeader], [Message.RemoveHeader],
// ...) that rebuild the canonical buffer and re-parse it atomically.
type Message struct {
	direction Direction

	method     string
	requestURI string

	statusCode int
	version    Version

	rawHeaders string
	parsed     []parsedHeader

	body []byte
}

// Parse parses a message in the canonical internal form: the start line and
// each header line terminated by a NUL byte. Input in wire form (CRLF line
// endings, folded continuation lines) goes through [ReadMessage] instead,
// which translates it and then parses it.
func Parse(rawInput string) (*Message, error) {
	m := &Message{statusCode: -1}
	if err := m.parseInternal(rawInput); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return m, nil
}

// Direction returns the message direction tag.
func (m *Message) Direction() Direction { return m.direction }

// SetDirection sets the message direction tag.
func (m *Message) SetDirection(d Direction) { m.direction = d }

// IsRequest reports whether the message is a request.
func (m *Message) IsRequest() bool { return m.statusCode < 0 }

// IsResponse reports whether the message is a response.
func (m *Message) IsResponse() bool { return m.statusCode >= 0 }

// Method returns the upper-cased request method, or "" for responses.
func (m *Message) Method() string { return m.method }

// RequestURI returns the request-URI, or "" for responses.
func (m *Message) RequestURI() string { return m.requestURI }

// StatusCode returns the response code, or -1 for requests.
func (m *Message) StatusCode() int { return m.statusCode }

// Version returns the SIP version of the message.
func (m *Message) Version() Version { return m.version }

// Body returns the message body, which may be nil.
func (m *Message) Body() []byte { return m.body }

// SetBody replaces the message body.
func (m *Message) SetBody(body []byte) { m.body = body }

// StartLine returns the normalized start line.
func (m *Message) StartLine() string {
	if i := strings.IndexByte(m.rawHeaders, 0); i >= 0 {
		return m.rawHeaders[:i]
	}
	return m.rawHeaders
}

// StatusText returns the reason phrase of a response, or "" when the
// response carries none. It must only be called on responses.
func (m *Message) StatusText() string {
	// The start line is normalized, so it has the format
	// '<version> SP <code>' or '<version> SP <code> SP <text>'.
	line := m.StartLine()
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return ""
	}
	j := strings.IndexByte(line[i+1:], ' ')
	if j < 0 {
		return ""
	}
	return line[i+1+j+1:]
}

// RawHeaders returns the canonical raw-headers buffer, terminated by a
// double NUL.
func (m *Message) RawHeaders() string { return m.rawHeaders }

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.parsed = append([]parsedHeader(nil), m.parsed...)
	clone.body = append([]byte(nil), m.body...)
	return &clone
}

// LogValue implements [slog.LogValuer].
func (m *Message) LogValue() slog.Value {
	if m == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("start_line", m.StartLine()),
		slog.String("direction", m.direction.String()),
	)
}

func (m *Message) parseInternal(rawInput string) error {
	lineEnd := strings.IndexByte(rawInput, 0)
	if lineEnd < 0 {
		lineEnd = len(rawInput)
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.Grow(len(rawInput) + 2)

	if err := m.parseStartLine(rawInput[:lineEnd], sb); err != nil {
		return errtrace.Wrap(err)
	}
	sb.WriteByte(0)

	if lineEnd == len(rawInput) {
		sb.WriteByte(0)
		m.rawHeaders = sb.String()
		m.parsed = nil
		return nil
	}

	// Including the terminating null byte.
	startLineLen := sb.Len()

	// Expand compact headers and normalize contact-like values.
	if err := normalizeHeaders(rawInput[lineEnd+1:], sb); err != nil {
		return errtrace.Wrap(err)
	}
	sb.WriteByte(0)

	m.rawHeaders = sb.String()
	m.parsed = nil
	m.indexHeaders(startLineLen)
	return nil
}

// indexHeaders walks the normalized buffer past the start line and records
// (name, value) spans, splitting coalescing headers on unquoted commas.
func (m *Message) indexHeaders(from int) {
	raw := m.rawHeaders
	for pos := from; pos < len(raw); {
		end := strings.IndexByte(raw[pos:], 0)
		if end < 0 {
			break
		}
		line := raw[pos : pos+end]
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon >= 0 {
			nameBegin, nameEnd := spanTrim(raw, pos, pos+colon)
			valueBegin, valueEnd := spanTrim(raw, pos+colon+1, pos+end)
			m.addParsed(nameBegin, nameEnd, valueBegin, valueEnd)
		}
		pos += end + 1
	}
}

func (m *Message) addParsed(nameBegin, nameEnd, valueBegin, valueEnd int) {
	name := m.rawHeaders[nameBegin:nameEnd]
	if valueBegin == valueEnd || IsNonCoalescingHeader(name) {
		m.parsed = append(m.parsed, parsedHeader{nameBegin, nameEnd, valueBegin, valueEnd})
		return
	}

	// Coalescing header: split the value on unquoted commas; the second and
	// later values become continuations sharing the original name.
	first := true
	forEachValue(m.rawHeaders, valueBegin, valueEnd, func(vb, ve int) {
		if first {
			m.parsed = append(m.parsed, parsedHeader{nameBegin, nameEnd, vb, ve})
			first = false
		} else {
			m.parsed = append(m.parsed, parsedHeader{vb, vb, vb, ve})
		}
	})
}

// forEachValue calls fn for each non-empty comma-separated value in
// raw[begin:end], honoring double quotes and trimming surrounding spaces.
func forEachValue(raw string, begin, end int, fn func(vb, ve int)) {
	valueBegin := begin
	inQuotes := false
	emit := func(vb, ve int) {
		vb, ve = spanTrim(raw, vb, ve)
		if vb != ve {
			fn(vb, ve)
		}
	}
	for i := begin; i < end; i++ {
		switch raw[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				emit(valueBegin, i)
				valueBegin = i + 1
			}
		}
	}
	emit(valueBegin, end)
}

func spanTrim(raw string, begin, end int) (int, int) {
	for begin < end && (raw[begin] == ' ' || raw[begin] == '\t') {
		begin++
	}
	for end > begin && (raw[end-1] == ' ' || raw[end-1] == '\t') {
		end--
	}
	return begin, end
}

func (m *Message) parseStartLine(line string, sb *strings.Builder) error {
	// A line whose first four characters match "sip/" case-insensitively is a
	// status line; everything else is parsed as a request line.
	if len(line) > 4 && util.EqFold(line[:4], "sip/") {
		return errtrace.Wrap(m.parseStatusLine(line, sb))
	}
	return errtrace.Wrap(m.parseRequestLine(line, sb))
}

func (m *Message) parseRequestLine(line string, sb *strings.Builder) error {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return errtrace.Wrap(ErrMissingMethod)
	}
	m.method = util.UCase(line[:sp])
	sb.WriteString(m.method)

	p := sp
	for p < len(line) && line[p] == ' ' {
		p++
	}
	uriEnd := strings.IndexByte(line[p:], ' ')
	if uriEnd < 0 {
		return errtrace.Wrap(ErrMissingRequestURI)
	}
	m.requestURI = line[p : p+uriEnd]
	sb.WriteByte(' ')
	sb.WriteString(m.requestURI)

	p += uriEnd
	for p < len(line) && line[p] == ' ' {
		p++
	}

	v, ok := parseVersion(line[p:])
	if !ok || v != (Version{2, 0}) {
		return errtrace.Wrap(ErrUnsupportedVersion)
	}
	m.version = v
	sb.WriteString(" SIP/2.0")
	return nil
}

func (m *Message) parseStatusLine(line string, sb *strings.Builder) error {
	v, ok := parseVersion(line)
	if !ok || v != (Version{2, 0}) {
		return errtrace.Wrap(ErrUnsupportedVersion)
	}
	m.version = v
	sb.WriteString("SIP/2.0")

	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return errtrace.Wrap(ErrInvalidStatusCode)
	}
	p := sp
	for p < len(line) && line[p] == ' ' {
		p++
	}
	code := p
	for p < len(line) && isDigit(line[p]) {
		p++
	}
	if p == code {
		return errtrace.Wrap(ErrInvalidStatusCode)
	}
	n, err := strconv.Atoi(line[code:p])
	if err != nil || n < 100 || n > 699 {
		return errtrace.Wrap(ErrInvalidStatusCode)
	}
	m.statusCode = n
	sb.WriteByte(' ')
	sb.WriteString(line[code:p])

	for p < len(line) && line[p] == ' ' {
		p++
	}
	end := len(line)
	for end > p && line[end-1] == ' ' {
		end--
	}
	if p != end {
		sb.WriteByte(' ')
		sb.WriteString(line[p:end])
	}
	return nil
}

// parseVersion parses the SIP-Version production:
// "SIP" "/" 1*DIGIT "." 1*DIGIT (single digits accepted).
func parseVersion(s string) (Version, bool) {
	if len(s) < 4 || !util.EqFold(s[:3], "sip") || s[3] != '/' {
		return Version{}, false
	}
	dot := strings.IndexByte(s[4:], '.')
	if dot < 0 {
		return Version{}, false
	}
	p, q := 4, 4+dot+1
	if p >= len(s) || q >= len(s) || !isDigit(s[p]) || !isDigit(s[q]) {
		return Version{}, false
	}
	return Version{int(s[p] - '0'), int(s[q] - '0')}, true
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

// normalizeHeaders rewrites the raw header lines of input (NUL-terminated)
// into sb: compact names are expanded, contact-like values are normalized,
// everything else is copied with name and value trimmed.
func normalizeHeaders(input string, sb *strings.Builder) error {
	for pos := 0; pos < len(input); {
		end := strings.IndexByte(input[pos:], 0)
		if end < 0 {
			end = len(input) - pos
		}
		line := input[pos : pos+end]
		pos += end + 1
		if line == "" {
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := util.TrimSP(line[:colon])
		value := util.TrimSP(line[colon+1:])
		if name == "" {
			return errtrace.Wrap(ErrMissingHeaderName)
		}
		if len(name) == 1 {
			if long := ExpandHeader(name[0]); long != "" {
				name = long
			}
		}

		sb.WriteString(name)
		sb.WriteString(": ")
		switch {
		case IsContactLikeHeader(name):
			if err := normalizeContactLike(value, sb); err != nil {
				return errtrace.Wrap(err)
			}
		case util.EqFold(name, "contact"):
			if value == "*" {
				sb.WriteByte('*')
			} else if err := normalizeContactLike(value, sb); err != nil {
				return errtrace.Wrap(err)
			}
		default:
			sb.WriteString(value)
		}
		sb.WriteByte(0)
	}
	return nil
}

// normalizeContactLike rewrites a name-addr / addr-spec value to the
// canonical form: display name quoted, address enclosed in angle brackets,
// parameters appended with ';'. Multiple comma-separated values are
// normalized independently and rejoined with ", ".
func normalizeContactLike(value string, sb *strings.Builder) error {
	nextIsParam := false
	hadQuotedString, hadAddress, hadToken := false, false, false

	t := newTokenizer(value, "; ,")
	for t.next() {
		if t.isDelim {
			switch t.token[0] {
			case ';':
				nextIsParam = true
			case ',':
				nextIsParam = false
				hadQuotedString, hadAddress, hadToken = false, false, false
				sb.WriteString(", ")
			}
			continue
		}

		token := t.token
		switch {
		case nextIsParam:
			sb.WriteByte(';')
			sb.WriteString(token)
		case token[0] == '"':
			if hadQuotedString {
				return errtrace.Wrap(NewMalformedContactLikeError("repeated display name"))
			}
			if len(token) < 2 || token[1] != '"' {
				sb.WriteString(token)
			}
			hadQuotedString = true
		case token[0] == '<':
			if hadAddress {
				return errtrace.Wrap(NewMalformedContactLikeError("repeated addr-spec"))
			}
			if hadToken {
				sb.WriteString("\" ")
			} else if hadQuotedString {
				sb.WriteByte(' ')
			}
			sb.WriteString(token)
			hadAddress = true
		default:
			if hadQuotedString || hadAddress {
				return errtrace.Wrap(NewMalformedContactLikeError("trailing token"))
			}
			if strings.HasPrefix(token, "sip:") || strings.HasPrefix(token, "sips:") {
				sb.WriteByte('<')
				sb.WriteString(token)
				sb.WriteByte('>')
				hadAddress = true
			} else {
				if !hadToken {
					sb.WriteByte('"')
				} else {
					sb.WriteByte(' ')
				}
				sb.WriteString(token)
				hadToken = true
			}
		}
	}
	return nil
}

// NewMalformedContactLikeError wraps a reason with [ErrMalformedContactLike].
func NewMalformedContactLikeError(reason string) error {
	return errorutil.NewWrapperError(ErrMalformedContactLike, reason) //errtrace:skip
}

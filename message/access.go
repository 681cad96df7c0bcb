package message

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sippet/go-sippet/internal/util"
)

// HasHeader reports whether the message carries a header with the given
// name. The match is case-insensitive.
func (m *Message) HasHeader(name string) bool {
	return m.findHeader(0, name) >= 0
}

// findHeader returns the index of the first non-continuation entry at or
// after from whose name matches, or -1.
func (m *Message) findHeader(from int, name string) int {
	for i := from; i < len(m.parsed); i++ {
		h := m.parsed[i]
		if h.isContinuation() {
			continue
		}
		if util.EqFold(m.rawHeaders[h.nameBegin:h.nameEnd], name) {
			return i
		}
	}
	return -1
}

// EnumerateHeader yields each value of the named header in turn, including
// continuation entries of coalescing headers. Start with *iter == 0; each
// call advances it. It returns "" and false when no further value exists.
func (m *Message) EnumerateHeader(iter *int, name string) (string, bool) {
	var i int
	if iter == nil || *iter == 0 {
		i = m.findHeader(0, name)
	} else {
		i = *iter
		if i >= len(m.parsed) {
			i = -1
		} else if !m.parsed[i].isContinuation() {
			i = m.findHeader(i, name)
		}
	}
	if i < 0 {
		return "", false
	}
	if iter != nil {
		*iter = i + 1
	}
	h := m.parsed[i]
	return m.rawHeaders[h.valueBegin:h.valueEnd], true
}

// EnumerateHeaderLines yields every logical header as (name, value) in the
// order of the canonical buffer. Continuation values are concatenated with
// ", ". Start with *iter == 0.
func (m *Message) EnumerateHeaderLines(iter *int) (name, value string, ok bool) {
	i := *iter
	if i >= len(m.parsed) {
		return "", "", false
	}

	h := m.parsed[i]
	name = m.rawHeaders[h.nameBegin:h.nameEnd]

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(m.rawHeaders[h.valueBegin:h.valueEnd])
	for i++; i < len(m.parsed) && m.parsed[i].isContinuation(); i++ {
		sb.WriteString(", ")
		sb.WriteString(m.rawHeaders[m.parsed[i].valueBegin:m.parsed[i].valueEnd])
	}

	*iter = i
	return name, sb.String(), true
}

// GetNormalizedHeader returns all values of the named header joined by
// ", ". Use [Message.EnumerateHeader] for non-coalescing headers instead.
func (m *Message) GetNormalizedHeader(name string) (string, bool) {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	found := false
	for i := 0; i < len(m.parsed); {
		i = m.findHeader(i, name)
		if i < 0 {
			break
		}
		found = true
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(m.rawHeaders[m.parsed[i].valueBegin:m.parsed[i].valueEnd])
		for i++; i < len(m.parsed) && m.parsed[i].isContinuation(); i++ {
			sb.WriteString(", ")
			sb.WriteString(m.rawHeaders[m.parsed[i].valueBegin:m.parsed[i].valueEnd])
		}
	}
	return sb.String(), found
}

// HasHeaderValue reports whether any enumerated value of the named header
// equals value case-insensitively. The match is exact, which matters for
// option tags in Require and Supported.
func (m *Message) HasHeaderValue(name, value string) bool {
	iter := 0
	for {
		v, ok := m.EnumerateHeader(&iter, name)
		if !ok {
			return false
		}
		if util.EqFold(v, value) {
			return true
		}
	}
}

// GetContentLength returns the Content-Length value, or -1 when absent or
// not a valid non-negative integer.
func (m *Message) GetContentLength() int64 {
	return m.getInt64Header("content-length")
}

// GetMaxForwards returns the Max-Forwards value, or -1 when absent or not a
// valid non-negative integer.
func (m *Message) GetMaxForwards() int64 {
	return m.getInt64Header("max-forwards")
}

func (m *Message) getInt64Header(name string) int64 {
	iter := 0
	v, ok := m.EnumerateHeader(&iter, name)
	if !ok || v == "" {
		return -1
	}
	// A leading '+' is valid for strconv but not for 1*DIGIT.
	if v[0] == '+' {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// GetExpiresValue returns the Expires value as a duration. Values that
// overflow an unsigned 32-bit integer saturate to the maximum.
func (m *Message) GetExpiresValue() (time.Duration, bool) {
	v, ok := m.EnumerateHeader(nil, "expires")
	if !ok || v == "" {
		return 0, false
	}
	for i := 0; i < len(v); i++ {
		if !isDigit(v[i]) {
			return 0, false
		}
	}
	seconds, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		// Saturate on overflow; any other failure was caught above.
		seconds = math.MaxUint32
	}
	return time.Duration(seconds) * time.Second, true
}

// GetCSeq returns the CSeq sequence number and upper-cased method.
// The sequence is -1 when the header is absent or malformed.
func (m *Message) GetCSeq() (int64, string) {
	v, ok := m.EnumerateHeader(nil, "cseq")
	if !ok {
		return -1, ""
	}
	fields := strings.Fields(v)
	if len(fields) < 2 {
		return -1, ""
	}
	if fields[0] == "" || fields[0][0] == '+' {
		return -1, ""
	}
	seq, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || seq < 0 {
		return -1, ""
	}
	return seq, util.UCase(fields[1])
}

// GetFrom returns the From header as display name, address and parameters.
func (m *Message) GetFrom() (NameAddr, bool) {
	return m.enumerateContactLike(nil, "from")
}

// GetTo returns the To header as display name, address and parameters.
func (m *Message) GetTo() (NameAddr, bool) {
	return m.enumerateContactLike(nil, "to")
}

// GetReplyTo returns the Reply-To header as display name, address and
// parameters.
func (m *Message) GetReplyTo() (NameAddr, bool) {
	return m.enumerateContactLike(nil, "reply-to")
}

// EnumerateContact yields each Contact entry in turn. Start with *iter == 0.
func (m *Message) EnumerateContact(iter *int) (NameAddr, bool) {
	return m.enumerateContactLike(iter, "contact")
}

// EnumerateRoute yields each Route entry in turn. Start with *iter == 0.
func (m *Message) EnumerateRoute(iter *int) (NameAddr, bool) {
	return m.enumerateContactLike(iter, "route")
}

// EnumerateRecordRoute yields each Record-Route entry in turn.
// Start with *iter == 0.
func (m *Message) EnumerateRecordRoute(iter *int) (NameAddr, bool) {
	return m.enumerateContactLike(iter, "record-route")
}

func (m *Message) enumerateContactLike(iter *int, name string) (NameAddr, bool) {
	v, ok := m.EnumerateHeader(iter, name)
	if !ok {
		return NameAddr{}, false
	}
	return parseNameAddr(v), true
}

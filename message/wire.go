package message

import (
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
)

// ReadMessage parses a message from its wire form: CRLF line endings (lone
// LF tolerated), folded continuation lines, a blank line separating headers
// from the body. Leading empty lines are skipped so stream keep-alive CRLFs
// do not trip the parser. When a Content-Length header is present the body
// is cut to exactly that many octets; without it the whole remainder is
// taken.
func ReadMessage(data []byte) (*Message, error) {
	s := string(data)
	if strings.IndexByte(s, 0) >= 0 {
		return nil, errtrace.Wrap(ErrEmbeddedNull)
	}

	pos := 0
	for pos < len(s) && (s[pos] == '\r' || s[pos] == '\n') {
		pos++
	}

	var lines []string
	for pos < len(s) {
		lineEnd := strings.IndexByte(s[pos:], '\n')
		var line string
		if lineEnd < 0 {
			line, pos = s[pos:], len(s)
		} else {
			line, pos = s[pos:pos+lineEnd], pos+lineEnd+1
		}
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && len(lines) > 1 {
			// Folded continuation of the previous header line.
			lines[len(lines)-1] += " " + util.TrimSP(line)
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, errtrace.Wrap(ErrInvalidMessage)
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte(0)
	}
	sb.WriteByte(0)

	m, err := Parse(sb.String())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	body := s[pos:]
	if cl := m.GetContentLength(); cl >= 0 {
		if int64(len(body)) < cl {
			return nil, errtrace.Wrap(ErrInvalidMessage)
		}
		body = body[:cl]
	}
	if body != "" {
		m.body = []byte(body)
	}
	return m, nil
}

// Serialize renders the message in wire form: start line, each logical
// header line, a blank line and the body, with CRLF line endings. An
// existing Content-Length value is rewritten to the actual body length;
// when the header is absent and a body is present one is appended.
func (m *Message) Serialize() []byte {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString(m.StartLine())
	sb.WriteString("\r\n")

	wroteLength := false
	iter := 0
	for {
		name, value, ok := m.EnumerateHeaderLines(&iter)
		if !ok {
			break
		}
		if util.EqFold(name, "content-length") {
			value = strconv.Itoa(len(m.body))
			wroteLength = true
		}
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\r\n")
	}
	if !wroteLength && len(m.body) > 0 {
		sb.WriteString("Content-Length: ")
		sb.WriteString(strconv.Itoa(len(m.body)))
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")

	out := make([]byte, 0, sb.Len()+len(m.body))
	out = append(out, sb.String()...)
	out = append(out, m.body...)
	return out
}

package message

import (
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
)

// NameAddr is the parsed form of a contact-like header value:
// `"display" <addr>;param=value`.
type NameAddr struct {
	DisplayName string
	Address     string
	Params      map[string]string
}

// Param returns the named parameter value. The second result reports
// whether the parameter is present; valueless parameters yield "".
func (a NameAddr) Param(name string) (string, bool) {
	v, ok := a.Params[util.LCase(name)]
	return v, ok
}

// Tag returns the "tag" parameter value, or "" when absent.
func (a NameAddr) Tag() string {
	v, _ := a.Param("tag")
	return v
}

// parseNameAddr parses a normalized contact-like value. Normalization
// guarantees the display name is quoted and the address sits in angle
// brackets, so no loose addr-spec grammar needs handling here.
func parseNameAddr(v string) NameAddr {
	var a NameAddr
	v = util.TrimSP(v)
	if v == "*" {
		a.Address = "*"
		return a
	}

	if len(v) > 0 && v[0] == '"' {
		if end := strings.IndexByte(v[1:], '"'); end >= 0 {
			a.DisplayName = v[1 : 1+end]
			v = util.TrimSP(v[end+2:])
		}
	}

	if len(v) > 0 && v[0] == '<' {
		if end := strings.IndexByte(v, '>'); end >= 0 {
			a.Address = v[1:end]
			v = v[end+1:]
		}
	}

	if i := strings.IndexByte(v, ';'); i >= 0 {
		a.Params = parseParams(v[i+1:])
	}
	return a
}

// parseParams parses `name=value` pairs separated by ';'. Parameter names
// are lower-cased; quoted values are unquoted; valueless parameters map
// to "".
func parseParams(s string) map[string]string {
	params := make(map[string]string)
	for _, pair := range splitUnquoted(s, ';') {
		pair = util.TrimSP(pair)
		if pair == "" {
			continue
		}
		name, value := pair, ""
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			name, value = util.TrimSP(pair[:eq]), util.TrimSP(pair[eq+1:])
			if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
				value = value[1 : len(value)-1]
			}
		}
		params[util.LCase(name)] = value
	}
	return params
}

// splitUnquoted splits s on the delimiter, honoring double quotes.
func splitUnquoted(s string, delim byte) []string {
	var parts []string
	begin := 0
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case delim:
			if !inQuotes {
				parts = append(parts, s[begin:i])
				begin = i + 1
			}
		}
	}
	return append(parts, s[begin:])
}

// ViaHop is the parsed form of one Via header value:
// `SIP/2.0/<transport> host[:port];params`.
type ViaHop struct {
	Transport string
	Host      string
	Port      int
	Params    map[string]string
}

// Branch returns the branch parameter, or "" when absent.
func (v ViaHop) Branch() string {
	return v.Params["branch"]
}

// Received returns the received parameter, or "" when absent.
func (v ViaHop) Received() string {
	return v.Params["received"]
}

// Rport returns the rport parameter value and whether it carries a port.
// A valueless rport yields (0, false).
func (v ViaHop) Rport() (int, bool) {
	s, ok := v.Params["rport"]
	if !ok || s == "" {
		return 0, false
	}
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// SentBy returns the host[:port] pair as it appeared on the wire.
func (v ViaHop) SentBy() string {
	if v.Port == 0 {
		return v.Host
	}
	return JoinHostPort(v.Host, v.Port)
}

// ParseViaHop parses a single Via header value.
func ParseViaHop(value string) (ViaHop, error) {
	var hop ViaHop
	value = util.TrimSP(value)

	sp := strings.IndexByte(value, ' ')
	if sp < 0 {
		return hop, errtrace.Wrap(NewMalformedContactLikeError("missing Via sent-by"))
	}
	proto := value[:sp]
	slash := strings.LastIndexByte(proto, '/')
	if slash < 4 || !util.EqFold(proto[:4], "sip/") {
		return hop, errtrace.Wrap(ErrUnsupportedVersion)
	}
	hop.Transport = util.UCase(proto[slash+1:])

	rest := util.TrimSP(value[sp+1:])
	sentBy := rest
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		sentBy = util.TrimSP(rest[:i])
		hop.Params = parseParams(rest[i+1:])
	} else {
		hop.Params = map[string]string{}
	}

	host, port, err := SplitHostPort(sentBy)
	if err != nil {
		return hop, errtrace.Wrap(err)
	}
	hop.Host = host
	hop.Port = port
	return hop, nil
}

// TopVia returns the parsed topmost Via header of the message.
func (m *Message) TopVia() (ViaHop, error) {
	v, ok := m.EnumerateHeader(nil, "via")
	if !ok {
		return ViaHop{}, errtrace.Wrap(errorNoVia)
	}
	return errtrace.Wrap2(ParseViaHop(v))
}

const errorNoVia Error = "missing Via header"

// SplitHostPort splits "host[:port]" with IPv6 bracket support. A missing
// port yields 0.
func SplitHostPort(s string) (string, int, error) {
	if s == "" {
		return "", 0, errtrace.Wrap(ErrInvalidMessage)
	}
	if s[0] == '[' {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, errtrace.Wrap(ErrInvalidMessage)
		}
		host := s[1:end]
		rest := s[end+1:]
		if rest == "" {
			return host, 0, nil
		}
		if rest[0] != ':' {
			return "", 0, errtrace.Wrap(ErrInvalidMessage)
		}
		port, err := strconv.Atoi(rest[1:])
		if err != nil {
			return "", 0, errtrace.Wrap(err)
		}
		return host, port, nil
	}
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 || strings.IndexByte(s, ':') != colon {
		// No port, or a bare IPv6 literal without brackets.
		return s, 0, nil
	}
	port, err := strconv.Atoi(s[colon+1:])
	if err != nil {
		return "", 0, errtrace.Wrap(err)
	}
	return s[:colon], port, nil
}

// JoinHostPort joins host and port, bracketing IPv6 literals.
func JoinHostPort(host string, port int) string {
	if strings.IndexByte(host, ':') >= 0 {
		return "[" + host + "]:" + strconv.Itoa(port)
	}
	return host + ":" + strconv.Itoa(port)
}

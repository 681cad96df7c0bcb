package message

import (
	"strings"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
)

// URI is a parsed sip: or sips: URI.
//
// `sip:user:password@host:port;params?headers`
type URI struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
	Params   map[string]string
	Headers  map[string]string
}

const errorInvalidURI Error = "invalid SIP URI"

// ParseURI parses a sip: or sips: URI. Other schemes are rejected.
func ParseURI(s string) (URI, error) {
	var u URI
	switch {
	case strings.HasPrefix(s, "sip:"):
		u.Scheme, s = "sip", s[4:]
	case strings.HasPrefix(s, "sips:"):
		u.Scheme, s = "sips", s[5:]
	default:
		return u, errtrace.Wrap(errorInvalidURI)
	}

	if q := strings.IndexByte(s, '?'); q >= 0 {
		u.Headers = parseURIHeaders(s[q+1:])
		s = s[:q]
	}
	if sc := strings.IndexByte(s, ';'); sc >= 0 {
		u.Params = parseParams(s[sc+1:])
		s = s[:sc]
	}
	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		userinfo := s[:at]
		s = s[at+1:]
		if colon := strings.IndexByte(userinfo, ':'); colon >= 0 {
			u.User, u.Password = userinfo[:colon], userinfo[colon+1:]
		} else {
			u.User = userinfo
		}
	}

	host, port, err := SplitHostPort(s)
	if err != nil {
		return u, errtrace.Wrap(errorInvalidURI)
	}
	if host == "" {
		return u, errtrace.Wrap(errorInvalidURI)
	}
	u.Host = host
	u.Port = port
	return u, nil
}

func parseURIHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		name, value := pair, ""
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			name, value = pair[:eq], pair[eq+1:]
		}
		headers[name] = value
	}
	return headers
}

// IsSecure reports whether the URI uses the sips scheme.
func (u URI) IsSecure() bool { return u.Scheme == "sips" }

// Param returns the named URI parameter. Valueless parameters yield "".
func (u URI) Param(name string) (string, bool) {
	v, ok := u.Params[util.LCase(name)]
	return v, ok
}

// Transport returns the transport parameter upper-cased, or "" when absent.
func (u URI) Transport() string {
	v, _ := u.Param("transport")
	return util.UCase(v)
}

// EffectivePort returns the URI port, defaulting to 5061 for sips and 5060
// otherwise.
func (u URI) EffectivePort() int {
	if u.Port != 0 {
		return u.Port
	}
	if u.IsSecure() {
		return 5061
	}
	return 5060
}

// String renders the URI back to its textual form.
func (u URI) String() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(u.Scheme)
	sb.WriteByte(':')
	if u.User != "" {
		sb.WriteString(u.User)
		if u.Password != "" {
			sb.WriteByte(':')
			sb.WriteString(u.Password)
		}
		sb.WriteByte('@')
	}
	if u.Port != 0 {
		sb.WriteString(JoinHostPort(u.Host, u.Port))
	} else if strings.IndexByte(u.Host, ':') >= 0 {
		sb.WriteString("[" + u.Host + "]")
	} else {
		sb.WriteString(u.Host)
	}
	for name, value := range u.Params {
		sb.WriteByte(';')
		sb.WriteString(name)
		if value != "" {
			sb.WriteByte('=')
			sb.WriteString(value)
		}
	}
	first := true
	for name, value := range u.Headers {
		if first {
			sb.WriteByte('?')
			first = false
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(value)
	}
	return sb.String()
}

// uriComparableParams are the parameters that must agree when present in
// both URIs compared with [URI.Equal], per RFC 3261 section 19.1.4.
var uriComparableParams = [...]string{"user", "ttl", "method", "maddr", "transport"}

// Equal reports whether two URIs are equivalent per RFC 3261 section
// 19.1.4: scheme, host and parameter names compare case-insensitively, the
// userinfo compares case-sensitively, ports compare after defaulting, and a
// user, ttl, method, maddr or transport parameter appearing in one URI must
// appear in both.
func (u URI) Equal(o URI) bool {
	if u.Scheme != o.Scheme {
		return false
	}
	if u.User != o.User || u.Password != o.Password {
		return false
	}
	if !util.EqFold(u.Host, o.Host) {
		return false
	}
	if u.EffectivePort() != o.EffectivePort() {
		return false
	}
	for _, name := range uriComparableParams {
		a, aok := u.Param(name)
		b, bok := o.Param(name)
		if aok != bok {
			return false
		}
		if aok && !util.EqFold(a, b) {
			return false
		}
	}
	// Any other parameter present in both must match; one-sided parameters
	// are ignored.
	for name, a := range u.Params {
		if b, ok := o.Params[name]; ok && !util.EqFold(a, b) {
			return false
		}
	}
	return true
}

package message

import (
	"strings"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
)

// apply re-parses newRaw into scratch state and swaps it into the message.
// A parse failure leaves the message untouched.
func (m *Message) apply(newRaw string) error {
	scratch := Message{statusCode: -1}
	if err := scratch.parseInternal(newRaw); err != nil {
		return errtrace.Wrap(err)
	}
	m.method = scratch.method
	m.requestURI = scratch.requestURI
	m.statusCode = scratch.statusCode
	m.version = scratch.version
	m.rawHeaders = scratch.rawHeaders
	m.parsed = scratch.parsed
	return nil
}

// AddHeader appends one header line to the message. The line must be in
// `Name: value` form and free of NUL bytes.
func (m *Message) AddHeader(header string) error {
	if strings.IndexByte(header, 0) >= 0 {
		return errtrace.Wrap(ErrEmbeddedNull)
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	// Drop the final NUL of the double terminator, keep the one closing the
	// last header line.
	sb.WriteString(m.rawHeaders[:len(m.rawHeaders)-1])
	sb.WriteString(header)
	sb.WriteByte(0)
	sb.WriteByte(0)
	return errtrace.Wrap(m.apply(sb.String()))
}

// RemoveHeader removes every header line with the given name, including the
// continuation values of coalescing headers.
func (m *Message) RemoveHeader(name string) error {
	return errtrace.Wrap(m.merge(m.StartLine(), map[string]bool{util.LCase(name): true}))
}

// RemoveHeaders removes every header line whose name appears in names.
func (m *Message) RemoveHeaders(names []string) error {
	toRemove := make(map[string]bool, len(names))
	for _, name := range names {
		toRemove[util.LCase(name)] = true
	}
	return errtrace.Wrap(m.merge(m.StartLine(), toRemove))
}

// RemoveHeaderLine removes the single logical header whose name and value
// match exactly. The name match is case-insensitive; the value match is not.
func (m *Message) RemoveHeaderLine(name, value string) error {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(m.StartLine())
	sb.WriteByte(0)

	iter := 0
	removed := false
	for {
		oldName, oldValue, ok := m.EnumerateHeaderLines(&iter)
		if !ok {
			break
		}
		if !removed && util.EqFold(oldName, name) && oldValue == value {
			removed = true
			continue
		}
		sb.WriteString(oldName)
		sb.WriteString(": ")
		sb.WriteString(oldValue)
		sb.WriteByte(0)
	}
	sb.WriteByte(0)
	return errtrace.Wrap(m.apply(sb.String()))
}

// ReplaceStartLine replaces the start line, keeping every header intact.
func (m *Message) ReplaceStartLine(newStart string) error {
	if strings.IndexByte(newStart, 0) >= 0 {
		return errtrace.Wrap(ErrEmbeddedNull)
	}
	return errtrace.Wrap(m.merge(newStart, nil))
}

// SetViaReceived appends `;received=<addr>` to the topmost Via header.
// Subsequent Via headers are preserved verbatim.
func (m *Message) SetViaReceived(received string) error {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(m.StartLine())
	sb.WriteByte(0)

	iter := 0
	first := true
	for {
		name, value, ok := m.EnumerateHeaderLines(&iter)
		if !ok {
			break
		}
		sb.WriteString(name)
		sb.WriteString(": ")
		if first && util.EqFold(name, "via") {
			// Stamp only the first value of a comma-separated Via line.
			top, _ := m.EnumerateHeader(nil, "via")
			sb.WriteString(top)
			sb.WriteString(";received=")
			sb.WriteString(received)
			sb.WriteString(value[len(top):])
			first = false
		} else {
			sb.WriteString(value)
		}
		sb.WriteByte(0)
	}
	sb.WriteByte(0)
	return errtrace.Wrap(m.apply(sb.String()))
}

// ReplaceTopVia replaces the value of the topmost Via header, keeping its
// position and every other header intact.
func (m *Message) ReplaceTopVia(value string) error {
	if strings.IndexByte(value, 0) >= 0 {
		return errtrace.Wrap(ErrEmbeddedNull)
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(m.StartLine())
	sb.WriteByte(0)

	iter := 0
	first := true
	for {
		name, oldValue, ok := m.EnumerateHeaderLines(&iter)
		if !ok {
			break
		}
		sb.WriteString(name)
		sb.WriteString(": ")
		if first && util.EqFold(name, "via") {
			// Keep the later values of a comma-separated Via line.
			top, _ := m.EnumerateHeader(nil, "via")
			sb.WriteString(value)
			sb.WriteString(oldValue[len(top):])
			first = false
		} else {
			sb.WriteString(oldValue)
		}
		sb.WriteByte(0)
	}
	sb.WriteByte(0)
	return errtrace.Wrap(m.apply(sb.String()))
}

// ReplaceHeaderLine replaces the single logical header whose name and value
// match exactly, keeping its position. The name match is case-insensitive;
// the value match is not.
func (m *Message) ReplaceHeaderLine(name, oldValue, newValue string) error {
	if strings.IndexByte(newValue, 0) >= 0 {
		return errtrace.Wrap(ErrEmbeddedNull)
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(m.StartLine())
	sb.WriteByte(0)

	iter := 0
	replaced := false
	for {
		curName, curValue, ok := m.EnumerateHeaderLines(&iter)
		if !ok {
			break
		}
		sb.WriteString(curName)
		sb.WriteString(": ")
		if !replaced && util.EqFold(curName, name) && curValue == oldValue {
			sb.WriteString(newValue)
			replaced = true
		} else {
			sb.WriteString(curValue)
		}
		sb.WriteByte(0)
	}
	sb.WriteByte(0)
	return errtrace.Wrap(m.apply(sb.String()))
}

// merge rebuilds the buffer from the given start line plus every parsed
// header whose lower-cased name is not in toRemove, then re-parses.
// Continuations travel with their leading entry.
func (m *Message) merge(startLine string, toRemove map[string]bool) error {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString(startLine)
	sb.WriteByte(0)

	for i := 0; i < len(m.parsed); i++ {
		// Locate the last continuation of this header.
		k := i
		for k+1 < len(m.parsed) && m.parsed[k+1].isContinuation() {
			k++
		}

		name := m.rawHeaders[m.parsed[i].nameBegin:m.parsed[i].nameEnd]
		if !toRemove[util.LCase(name)] {
			sb.WriteString(m.rawHeaders[m.parsed[i].nameBegin:m.parsed[k].valueEnd])
			sb.WriteByte(0)
		}

		i = k
	}
	sb.WriteByte(0)
	return errtrace.Wrap(m.apply(sb.String()))
}

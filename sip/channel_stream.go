package sip

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
)

// readStreamMessage reads one SIP message off a stream connection: the
// header block up to the blank line, then Content-Length octets of body.
// Lines terminated by a bare LF are tolerated. CRLF keep-alives preceding
// the start line are absorbed.
func readStreamMessage(br *bufio.Reader) ([]byte, error) {
	raw := make([]byte, 0, 512)

	for {
		line, err := readStreamLine(br)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		if len(raw) == 0 && isBlankLine(line) {
			continue
		}
		raw = append(raw, line...)
		if isBlankLine(line) {
			break
		}
		if uint(len(raw)) > MaxMsgSize {
			return nil, errtrace.Wrap(ErrMessageTooLarge)
		}
	}

	length, err := streamContentLength(raw)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if length > 0 {
		if uint(len(raw)+length) > MaxMsgSize {
			return nil, errtrace.Wrap(ErrMessageTooLarge)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, errtrace.Wrap(err)
		}
		raw = append(raw, body...)
	}
	return raw, nil
}

// readStreamLine reads a single line including its terminator.
func readStreamLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return line, nil
}

func isBlankLine(line []byte) bool {
	return bytes.Equal(line, []byte("\r\n")) || bytes.Equal(line, []byte("\n"))
}

// streamContentLength scans the raw header block for the Content-Length
// header, accepting its compact form. A missing header means no body.
func streamContentLength(raw []byte) (int, error) {
	for line := range bytes.Lines(raw) {
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := util.LCase(string(bytes.TrimSpace(line[:colon])))
		if name != "content-length" && name != "l" {
			continue
		}
		value := string(bytes.TrimSpace(line[colon+1:]))
		length, err := strconv.Atoi(value)
		if err != nil || length < 0 {
			return 0, errtrace.Wrap(NewInvalidArgumentError("invalid Content-Length"))
		}
		return length, nil
	}
	return 0, nil
}

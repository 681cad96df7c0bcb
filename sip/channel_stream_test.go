package sip

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func TestReadStreamMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name: "headers only",
			input: "OPTIONS sip:bob@biloxi.com SIP/2.0\r\n" +
				"Via: SIP/2.0/TCP pc33.atlanta.com;branch=z9hG4bK77\r\n" +
				"Content-Length: 0\r\n" +
				"\r\n",
			want: "OPTIONS sip:bob@biloxi.com SIP/2.0\r\n" +
				"Via: SIP/2.0/TCP pc33.atlanta.com;branch=z9hG4bK77\r\n" +
				"Content-Length: 0\r\n" +
				"\r\n",
		},
		{
			name: "keep alives absorbed",
			input: "\r\n\r\n" +
				"OPTIONS sip:bob@biloxi.com SIP/2.0\r\n" +
				"\r\n",
			want: "OPTIONS sip:bob@biloxi.com SIP/2.0\r\n\r\n",
		},
		{
			name: "content length body",
			input: "MESSAGE sip:bob@biloxi.com SIP/2.0\r\n" +
				"Content-Length: 5\r\n" +
				"\r\n" +
				"hellotrailing",
			want: "MESSAGE sip:bob@biloxi.com SIP/2.0\r\n" +
				"Content-Length: 5\r\n" +
				"\r\n" +
				"hello",
		},
		{
			name: "compact content length",
			input: "MESSAGE sip:bob@biloxi.com SIP/2.0\r\n" +
				"l: 4\r\n" +
				"\r\n" +
				"ping",
			want: "MESSAGE sip:bob@biloxi.com SIP/2.0\r\n" +
				"l: 4\r\n" +
				"\r\n" +
				"ping",
		},
		{
			name: "lf only lines",
			input: "OPTIONS sip:bob@biloxi.com SIP/2.0\n" +
				"Via: SIP/2.0/TCP pc33.atlanta.com;branch=z9hG4bK77\n" +
				"\n",
			want: "OPTIONS sip:bob@biloxi.com SIP/2.0\n" +
				"Via: SIP/2.0/TCP pc33.atlanta.com;branch=z9hG4bK77\n" +
				"\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			br := bufio.NewReader(strings.NewReader(tc.input))
			got, err := readStreamMessage(br)
			if err != nil {
				t.Fatalf("readStreamMessage() error = %v, want nil", err)
			}
			if string(got) != tc.want {
				t.Fatalf("readStreamMessage() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReadStreamMessage_Sequence(t *testing.T) {
	t.Parallel()

	input := "OPTIONS sip:a SIP/2.0\r\n\r\n" +
		"\r\n" +
		"MESSAGE sip:b SIP/2.0\r\nContent-Length: 2\r\n\r\nhi"
	br := bufio.NewReader(strings.NewReader(input))

	first, err := readStreamMessage(br)
	if err != nil {
		t.Fatalf("first readStreamMessage() error = %v, want nil", err)
	}
	if !strings.HasPrefix(string(first), "OPTIONS ") {
		t.Fatalf("first message = %q, want OPTIONS", first)
	}

	second, err := readStreamMessage(br)
	if err != nil {
		t.Fatalf("second readStreamMessage() error = %v, want nil", err)
	}
	if !strings.HasSuffix(string(second), "hi") {
		t.Fatalf("second message = %q, want trailing body", second)
	}
}

func TestReadStreamMessage_Errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid content length", func(t *testing.T) {
		t.Parallel()

		input := "MESSAGE sip:b SIP/2.0\r\nContent-Length: nope\r\n\r\n"
		_, err := readStreamMessage(bufio.NewReader(strings.NewReader(input)))
		if err == nil {
			t.Fatalf("readStreamMessage() error = nil, want non-nil")
		}
	})

	t.Run("negative content length", func(t *testing.T) {
		t.Parallel()

		input := "MESSAGE sip:b SIP/2.0\r\nContent-Length: -1\r\n\r\n"
		_, err := readStreamMessage(bufio.NewReader(strings.NewReader(input)))
		if err == nil {
			t.Fatalf("readStreamMessage() error = nil, want non-nil")
		}
	})

	t.Run("oversized headers", func(t *testing.T) {
		t.Parallel()

		var sb strings.Builder
		sb.WriteString("OPTIONS sip:b SIP/2.0\r\n")
		for uint(sb.Len()) <= MaxMsgSize {
			sb.WriteString("Subject: " + strings.Repeat("x", 1024) + "\r\n")
		}
		sb.WriteString("\r\n")

		_, err := readStreamMessage(bufio.NewReader(strings.NewReader(sb.String())))
		if !errors.Is(err, ErrMessageTooLarge) {
			t.Fatalf("readStreamMessage() error = %v, want %v", err, ErrMessageTooLarge)
		}
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()

		input := "MESSAGE sip:b SIP/2.0\r\n" +
			"Content-Length: " + "16777216" + "\r\n\r\n"
		_, err := readStreamMessage(bufio.NewReader(strings.NewReader(input)))
		if !errors.Is(err, ErrMessageTooLarge) {
			t.Fatalf("readStreamMessage() error = %v, want %v", err, ErrMessageTooLarge)
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		t.Parallel()

		input := "MESSAGE sip:b SIP/2.0\r\nContent-Length: 10\r\n\r\nhi"
		_, err := readStreamMessage(bufio.NewReader(strings.NewReader(input)))
		if err == nil {
			t.Fatalf("readStreamMessage() error = nil, want non-nil")
		}
	})
}

package message

import "testing"

func TestParseURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    URI
		wantErr bool
	}{
		{
			name:  "full",
			input: "sip:alice:secret@atlanta.com:5060;transport=tcp?subject=project",
			want: URI{Scheme: "sip", User: "alice", Password: "secret",
				Host: "atlanta.com", Port: 5060,
				Params:  map[string]string{"transport": "tcp"},
				Headers: map[string]string{"subject": "project"}},
		},
		{
			name:  "sips minimal",
			input: "sips:biloxi.com",
			want:  URI{Scheme: "sips", Host: "biloxi.com"},
		},
		{
			name:  "ipv6 host",
			input: "sip:bob@[2001:db8::1]:5062",
			want:  URI{Scheme: "sip", User: "bob", Host: "2001:db8::1", Port: 5062},
		},
		{name: "wrong scheme", input: "http://example.com", wantErr: true},
		{name: "no host", input: "sip:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURI(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseURI(%q) error = nil, want non-nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURI(%q) error = %v, want nil", tt.input, err)
			}
			if got.Scheme != tt.want.Scheme || got.User != tt.want.User ||
				got.Password != tt.want.Password || got.Host != tt.want.Host ||
				got.Port != tt.want.Port {
				t.Fatalf("ParseURI(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			for name, want := range tt.want.Params {
				if v, ok := got.Param(name); !ok || v != want {
					t.Fatalf("param %q = %q, %v, want %q", name, v, ok, want)
				}
			}
			for name, want := range tt.want.Headers {
				if v, ok := got.Headers[name]; !ok || v != want {
					t.Fatalf("header %q = %q, %v, want %q", name, v, ok, want)
				}
			}
		})
	}
}

func TestURI_Accessors(t *testing.T) {
	t.Parallel()

	u, err := ParseURI("sips:bob@biloxi.com;transport=tls")
	if err != nil {
		t.Fatalf("ParseURI() error = %v, want nil", err)
	}
	if !u.IsSecure() {
		t.Fatalf("IsSecure() = false, want true")
	}
	if got, want := u.Transport(), "TLS"; got != want {
		t.Fatalf("Transport() = %q, want %q", got, want)
	}
	if got, want := u.EffectivePort(), 5061; got != want {
		t.Fatalf("EffectivePort() = %d, want %d", got, want)
	}

	u, err = ParseURI("sip:bob@biloxi.com")
	if err != nil {
		t.Fatalf("ParseURI() error = %v, want nil", err)
	}
	if got, want := u.EffectivePort(), 5060; got != want {
		t.Fatalf("EffectivePort() = %d, want %d", got, want)
	}
}

func TestURI_Equal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"case-insensitive host", "sip:alice@AtLanTa.CoM;Transport=udp",
			"sip:alice@atlanta.com;transport=UDP", true},
		{"user case-sensitive", "sip:alice@atlanta.com", "sip:ALICE@atlanta.com", false},
		{"port defaulting", "sip:alice@atlanta.com", "sip:alice@atlanta.com:5060", true},
		{"different port", "sip:alice@atlanta.com", "sip:alice@atlanta.com:5070", false},
		{"one-sided transport", "sip:bob@biloxi.com", "sip:bob@biloxi.com;transport=tcp", false},
		{"one-sided other param", "sip:bob@biloxi.com", "sip:bob@biloxi.com;newparam=5", true},
		{"conflicting shared param", "sip:bob@biloxi.com;foo=1", "sip:bob@biloxi.com;foo=2", false},
		{"scheme mismatch", "sip:bob@biloxi.com", "sips:bob@biloxi.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseURI(tt.a)
			if err != nil {
				t.Fatalf("ParseURI(%q) error = %v, want nil", tt.a, err)
			}
			b, err := ParseURI(tt.b)
			if err != nil {
				t.Fatalf("ParseURI(%q) error = %v, want nil", tt.b, err)
			}
			if got := a.Equal(b); got != tt.want {
				t.Fatalf("Equal(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := b.Equal(a); got != tt.want {
				t.Fatalf("Equal(%q, %q) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

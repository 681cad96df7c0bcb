package dns

import "testing"

func TestNAPTR_Transport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		service string
		want    string
	}{
		{"SIP+D2U", "UDP"},
		{"SIP+D2T", "TCP"},
		{"SIPS+D2T", "TLS"},
		{"SIP+D2W", "WS"},
		{"SIPS+D2W", "WSS"},
		{"E2U+email", ""},
	}
	for _, tt := range tests {
		rec := &NAPTR{Service: tt.service}
		if got := rec.Transport(); got != tt.want {
			t.Errorf("Transport(%q) = %q, want %q", tt.service, got, tt.want)
		}
	}
}

package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"plain", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"case insensitive scheme", "bearer tok", "tok", false},
		{"padded", "  Bearer   tok  ", "tok", false},
		{"empty", "", "", true},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", true},
		{"scheme only", "Bearer ", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.header)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	public := []string{"/healthz", "/readyz", "/metrics", "/v1/info", "/v1/auth/token", "/v1/payments/callback", "/"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Errorf("expected %q public", p)
		}
	}
	private := []string{"/v1/auth/check", "/v1/payments/pay_1/verify", "/v1/users/u-1/plan"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Errorf("expected %q private", p)
		}
	}
}

package origin

import "testing"

func TestNormalize(t *testing.T) {
	t.Run("normalizes scheme and host", func(t *testing.T) {
		normalized, host, ok := Normalize("HTTPS://Example.COM")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "https://example.com" {
			t.Fatalf("normalized=%q, want %q", normalized, "https://example.com")
		}
		if host != "example.com" {
			t.Fatalf("host=%q, want %q", host, "example.com")
		}
	})

	t.Run("strips default ports", func(t *testing.T) {
		cases := map[string]string{
			"https://example.com:443": "https://example.com",
			"http://example.com:80":   "http://example.com",
			"http://example.com:8080": "http://example.com:8080",
		}
		for in, want := range cases {
			normalized, _, ok := Normalize(in)
			if !ok {
				t.Fatalf("expected ok=true for %q", in)
			}
			if normalized != want {
				t.Fatalf("Normalize(%q)=%q, want %q", in, normalized, want)
			}
		}
	})

	t.Run("allows trailing slash", func(t *testing.T) {
		normalized, host, ok := Normalize("http://localhost:5173/")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://localhost:5173" || host != "localhost:5173" {
			t.Fatalf("normalized=%q host=%q", normalized, host)
		}
	})

	t.Run("brackets ipv6 literals", func(t *testing.T) {
		normalized, host, ok := Normalize("http://[::1]:5173")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://[::1]:5173" || host != "[::1]:5173" {
			t.Fatalf("normalized=%q host=%q", normalized, host)
		}
	})

	t.Run("allows null origin", func(t *testing.T) {
		normalized, host, ok := Normalize("null")
		if !ok || normalized != "null" || host != "" {
			t.Fatalf("normalized=%q host=%q ok=%v", normalized, host, ok)
		}
	})

	t.Run("rejects scheme other than http/https", func(t *testing.T) {
		for _, c := range []string{"ftp://example.com", "ws://example.com", "file:///tmp"} {
			if _, _, ok := Normalize(c); ok {
				t.Fatalf("expected ok=false for %q", c)
			}
		}
	})

	t.Run("rejects path, query, credentials, fragment", func(t *testing.T) {
		cases := []string{
			"https://example.com/path",
			"https://example.com/?q=1",
			"https://user@example.com",
			"https://example.com/#frag",
			"",
			"   ",
			"https://example.com:0",
			"https://example.com:99999",
		}
		for _, c := range cases {
			if _, _, ok := Normalize(c); ok {
				t.Fatalf("expected ok=false for %q", c)
			}
		}
	})
}

func TestAllowed(t *testing.T) {
	t.Run("default is same host only", func(t *testing.T) {
		normalized, host, ok := Normalize("https://app.example.com")
		if !ok {
			t.Fatalf("Normalize ok=false")
		}
		if !Allowed(normalized, host, "app.example.com", nil) {
			t.Fatalf("expected same-host to be allowed")
		}
		// Default port on the request side canonicalizes away.
		if !Allowed(normalized, host, "app.example.com:443", nil) {
			t.Fatalf("expected default-port request host to be allowed")
		}
		if Allowed(normalized, host, "other.example.com", nil) {
			t.Fatalf("expected cross-host to be rejected")
		}
	})

	t.Run("scheme is not compared for same-host", func(t *testing.T) {
		// A TLS-terminating proxy may hand the relay a plain-HTTP request.
		normalized, host, ok := Normalize("http://app.example.com")
		if !ok {
			t.Fatalf("Normalize ok=false")
		}
		if !Allowed(normalized, host, "app.example.com", nil) {
			t.Fatalf("expected host match regardless of scheme")
		}
	})

	t.Run("allowlist is authoritative", func(t *testing.T) {
		normalized, host, ok := Normalize("https://app.example.com")
		if !ok {
			t.Fatalf("Normalize ok=false")
		}
		allow := []string{"https://app.example.com"}
		if !Allowed(normalized, host, "somewhere.else", allow) {
			t.Fatalf("expected allowlisted origin to pass regardless of host")
		}
		if Allowed(normalized, host, "app.example.com", []string{"https://other.example.com"}) {
			t.Fatalf("expected non-listed origin to be rejected even on same host")
		}
	})

	t.Run("star allows everything", func(t *testing.T) {
		normalized, host, ok := Normalize("https://anything.example.com")
		if !ok {
			t.Fatalf("Normalize ok=false")
		}
		if !Allowed(normalized, host, "unrelated.host", []string{"*"}) {
			t.Fatalf("expected * to allow any origin")
		}
	})

	t.Run("null origin needs an allowlist entry", func(t *testing.T) {
		if Allowed("null", "", "app.example.com", nil) {
			t.Fatalf("null must not pass the same-host policy")
		}
		if !Allowed("null", "", "app.example.com", []string{"null"}) {
			t.Fatalf("expected explicit null allowlist entry to pass")
		}
	})
}

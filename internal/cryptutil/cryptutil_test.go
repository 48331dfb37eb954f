package cryptutil

import "testing"

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestSeal_Open_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	blob, err := s.Seal([]byte("auth-token-value"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plain, err := s.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != "auth-token-value" {
		t.Fatalf("got %q", plain)
	}
}

func TestNewSealer_RejectsBadKeySize(t *testing.T) {
	if _, err := NewSealer([]byte("too-short")); err == nil {
		t.Fatal("expected error for invalid key size")
	}
}

func TestOpenJSON_FallsBackToLegacyPlaintext(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	legacyRow := []byte(`{"provider_type":"anthropic","enabled":true}`)

	var out map[string]any
	if err := s.OpenJSON(legacyRow, &out); err != nil {
		t.Fatalf("expected legacy-plaintext fallback to succeed, got %v", err)
	}
	if out["provider_type"] != "anthropic" {
		t.Fatalf("unexpected decoded value: %v", out)
	}
}

func TestSealJSON_OpenJSON_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	type payload struct {
		Name string `json:"name"`
	}
	blob, err := s.SealJSON(payload{Name: "custom-1"})
	if err != nil {
		t.Fatalf("SealJSON: %v", err)
	}
	var out payload
	if err := s.OpenJSON(blob, &out); err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	if out.Name != "custom-1" {
		t.Fatalf("got %q", out.Name)
	}
}

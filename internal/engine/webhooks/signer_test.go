package webhooks

import (
	"testing"
)

func TestSign(t *testing.T) {
	secret := "secret"
	payload := []byte("payload")

	// Calculated using: echo -n "payload" | openssl dgst -sha256 -hmac "secret"
	expected := "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4"

	got := Sign(secret, payload)

	if got != expected {
		t.Errorf("Sign() = %v, want %v", got, expected)
	}
}

func TestVerify(t *testing.T) {
	payload := []byte("payload")
	valid := "sha256=b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4"

	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"valid", "secret", valid, true},
		{"wrong secret", "other", valid, false},
		{"missing prefix", "secret", "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4", false},
		{"not hex", "secret", "sha256=zz", false},
		{"empty secret", "", valid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.secret, payload, tt.header); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

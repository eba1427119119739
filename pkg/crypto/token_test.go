package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

// Requirement: tokens carry the requested entropy and are URL-safe.
func TestNewToken_Length(t *testing.T) {
	tests := []struct {
		name           string
		byteLength     int
		expectedLength int
	}{
		{name: "zero uses default", byteLength: 0, expectedLength: DefaultTokenLength},
		{name: "negative uses default", byteLength: -10, expectedLength: DefaultTokenLength},
		{name: "16 bytes", byteLength: 16, expectedLength: 16},
		{name: "64 bytes", byteLength: 64, expectedLength: 64},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Act
			pair, err := NewToken(test.byteLength)

			// Assert
			if err != nil {
				t.Fatalf("NewToken() error = %v", err)
			}
			decoded, err := base64.RawURLEncoding.DecodeString(pair.Token)
			if err != nil {
				t.Fatalf("failed to decode token: %v", err)
			}
			if len(decoded) != test.expectedLength {
				t.Errorf("token length = %d bytes, want %d", len(decoded), test.expectedLength)
			}
			if strings.ContainsAny(pair.Token, "+/= ") {
				t.Errorf("token contains URL-unsafe characters: %q", pair.Token)
			}
			if pair.Hash != HashToken(pair.Token) {
				t.Error("pair hash does not match HashToken(token)")
			}
		})
	}
}

// Requirement: generated tokens do not repeat.
func TestNewToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		pair, err := NewToken(DefaultTokenLength)
		if err != nil {
			t.Fatalf("NewToken() error = %v", err)
		}
		if seen[pair.Token] {
			t.Fatalf("duplicate token after %d iterations", i)
		}
		seen[pair.Token] = true
	}
}

// Requirement: HashToken is deterministic hex-encoded SHA-256.
func TestHashToken(t *testing.T) {
	a := HashToken("token")
	b := HashToken("token")

	if a != b {
		t.Error("HashToken is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
	if a == HashToken("other") {
		t.Error("different tokens produced the same hash")
	}
}

// Requirement: VerifyToken accepts only the matching token and rejects empty input.
func TestVerifyToken(t *testing.T) {
	pair, err := NewToken(0)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		hash    string
		want    bool
		wantErr error
	}{
		{name: "valid", token: pair.Token, hash: pair.Hash, want: true},
		{name: "wrong token", token: "nope", hash: pair.Hash, want: false},
		{name: "empty token", token: "", hash: pair.Hash, wantErr: ErrEmptyToken},
		{name: "empty hash", token: pair.Token, hash: "", wantErr: ErrEmptyToken},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			got, err := VerifyToken(test.token, test.hash)

			if err != test.wantErr {
				t.Fatalf("VerifyToken() error = %v, want %v", err, test.wantErr)
			}
			if got != test.want {
				t.Errorf("VerifyToken() = %v, want %v", got, test.want)
			}
		})
	}
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateID(t *testing.T) {
	tests := []struct {
		name    string
		byteLen int
		wantLen int // hex encoded length = byteLen * 2
	}{
		{"8 bytes", 8, 16},
		{"16 bytes", 16, 32},
		{"24 bytes", 24, 48},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := GenerateID(tt.byteLen)
			if err != nil {
				t.Fatalf("GenerateID() error = %v", err)
			}
			if len(id) != tt.wantLen {
				t.Errorf("GenerateID() length = %d, want %d", len(id), tt.wantLen)
			}
			// Verify it's valid hex
			for _, c := range id {
				if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
					t.Errorf("GenerateID() contains invalid hex char: %c", c)
				}
			}
		})
	}

	// Test randomness - two IDs should be different
	id1, _ := GenerateID(16)
	id2, _ := GenerateID(16)
	if id1 == id2 {
		t.Error("GenerateID() produced duplicate IDs (extremely unlikely)")
	}
}

func TestGenerateAdminKey(t *testing.T) {
	tests := []struct {
		name   string
		pollID string
		salt   string
	}{
		{"standard", "poll123", "secret-salt"},
		{"empty poll id", "", "salt"},
		{"empty salt", "poll456", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := GenerateAdminKey(tt.pollID, tt.salt)

			// Should not be empty
			if key == "" {
				t.Error("GenerateAdminKey() returned empty string")
			}

			// Should be deterministic
			key2 := GenerateAdminKey(tt.pollID, tt.salt)
			if key != key2 {
				t.Error("GenerateAdminKey() is not deterministic")
			}

			// Different inputs should produce different keys
			if tt.pollID != "" && tt.salt != "" {
				differentKey := GenerateAdminKey(tt.pollID+"x", tt.salt)
				if key == differentKey {
					t.Error("GenerateAdminKey() produced same key for different poll IDs")
				}
			}

			// Should be URL-safe (no padding)
			if strings.Contains(key, "=") {
				t.Error("GenerateAdminKey() contains padding characters")
			}
		})
	}
}

func TestValidateAdminKey(t *testing.T) {
	pollID := "test-poll-123"
	salt := "test-salt"
	validKey := GenerateAdminKey(pollID, salt)

	tests := []struct {
		name     string
		pollID   string
		adminKey string
		salt     string
		wantErr  bool
	}{
		{"valid key", pollID, validKey, salt, false},
		{"wrong key", pollID, "wrong-key", salt, true},
		{"wrong poll id", "different-poll", validKey, salt, true},
		{"wrong salt", pollID, validKey, "different-salt", true},
		{"empty key", pollID, "", salt, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAdminKey(tt.pollID, tt.adminKey, tt.salt)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAdminKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != ErrInvalidAdminKey {
				t.Errorf("ValidateAdminKey() error = %v, want %v", err, ErrInvalidAdminKey)
			}
		})
	}
}

func TestHashIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		salt string
	}{
		{"IPv4", "192.168.1.1", "ip-salt"},
		{"IPv6", "2001:0db8:85a3::8a2e:0370:7334", "ip-salt"},
		{"localhost", "127.0.0.1", "ip-salt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := HashIP(tt.ip, tt.salt)

			// Should not be empty
			if hash == "" {
				t.Error("HashIP() returned empty string")
			}

			// Should be 16 hex characters (8 bytes * 2)
			if len(hash) != 16 {
				t.Errorf("HashIP() length = %d, want 16", len(hash))
			}

			// Should be valid hex
			for _, c := range hash {
				if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
					t.Errorf("HashIP() contains invalid hex char: %c", c)
				}
			}

			// Should be deterministic
			hash2 := HashIP(tt.ip, tt.salt)
			if hash != hash2 {
				t.Error("HashIP() is not deterministic")
			}
		})
	}

	// Different IPs should produce different hashes
	hash1 := HashIP("192.168.1.1", "salt")
	hash2 := HashIP("192.168.1.2", "salt")
	if hash1 == hash2 {
		t.Error("HashIP() produced same hash for different IPs")
	}

	// Different salts should produce different hashes
	hash3 := HashIP("192.168.1.1", "salt1")
	hash4 := HashIP("192.168.1.1", "salt2")
	if hash3 == hash4 {
		t.Error("HashIP() produced same hash for different salts")
	}
}

func TestUserTokenRoundTrip(t *testing.T) {
	token, err := IssueUserToken("user-42", "jwt-secret", time.Hour)
	if err != nil {
		t.Fatalf("IssueUserToken() error = %v", err)
	}

	userID, err := ParseUserToken(token, "jwt-secret")
	if err != nil {
		t.Fatalf("ParseUserToken() error = %v", err)
	}
	if userID != "user-42" {
		t.Errorf("ParseUserToken() = %q, want %q", userID, "user-42")
	}
}

func TestParseUserTokenRejects(t *testing.T) {
	valid, _ := IssueUserToken("user-42", "jwt-secret", time.Hour)
	expired, _ := IssueUserToken("user-42", "jwt-secret", -time.Minute)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    userTokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noSubjectSigned, _ := noSubject.SignedString([]byte("jwt-secret"))

	otherIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	otherIssuerSigned, _ := otherIssuer.SignedString([]byte("jwt-secret"))

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "other-secret"},
		{"expired", expired, "jwt-secret"},
		{"garbage", "not.a.jwt", "jwt-secret"},
		{"empty", "", "jwt-secret"},
		{"missing subject", noSubjectSigned, "jwt-secret"},
		{"wrong issuer", otherIssuerSigned, "jwt-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUserToken(tt.token, tt.secret)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ParseUserToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenSubject(t *testing.T) {
	token, err := IssueUserToken("user-9", "jwt-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// No secret needed on the device
	got, err := TokenSubject(token)
	if err != nil {
		t.Fatalf("TokenSubject() error = %v", err)
	}
	if got != "user-9" {
		t.Errorf("TokenSubject() = %q, want user-9", got)
	}

	if _, err := TokenSubject("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("TokenSubject() error = %v, want ErrInvalidToken", err)
	}
}

// Benchmark tests
func BenchmarkGenerateID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateID(16)
	}
}

func BenchmarkGenerateAdminKey(b *testing.B) {
	pollID := "test-poll-123"
	salt := "test-salt"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GenerateAdminKey(pollID, salt)
	}
}


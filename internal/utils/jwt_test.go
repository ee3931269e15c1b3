package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("secret", 7, "root", "ADMIN", 15)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}
	if time.Until(tok.Exp) < 14*time.Minute {
		t.Errorf("Exp = %v, want about 15 minutes ahead", tok.Exp)
	}

	claims, err := ParseAccessToken("secret", tok.Token)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.AdminID != 7 || claims.Username != "root" || claims.Role != "ADMIN" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Expires.Unix() != tok.Exp.Unix() {
		t.Errorf("Expires = %v, want %v", claims.Expires, tok.Exp)
	}
}

func TestParseAccessTokenRejects(t *testing.T) {
	good, err := NewAccessToken("secret", 1, "root", "ADMIN", 5)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := NewAccessToken("secret", 1, "root", "ADMIN", -5)
	if err != nil {
		t.Fatal(err)
	}
	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1", "role": "ADMIN",
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "1", "role": "ADMIN", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		secret string
		raw    string
	}{
		{"wrong secret", "other", good.Token},
		{"expired", "secret", expired.Token},
		{"missing role", "secret", noRole},
		{"missing exp", "secret", noExp},
		{"alg none", "secret", unsigned},
		{"garbage", "secret", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAccessToken(tt.secret, tt.raw); err != ErrInvalidToken {
				t.Errorf("ParseAccessToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	h, err := HashPassword("hunter2", 4)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !VerifyPassword(h, "hunter2") {
		t.Error("VerifyPassword(correct) = false")
	}
	if VerifyPassword(h, "hunter3") {
		t.Error("VerifyPassword(wrong) = true")
	}
}

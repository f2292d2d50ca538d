package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestGenerateVerify(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.Generate("ops")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "ops" || claims.Issuer != Issuer {
		t.Fatalf("claims=%+v", claims)
	}
	exp, err := m.Expiry(tok)
	if err != nil {
		t.Fatal(err)
	}
	if d := time.Until(exp); d <= 59*time.Minute || d > time.Hour {
		t.Fatalf("expiry in %s", d)
	}
}

func TestVerifyRejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	other, _ := NewJWTManager("other", time.Hour).Generate("ops")
	if _, err := m.Verify(other); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: err=%v", err)
	}

	expired := NewJWTManager("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, _ := expired.Generate("ops")
	if _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: err=%v", err)
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, _ := foreign.SignedString([]byte("secret"))
	if _, err := m.Verify(s); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign issuer: err=%v", err)
	}

	if _, err := m.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: err=%v", err)
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	cases := map[string]string{
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearer":     "",
		"":           "",
	}
	for hdr, want := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if hdr != "" {
			r.Header.Set("Authorization", hdr)
		}
		got, err := ExtractTokenFromHeader(r)
		if want == "" {
			if err == nil {
				t.Fatalf("%q: expected error", hdr)
			}
			continue
		}
		if err != nil || got != want {
			t.Fatalf("%q: got=%q err=%v", hdr, got, err)
		}
	}
}

package hosttoken

import (
	"testing"
	"time"

	"bridgetalk/pkg/domain"
)

var testHost = domain.Host{ID: 42, Email: "host@example.com", Name: "Mei"}

func TestIssueAndVerify(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, testHost, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	claims, err := Verify(secret, token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.ID != 42 {
		t.Fatalf("claims.ID = %d, want 42", claims.ID)
	}
	if claims.Email != "host@example.com" || claims.Name != "Mei" {
		t.Fatalf("claims = %+v, want email and name carried through", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Issue([]byte("secret-a"), testHost, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := Verify([]byte("secret-b"), token); err == nil {
		t.Fatalf("expected verification failure for wrong secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, testHost, -2*time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := Verify(secret, token); err == nil {
		t.Fatalf("expected verification failure for expired token")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	if _, err := Verify([]byte("test-secret"), "not-a-token"); err == nil {
		t.Fatalf("expected verification failure for malformed token")
	}
	if _, err := Verify([]byte("test-secret"), "   "); err == nil {
		t.Fatalf("expected verification failure for blank token")
	}
}

func TestIssueRequiresSecret(t *testing.T) {
	if _, err := Issue(nil, testHost, time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

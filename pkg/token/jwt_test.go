package token

import (
	"testing"
	"time"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 1)
	tok, err := m.GenerateToken("ops", RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := m.VerifyToken(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "ops" || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejectsOtherSecretAndExpired(t *testing.T) {
	tok, _ := NewJWTManager("a", 1).GenerateToken("ops", RoleAdmin)
	if _, err := NewJWTManager("b", 1).VerifyToken(tok); err == nil {
		t.Fatalf("token signed with another secret should fail")
	}

	expired := &JWTManager{secretKey: []byte("a"), tokenDur: -time.Minute}
	old, _ := expired.GenerateToken("ops", RoleAdmin)
	if _, err := expired.VerifyToken(old); err == nil {
		t.Fatalf("expired token should fail")
	}
}

func TestEmptySecretIsRejected(t *testing.T) {
	if _, err := NewJWTManager("", 1).GenerateToken("ops", RoleAdmin); err == nil {
		t.Fatalf("expected error without secret")
	}
}

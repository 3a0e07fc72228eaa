package hash

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	phc, err := HashPassword("longenough1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(phc, "$argon2id$v=19$") || !IsHash(phc) {
		t.Fatalf("unexpected phc: %s", phc)
	}
	if !Verify(phc, "longenough1") {
		t.Fatalf("expected match")
	}
	if Verify(phc, "longenough2") {
		t.Fatalf("expected mismatch")
	}
}

func TestVerifyLegacyPlaintext(t *testing.T) {
	if !Verify("oldsecret99", "oldsecret99") {
		t.Fatalf("plaintext record should verify")
	}
	if Verify("oldsecret99", "oldsecret9") {
		t.Fatalf("prefix must not verify")
	}
	if Verify("", "") {
		t.Fatalf("empty secret must never verify")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	bad := []string{
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=1$$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=1$c2FsdA",
	}
	for _, b := range bad {
		if Verify(b, "whatever") {
			t.Fatalf("malformed phc verified: %s", b)
		}
	}
}

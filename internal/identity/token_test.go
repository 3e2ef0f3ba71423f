package identity_test

import (
	"testing"
	"time"

	"github.com/forensicedr/forensicedr/internal/identity"
)

var secret = []byte("test-api-secret")

func TestIssueVerify_roundTrip(t *testing.T) {
	issuer := identity.NewTokenIssuer(secret, "http://localhost:8000", time.Hour)

	tok, err := issuer.Issue("EDR-DEVICE-7", "EDGE_DEVICE")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "EDR-DEVICE-7" {
		t.Errorf("subject: got %q", claims.Subject)
	}
	if claims.ActorType != "EDGE_DEVICE" {
		t.Errorf("actor_type: got %q", claims.ActorType)
	}
}

func TestVerify_rejectsWrongSecret(t *testing.T) {
	issuer := identity.NewTokenIssuer(secret, "http://localhost:8000", time.Hour)
	other := identity.NewTokenIssuer([]byte("other-secret"), "http://localhost:8000", time.Hour)

	tok, _ := issuer.Issue("EDR-DEVICE-7", "EDGE_DEVICE")
	if _, err := other.Verify(tok); err == nil {
		t.Error("token signed with a different secret must not verify")
	}
}

func TestVerify_rejectsWrongIssuer(t *testing.T) {
	issuer := identity.NewTokenIssuer(secret, "http://a.example", time.Hour)
	other := identity.NewTokenIssuer(secret, "http://b.example", time.Hour)

	tok, _ := issuer.Issue("ANALYST-1", "HUMAN_OPERATOR")
	if _, err := other.Verify(tok); err == nil {
		t.Error("token with a foreign iss claim must not verify")
	}
}

func TestVerify_rejectsExpired(t *testing.T) {
	issuer := identity.NewTokenIssuer(secret, "http://localhost:8000", -time.Minute)

	tok, _ := issuer.Issue("EDR-DEVICE-7", "EDGE_DEVICE")
	if _, err := issuer.Verify(tok); err == nil {
		t.Error("expired token must not verify")
	}
}

package schema

import "testing"

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  Alice.Smith@Example.COM ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != "alice.smith@example.com" {
		t.Fatalf("unexpected email: %q", email)
	}
}

func TestNormalizeEmailRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "nodomain", "@example.com", "user@", "a b@example.com", "user/../x@example.com"} {
		if _, err := NormalizeEmail(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestNormalizeWorkspaceName(t *testing.T) {
	name, err := NormalizeWorkspaceName("My-Project_1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "My-Project_1.0" {
		t.Fatalf("unexpected name: %q", name)
	}
}

func TestNormalizeWorkspaceNameRejectsInvalid(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	for _, raw := range []string{"", ".hidden", "-dash", "has space", "a/b", "..", string(long)} {
		if _, err := NormalizeWorkspaceName(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	if err := ValidateUsername("wb-alice_smith"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, raw := range []Username{"", "Upper", "1leading", "-lead", "has space", Username(make([]byte, 33))} {
		if err := ValidateUsername(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestTransferStatusTerminal(t *testing.T) {
	if TransferActive.Terminal() {
		t.Fatal("active must not be terminal")
	}
	for _, status := range []TransferStatus{TransferCompleted, TransferExpired, TransferClosed} {
		if !status.Terminal() {
			t.Fatalf("%s must be terminal", status)
		}
	}
}

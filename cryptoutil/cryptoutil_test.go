package cryptoutil

import "testing"

func TestPairwiseSubjectDeterministic(t *testing.T) {
	key := []byte("0123456789abcdef")

	sub1, err := PairwiseSubject(key, "https://rp.example", "user-1", "salt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub2, err := PairwiseSubject(key, "https://rp.example", "user-1", "salt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub1 != sub2 {
		t.Fatalf("expected deterministic output, got %q and %q", sub1, sub2)
	}

	sub3, err := PairwiseSubject(key, "https://rp.example", "user-2", "salt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub1 == sub3 {
		t.Fatalf("expected distinct subjects for distinct users")
	}
}

func TestPairwiseSubjectShortKey(t *testing.T) {
	if _, err := PairwiseSubject([]byte("short"), "sector", "user", "salt"); err == nil {
		t.Fatalf("expected error for undersized key")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("secret", "secret") {
		t.Fatalf("expected equal strings to compare equal")
	}
	if ConstantTimeEqual("secret", "secrets") {
		t.Fatalf("expected different-length strings to compare unequal")
	}
	if ConstantTimeEqual("secret", "wrongg") {
		t.Fatalf("expected different strings to compare unequal")
	}
}

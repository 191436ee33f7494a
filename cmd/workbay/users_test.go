package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListAccountHomes(t *testing.T) {
	homeRoot := t.TempDir()
	for _, dir := range []string{"wb-alice-a1b2c3", "wb-bob-d4e5f6", "lost+found"} {
		if err := os.Mkdir(filepath.Join(homeRoot, dir), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(homeRoot, "wb-stray-file"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	usernames, err := listAccountHomes(homeRoot, "wb")
	if err != nil {
		t.Fatal(err)
	}
	if len(usernames) != 2 {
		t.Fatalf("usernames = %v", usernames)
	}
	if usernames[0] != "wb-alice-a1b2c3" || usernames[1] != "wb-bob-d4e5f6" {
		t.Fatalf("usernames = %v", usernames)
	}
}

func TestListAccountHomesMissingRoot(t *testing.T) {
	usernames, err := listAccountHomes(filepath.Join(t.TempDir(), "absent"), "wb")
	if err != nil {
		t.Fatal(err)
	}
	if usernames != nil {
		t.Fatalf("usernames = %v", usernames)
	}
}

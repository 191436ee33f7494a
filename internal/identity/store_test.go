package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"pkt.systems/workbay/schema"
)

func newTestStore(t *testing.T) (*Store, *LocalAccounts) {
	t.Helper()
	accounts := NewLocalAccounts(30000)
	store, err := NewStore(context.Background(), Config{HomeRoot: t.TempDir()}, accounts)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, accounts
}

func TestDeriveUsernameProperties(t *testing.T) {
	cases := []struct {
		email schema.Email
	}{
		{"alice@example.com"},
		{"alice@other.org"},
		{"bob.smith+tag@example.com"},
		{"x@y.z"},
		{"a-very-long-local-part-that-keeps-going-forever@example.com"},
		{"日本@example.com"},
	}
	seen := make(map[schema.Username]schema.Email)
	for _, tc := range cases {
		username, err := DeriveUsername("", tc.email)
		if err != nil {
			t.Fatalf("DeriveUsername(%q): %v", tc.email, err)
		}
		if len(username) > 32 {
			t.Errorf("DeriveUsername(%q) = %q exceeds 32 chars", tc.email, username)
		}
		if err := schema.ValidateUsername(username); err != nil {
			t.Errorf("DeriveUsername(%q) = %q invalid: %v", tc.email, username, err)
		}
		if prev, dup := seen[username]; dup {
			t.Errorf("collision: %q and %q both map to %q", prev, tc.email, username)
		}
		seen[username] = tc.email

		again, err := DeriveUsername("", tc.email)
		if err != nil || again != username {
			t.Errorf("DeriveUsername(%q) not deterministic: %q vs %q (%v)", tc.email, username, again, err)
		}
	}
}

func TestDeriveUsernameSuffixLength(t *testing.T) {
	username, err := DeriveUsername("", "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(string(username), "-")
	suffix := parts[len(parts)-1]
	if len(suffix) != hashSuffixLen {
		t.Fatalf("hash suffix %q has %d chars, want %d", suffix, len(suffix), hashSuffixLen)
	}
}

func TestDeriveUsernameSameLocalDifferentDomain(t *testing.T) {
	a, err := DeriveUsername("", "team@alpha.example")
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveUsername("", "team@beta.example")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("same local part must not collide across domains: %q", a)
	}
}

func TestEnsureUserProvisionsOnce(t *testing.T) {
	store, accounts := newTestStore(t)
	ctx := context.Background()

	first, err := store.EnsureUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	second, err := store.EnsureUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("EnsureUser (repeat): %v", err)
	}
	if first.Username != second.Username || first.UID != second.UID {
		t.Fatalf("mapping not stable: %+v vs %+v", first, second)
	}
	if _, ok, _ := accounts.Lookup(ctx, first.Username); !ok {
		t.Fatalf("account %q not recorded", first.Username)
	}
	defaultWS := filepath.Join(first.HomeDir, "workspaces", "default")
	if info, err := os.Stat(defaultWS); err != nil || !info.IsDir() {
		t.Fatalf("default workspace missing: %v", err)
	}
	gitconfig, err := os.ReadFile(filepath.Join(first.HomeDir, ".gitconfig"))
	if err != nil {
		t.Fatalf("git identity missing: %v", err)
	}
	if !strings.Contains(string(gitconfig), "email = alice@example.com") {
		t.Fatalf("git identity incomplete: %s", gitconfig)
	}
}

func TestEnsureUserConcurrentSharesProvisioning(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	mappings := make([]schema.UserMapping, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mappings[i], errs[i] = store.EnsureUser(ctx, "race@example.com")
		}(i)
	}
	wg.Wait()
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if mappings[i].Username != mappings[0].Username || mappings[i].UID != mappings[0].UID {
			t.Fatalf("caller %d saw different mapping: %+v vs %+v", i, mappings[i], mappings[0])
		}
	}
}

func TestEnsureUserDistinctEmailsDistinctAccounts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	seen := make(map[schema.Username]bool)
	for i := 0; i < 10; i++ {
		mapping, err := store.EnsureUser(ctx, schema.Email(fmt.Sprintf("user%d@example.com", i)))
		if err != nil {
			t.Fatalf("EnsureUser user%d: %v", i, err)
		}
		if seen[mapping.Username] {
			t.Fatalf("username %q reused", mapping.Username)
		}
		seen[mapping.Username] = true
	}
}

func TestGetUserInfoUnknownEmail(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetUserInfo(context.Background(), "ghost@example.com")
	if !errors.Is(err, schema.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetUserInfoReportsUsage(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mapping, err := store.EnsureUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	payload := []byte("twelve bytes")
	target := filepath.Join(mapping.HomeDir, "workspaces", "default", "note.txt")
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	info, err := store.GetUserInfo(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserInfo: %v", err)
	}
	if info.DiskUsageBytes != int64(len(payload)) {
		t.Fatalf("DiskUsageBytes = %d, want %d", info.DiskUsageBytes, len(payload))
	}
	if info.DiskFreeBytes == 0 {
		t.Fatal("DiskFreeBytes should be non-zero on a real filesystem")
	}
}

func TestLookupAdoptsSurvivingAccount(t *testing.T) {
	accounts := NewLocalAccounts(30000)
	homeRoot := t.TempDir()
	first, err := NewStore(context.Background(), Config{HomeRoot: homeRoot}, accounts)
	if err != nil {
		t.Fatal(err)
	}
	mapping, err := first.EnsureUser(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}

	// New store, same accounts database: simulates a process restart.
	second, err := NewStore(context.Background(), Config{HomeRoot: homeRoot}, accounts)
	if err != nil {
		t.Fatal(err)
	}
	info, err := second.GetUserInfo(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserInfo after restart: %v", err)
	}
	if info.Mapping.Username != mapping.Username || info.Mapping.UID != mapping.UID {
		t.Fatalf("adopted mapping differs: %+v vs %+v", info.Mapping, mapping)
	}
}

func TestResetUserWipesHome(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mapping, err := store.EnsureUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	junk := filepath.Join(mapping.HomeDir, "workspaces", "default", "junk.bin")
	if err := os.WriteFile(junk, []byte("junk"), 0o600); err != nil {
		t.Fatal(err)
	}
	extra := filepath.Join(mapping.HomeDir, "workspaces", "scratch")
	if err := os.MkdirAll(extra, 0o700); err != nil {
		t.Fatal(err)
	}

	reset, err := store.ResetUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ResetUser: %v", err)
	}
	if reset.Username != mapping.Username {
		t.Fatalf("reset changed the account: %q vs %q", reset.Username, mapping.Username)
	}
	if _, err := os.Stat(junk); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("junk file survived the reset")
	}
	if _, err := os.Stat(extra); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("extra workspace survived the reset")
	}
	defaultWS := filepath.Join(mapping.HomeDir, "workspaces", "default")
	if info, err := os.Stat(defaultWS); err != nil || !info.IsDir() {
		t.Fatalf("default workspace not rebuilt: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mapping.HomeDir, ".gitconfig")); err != nil {
		t.Fatalf("git identity not rebuilt: %v", err)
	}
}

func TestResetUserUnknownEmail(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.ResetUser(context.Background(), "ghost@example.com")
	if !errors.Is(err, schema.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

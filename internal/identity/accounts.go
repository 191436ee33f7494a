package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"pkt.systems/workbay/schema"
)

// Account is an OS account record as seen by the accounts backend.
type Account struct {
	Username schema.Username
	UID      int
	GID      int
	HomeDir  string
}

// Accounts abstracts the OS account database so the store can run
// against real system accounts in production and a local table in tests.
type Accounts interface {
	Lookup(ctx context.Context, username schema.Username) (Account, bool, error)
	Create(ctx context.Context, username schema.Username, homeDir string) (Account, error)
	Remove(ctx context.Context, username schema.Username) error
}

// SystemAccounts provisions real OS accounts via useradd/userdel.
type SystemAccounts struct{}

// Lookup resolves an account through the system user database.
func (SystemAccounts) Lookup(ctx context.Context, username schema.Username) (Account, bool, error) {
	u, err := user.Lookup(string(username))
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return Account{}, false, nil
		}
		return Account{}, false, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Account{}, false, fmt.Errorf("account %s: parse uid %q: %w", username, u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Account{}, false, fmt.Errorf("account %s: parse gid %q: %w", username, u.Gid, err)
	}
	return Account{Username: username, UID: uid, GID: gid, HomeDir: u.HomeDir}, true, nil
}

// Create adds a system account with the given home directory. The home is
// created by the caller; useradd only records it.
func (s SystemAccounts) Create(ctx context.Context, username schema.Username, homeDir string) (Account, error) {
	cmd := exec.CommandContext(ctx, "useradd",
		"--system",
		"--user-group",
		"--home-dir", homeDir,
		"--no-create-home",
		"--shell", "/usr/sbin/nologin",
		string(username),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Account{}, fmt.Errorf("useradd %s: %w: %s", username, err, strings.TrimSpace(stderr.String()))
	}
	account, ok, err := s.Lookup(ctx, username)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, fmt.Errorf("useradd %s: account missing after create", username)
	}
	return account, nil
}

// Remove deletes the system account, leaving the home for the caller.
func (SystemAccounts) Remove(ctx context.Context, username schema.Username) error {
	cmd := exec.CommandContext(ctx, "userdel", string(username))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("userdel %s: %w: %s", username, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// LocalAccounts keeps an in-process account table. Used by tests and by
// single-user deployments where creating real OS accounts is undesirable.
type LocalAccounts struct {
	mu       sync.Mutex
	nextUID  int
	accounts map[schema.Username]Account
}

// NewLocalAccounts returns a table allocating UIDs from base upward.
func NewLocalAccounts(base int) *LocalAccounts {
	if base <= 0 {
		base = 20000
	}
	return &LocalAccounts{nextUID: base, accounts: make(map[schema.Username]Account)}
}

func (l *LocalAccounts) Lookup(ctx context.Context, username schema.Username) (Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, ok := l.accounts[username]
	return account, ok, nil
}

func (l *LocalAccounts) Create(ctx context.Context, username schema.Username, homeDir string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[username]; ok {
		return Account{}, fmt.Errorf("account %s already exists", username)
	}
	account := Account{Username: username, UID: l.nextUID, GID: l.nextUID, HomeDir: homeDir}
	l.nextUID++
	l.accounts[username] = account
	return account, nil
}

func (l *LocalAccounts) Remove(ctx context.Context, username schema.Username) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, username)
	return nil
}

// ChownTree hands ownership of a directory tree to the account. A no-op
// when not running as root, so local development keeps working.
func ChownTree(root string, uid, gid int) error {
	if os.Geteuid() != 0 {
		return nil
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, uid, gid)
	})
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"pkt.systems/pslog"
	"pkt.systems/workbay/core"
	"pkt.systems/workbay/internal/logx"
	"pkt.systems/workbay/schema"
)

// Config configures the identity store.
type Config struct {
	// HomeRoot is the directory holding per-account homes.
	HomeRoot string
	// UsernamePrefix namespaces provisioned accounts. Defaults to "wb".
	UsernamePrefix string
}

// Store provisions one OS account per email and keeps the email to
// account mapping. Mappings are held in memory; existing OS accounts are
// re-adopted lazily after a restart since the derivation is deterministic.
type Store struct {
	cfg      Config
	accounts Accounts
	logger   pslog.Logger

	mu    sync.Mutex
	users map[schema.Email]*userEntry
}

type userEntry struct {
	mapping schema.UserMapping
	wait    chan struct{}
	err     error
}

// NewStore constructs a Store backed by the given accounts database.
func NewStore(ctx context.Context, cfg Config, accounts Accounts) (*Store, error) {
	if accounts == nil {
		return nil, errors.New("accounts backend is required")
	}
	cfg.HomeRoot = strings.TrimSpace(cfg.HomeRoot)
	if cfg.HomeRoot == "" {
		return nil, errors.New("home root is required")
	}
	if cfg.UsernamePrefix == "" {
		cfg.UsernamePrefix = DefaultUsernamePrefix
	}
	if err := os.MkdirAll(cfg.HomeRoot, 0o755); err != nil {
		return nil, fmt.Errorf("home root %q: %w", cfg.HomeRoot, err)
	}
	return &Store{
		cfg:      cfg,
		accounts: accounts,
		logger:   pslog.Ctx(ctx),
		users:    make(map[schema.Email]*userEntry),
	}, nil
}

// EnsureUser returns the mapping for an email, provisioning the OS
// account and home skeleton on first sight. Concurrent calls for the
// same email share a single provisioning attempt.
func (s *Store) EnsureUser(ctx context.Context, email schema.Email) (schema.UserMapping, error) {
	log := logx.WithUser(ctx, email)

	s.mu.Lock()
	if entry, ok := s.users[email]; ok {
		wait := entry.wait
		s.mu.Unlock()
		if wait != nil {
			log.Debug("identity provisioning in progress")
			select {
			case <-wait:
			case <-ctx.Done():
				return schema.UserMapping{}, ctx.Err()
			}
		}
		s.mu.Lock()
		entry = s.users[email]
		if entry == nil {
			s.mu.Unlock()
			return schema.UserMapping{}, errors.New("identity unavailable")
		}
		if entry.err != nil {
			err := entry.err
			delete(s.users, email)
			s.mu.Unlock()
			return schema.UserMapping{}, err
		}
		mapping := entry.mapping
		s.mu.Unlock()
		return mapping, nil
	}
	entry := &userEntry{wait: make(chan struct{})}
	s.users[email] = entry
	s.mu.Unlock()

	mapping, err := s.provision(ctx, email)
	s.mu.Lock()
	if err != nil {
		entry.err = err
		close(entry.wait)
		entry.wait = nil
		s.mu.Unlock()
		log.Warn("identity provisioning failed", "err", err)
		return schema.UserMapping{}, err
	}
	entry.mapping = mapping
	close(entry.wait)
	entry.wait = nil
	s.mu.Unlock()
	log.Info("identity ready", "username", mapping.Username, "uid", mapping.UID)
	return mapping, nil
}

// GetUserInfo returns the mapping plus disk usage for a provisioned
// email. Unknown emails fail with ErrUserNotFound; an OS account left by
// a previous run is adopted without re-provisioning.
func (s *Store) GetUserInfo(ctx context.Context, email schema.Email) (schema.UserInfo, error) {
	mapping, err := s.lookup(ctx, email)
	if err != nil {
		return schema.UserInfo{}, err
	}
	usage, err := diskUsage(mapping.HomeDir)
	if err != nil {
		return schema.UserInfo{}, fmt.Errorf("disk usage %s: %w", mapping.HomeDir, err)
	}
	free, err := diskFree(mapping.HomeDir)
	if err != nil {
		return schema.UserInfo{}, fmt.Errorf("disk free %s: %w", mapping.HomeDir, err)
	}
	return schema.UserInfo{Mapping: mapping, DiskUsageBytes: usage, DiskFreeBytes: free}, nil
}

// ResetUser wipes the home directory and rebuilds the skeleton. The OS
// account itself survives; only its contents are discarded.
func (s *Store) ResetUser(ctx context.Context, email schema.Email) (schema.UserMapping, error) {
	mapping, err := s.lookup(ctx, email)
	if err != nil {
		return schema.UserMapping{}, err
	}
	log := logx.WithUser(ctx, email)
	entries, err := os.ReadDir(mapping.HomeDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return schema.UserMapping{}, err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(mapping.HomeDir, entry.Name())); err != nil {
			return schema.UserMapping{}, err
		}
	}
	if err := s.ensureHomeSkeleton(mapping); err != nil {
		return schema.UserMapping{}, err
	}
	log.Info("identity home reset", "username", mapping.Username)
	return mapping, nil
}

func (s *Store) provision(ctx context.Context, email schema.Email) (schema.UserMapping, error) {
	username, err := DeriveUsername(s.cfg.UsernamePrefix, email)
	if err != nil {
		return schema.UserMapping{}, err
	}
	account, ok, err := s.accounts.Lookup(ctx, username)
	if err != nil {
		return schema.UserMapping{}, err
	}
	if !ok {
		homeDir := core.HomeDir(s.cfg.HomeRoot, username)
		account, err = s.accounts.Create(ctx, username, homeDir)
		if err != nil {
			return schema.UserMapping{}, err
		}
	}
	mapping := schema.UserMapping{
		Email:     email,
		Username:  account.Username,
		UID:       account.UID,
		GID:       account.GID,
		HomeDir:   account.HomeDir,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.ensureHomeSkeleton(mapping); err != nil {
		return schema.UserMapping{}, err
	}
	return mapping, nil
}

// lookup resolves the mapping without provisioning. Accounts surviving a
// restart are adopted into the in-memory table.
func (s *Store) lookup(ctx context.Context, email schema.Email) (schema.UserMapping, error) {
	s.mu.Lock()
	entry, ok := s.users[email]
	if ok && entry.wait == nil && entry.err == nil {
		mapping := entry.mapping
		s.mu.Unlock()
		return mapping, nil
	}
	s.mu.Unlock()

	username, err := DeriveUsername(s.cfg.UsernamePrefix, email)
	if err != nil {
		return schema.UserMapping{}, err
	}
	account, found, err := s.accounts.Lookup(ctx, username)
	if err != nil {
		return schema.UserMapping{}, err
	}
	if !found {
		return schema.UserMapping{}, schema.ErrUserNotFound
	}
	mapping := schema.UserMapping{
		Email:     email,
		Username:  account.Username,
		UID:       account.UID,
		GID:       account.GID,
		HomeDir:   account.HomeDir,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	if existing, ok := s.users[email]; !ok || existing.wait == nil {
		s.users[email] = &userEntry{mapping: mapping}
	}
	s.mu.Unlock()
	return mapping, nil
}

func (s *Store) ensureHomeSkeleton(mapping schema.UserMapping) error {
	workspaces := filepath.Join(mapping.HomeDir, "workspaces")
	dirs := []string{
		mapping.HomeDir,
		workspaces,
		filepath.Join(workspaces, string(schema.DefaultWorkspace)),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	if err := s.ensureGitIdentity(mapping); err != nil {
		return err
	}
	return ChownTree(mapping.HomeDir, mapping.UID, mapping.GID)
}

// ensureGitIdentity gives the account a usable default git identity so
// commits inside workspaces work out of the box. An existing .gitconfig
// is left alone.
func (s *Store) ensureGitIdentity(mapping schema.UserMapping) error {
	path := filepath.Join(mapping.HomeDir, ".gitconfig")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	content := fmt.Sprintf("[user]\n\tname = %s\n\temail = %s\n[init]\n\tdefaultBranch = main\n",
		mapping.Username, mapping.Email)
	return os.WriteFile(path, []byte(content), 0o600)
}

func diskUsage(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return total, err
}

func diskFree(root string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return 0, nil
		}
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

package workerproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/workbay/core"
	"pkt.systems/workbay/schema"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultIdleTimeout    = 30 * time.Minute
)

// Config configures the worker router.
type Config struct {
	// WorkerBinary is the executable spawned per account.
	WorkerBinary string
	// WorkerArgs are passed to every worker.
	WorkerArgs []string
	// RequestTimeout bounds one round trip. Defaults to 60s.
	RequestTimeout time.Duration
	// IdleTimeout stops workers with no traffic. Defaults to 30m; zero
	// keeps the default, negative disables the sweep.
	IdleTimeout time.Duration
	// DropPrivileges runs workers under the account uid/gid. Forced off
	// when not running as root.
	DropPrivileges bool
}

// Router keeps at most one worker process per account and serializes
// nothing beyond frame writes; requests run concurrently and responses
// correlate by id.
type Router struct {
	cfg    Config
	logger pslog.Logger

	mu      sync.Mutex
	workers map[schema.Username]*workerEntry
}

type workerEntry struct {
	client   *client
	mapping  schema.UserMapping
	lastUsed time.Time

	wait chan struct{}
	err  error
}

// NewRouter constructs a Router and starts the idle sweep.
func NewRouter(ctx context.Context, cfg Config) (*Router, error) {
	if cfg.WorkerBinary == "" {
		return nil, errors.New("worker binary is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.DropPrivileges && os.Geteuid() != 0 {
		cfg.DropPrivileges = false
	}
	r := &Router{
		cfg:     cfg,
		logger:  pslog.Ctx(ctx),
		workers: make(map[schema.Username]*workerEntry),
	}
	if cfg.IdleTimeout > 0 {
		go r.sweep(ctx, cfg.IdleTimeout)
	}
	return r, nil
}

// SendRequest routes one request to the account's worker, starting it if
// needed. Concurrent first requests share a single spawn attempt.
func (r *Router) SendRequest(ctx context.Context, mapping schema.UserMapping, method string, params any, result any) error {
	if mapping.Username == "" {
		return errors.New("username is required")
	}
	c, err := r.clientFor(ctx, mapping)
	if err != nil {
		return err
	}

	id, ch, err := c.send(method, params)
	if err != nil {
		r.dropDead(mapping.Username, c)
		return err
	}

	timeout := time.NewTimer(r.cfg.RequestTimeout)
	defer timeout.Stop()
	select {
	case resp := <-ch:
		r.touch(mapping.Username)
		if resp.Error != nil {
			return workerFaultError(method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("worker %s result: %w", method, err)
			}
		}
		return nil
	case <-timeout.C:
		// The worker keeps running; only this request is abandoned.
		c.forget(id)
		return core.NewWorkerError(core.WorkerErrorTimeout, method,
			fmt.Errorf("no response within %s", r.cfg.RequestTimeout))
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// StopWorker stops the account's worker if one is running.
func (r *Router) StopWorker(ctx context.Context, username schema.Username) error {
	r.mu.Lock()
	entry := r.workers[username]
	if entry == nil {
		r.mu.Unlock()
		return nil
	}
	if entry.wait != nil {
		wait := entry.wait
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
		entry = r.workers[username]
		if entry == nil {
			r.mu.Unlock()
			return nil
		}
	}
	delete(r.workers, username)
	r.mu.Unlock()
	r.logger.Info("worker stop requested", "username", username)
	if entry.client != nil {
		return entry.client.close()
	}
	return nil
}

// WorkerLive reports whether a worker process is running for the account.
func (r *Router) WorkerLive(username schema.Username) bool {
	r.mu.Lock()
	entry := r.workers[username]
	r.mu.Unlock()
	return entry != nil && entry.wait == nil && entry.client != nil && entry.client.alive()
}

// CloseAll stops every worker. Used at shutdown.
func (r *Router) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*workerEntry, 0, len(r.workers))
	for _, entry := range r.workers {
		entries = append(entries, entry)
	}
	r.workers = make(map[schema.Username]*workerEntry)
	r.mu.Unlock()
	r.logger.Info("worker close all", "count", len(entries))

	var lastErr error
	for _, entry := range entries {
		if entry.client != nil {
			if err := entry.client.close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

func (r *Router) clientFor(ctx context.Context, mapping schema.UserMapping) (*client, error) {
	username := mapping.Username
	log := r.logger.With("username", username)

	r.mu.Lock()
	if entry, ok := r.workers[username]; ok {
		wait := entry.wait
		r.mu.Unlock()
		if wait != nil {
			log.Debug("worker start in progress")
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		r.mu.Lock()
		entry = r.workers[username]
		if entry == nil {
			r.mu.Unlock()
			return nil, core.NewWorkerError(core.WorkerErrorUnavailable, "start", errors.New("worker unavailable"))
		}
		if entry.err != nil {
			err := entry.err
			delete(r.workers, username)
			r.mu.Unlock()
			return nil, err
		}
		if entry.client != nil && !entry.client.alive() {
			// Crashed since last use; clear and respawn.
			delete(r.workers, username)
			r.mu.Unlock()
			return r.clientFor(ctx, mapping)
		}
		entry.lastUsed = time.Now()
		c := entry.client
		r.mu.Unlock()
		return c, nil
	}
	entry := &workerEntry{mapping: mapping, wait: make(chan struct{})}
	r.workers[username] = entry
	r.mu.Unlock()

	log.Info("worker start requested")
	c, err := spawn(spawnSpec{
		binary:         r.cfg.WorkerBinary,
		args:           r.cfg.WorkerArgs,
		mapping:        mapping,
		dropPrivileges: r.cfg.DropPrivileges,
	}, r.logger)
	r.mu.Lock()
	if err != nil {
		entry.err = err
		close(entry.wait)
		entry.wait = nil
		r.mu.Unlock()
		log.Warn("worker start failed", "err", err)
		return nil, err
	}
	entry.client = c
	entry.lastUsed = time.Now()
	close(entry.wait)
	entry.wait = nil
	r.mu.Unlock()
	return c, nil
}

func (r *Router) touch(username schema.Username) {
	r.mu.Lock()
	if entry := r.workers[username]; entry != nil {
		entry.lastUsed = time.Now()
	}
	r.mu.Unlock()
}

// dropDead removes the entry only if it still holds the failed client.
func (r *Router) dropDead(username schema.Username, c *client) {
	r.mu.Lock()
	if entry := r.workers[username]; entry != nil && entry.client == c {
		delete(r.workers, username)
	}
	r.mu.Unlock()
}

func (r *Router) sweep(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.collectIdle(idle)
		}
	}
}

func (r *Router) collectIdle(idle time.Duration) {
	now := time.Now()
	var toStop []*workerEntry
	r.mu.Lock()
	for username, entry := range r.workers {
		if entry.wait != nil {
			continue
		}
		if now.Sub(entry.lastUsed) >= idle {
			delete(r.workers, username)
			toStop = append(toStop, entry)
		}
	}
	r.mu.Unlock()
	for _, entry := range toStop {
		r.logger.Info("worker idle timeout", "username", entry.mapping.Username, "idle", idle)
		if entry.client != nil {
			_ = entry.client.close()
		}
	}
}

func workerFaultError(method string, fault *schema.WorkerFault) error {
	kind := core.WorkerErrorRemote
	if fault.Code == string(core.WorkerErrorCrashed) {
		kind = core.WorkerErrorCrashed
	}
	return &core.WorkerError{Kind: kind, Op: method, Message: fault.Message}
}

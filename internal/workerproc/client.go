package workerproc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"pkt.systems/pslog"
	"pkt.systems/workbay/core"
	"pkt.systems/workbay/schema"
)

const maxFrameBytes = 12 * 1024 * 1024

// client talks line-delimited JSON to one worker process over stdio.
// Responses may arrive out of order; the id correlates them.
type client struct {
	username schema.Username
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	logger   pslog.Logger

	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan schema.WorkerResponse
	exited  bool
	exitErr error
}

type spawnSpec struct {
	binary  string
	args    []string
	mapping schema.UserMapping
	// dropPrivileges runs the worker under the account's uid/gid. Requires
	// running as root; off in tests.
	dropPrivileges bool
}

func spawn(spec spawnSpec, logger pslog.Logger) (*client, error) {
	cmd := exec.Command(spec.binary, spec.args...)
	cmd.Dir = spec.mapping.HomeDir
	cmd.Env = []string{
		"HOME=" + spec.mapping.HomeDir,
		"USER=" + string(spec.mapping.Username),
		"LOGNAME=" + string(spec.mapping.Username),
		"PATH=/usr/local/bin:/usr/bin:/bin",
	}
	if spec.dropPrivileges {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{
				Uid: uint32(spec.mapping.UID),
				Gid: uint32(spec.mapping.GID),
			},
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, core.NewWorkerError(core.WorkerErrorSpawn, "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.NewWorkerError(core.WorkerErrorSpawn, "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, core.NewWorkerError(core.WorkerErrorSpawn, "stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, core.NewWorkerError(core.WorkerErrorSpawn, "start", err)
	}
	c := &client{
		username: spec.mapping.Username,
		cmd:      cmd,
		stdin:    stdin,
		logger:   logger.With("username", spec.mapping.Username, "pid", cmd.Process.Pid),
		pending:  make(map[string]chan schema.WorkerResponse),
	}
	go c.readLoop(bufio.NewReaderSize(stdout, 64*1024))
	go c.stderrLoop(stderr)
	go c.waitLoop()
	c.logger.Info("worker started", "binary", spec.binary)
	return c, nil
}

// send writes one request frame and registers the pending response slot.
// The returned channel is closed after delivery or process exit.
func (c *client) send(method string, params any) (string, <-chan schema.WorkerResponse, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	frame, err := json.Marshal(schema.WorkerRequest{ID: id, Method: method, Params: raw})
	if err != nil {
		return "", nil, err
	}

	ch := make(chan schema.WorkerResponse, 1)
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return "", nil, core.NewWorkerError(core.WorkerErrorUnavailable, method, c.exitErr)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.sendMu.Lock()
	_, err = c.stdin.Write(append(frame, '\n'))
	c.sendMu.Unlock()
	if err != nil {
		c.forget(id)
		return "", nil, core.NewWorkerError(core.WorkerErrorUnavailable, method, err)
	}
	return id, ch, nil
}

// forget drops a pending slot, used when the caller gave up waiting. The
// worker may still answer later; the late frame is discarded in readLoop.
func (c *client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *client) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.exited
}

func (c *client) close() error {
	c.mu.Lock()
	exited := c.exited
	c.mu.Unlock()
	if exited {
		return nil
	}
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return nil
}

func (c *client) readLoop(reader *bufio.Reader) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		if len(line) > maxFrameBytes {
			c.logger.Warn("worker frame too large; killing worker", "bytes", len(line))
			_ = c.close()
			return
		}
		var resp schema.WorkerResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("worker sent invalid json", "err", err)
			continue
		}
		if resp.ID == "" {
			continue
		}
		c.mu.Lock()
		ch := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
			close(ch)
		}
	}
}

func (c *client) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.logger.Warn("worker stderr", "line", line)
	}
}

func (c *client) waitLoop() {
	err := c.cmd.Wait()
	c.handleExit(err)
}

// handleExit marks the client dead and fails every in-flight request.
// Terminals lived inside the process, so they are gone with it.
func (c *client) handleExit(err error) {
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return
	}
	c.exited = true
	if err == nil {
		err = errors.New("worker exited")
	}
	c.exitErr = err
	pending := c.pending
	c.pending = make(map[string]chan schema.WorkerResponse)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- schema.WorkerResponse{Error: &schema.WorkerFault{
			Code:    string(core.WorkerErrorCrashed),
			Message: fmt.Sprintf("worker exited: %v", err),
		}}
		close(ch)
	}
	if len(pending) > 0 {
		c.logger.Warn("worker exited with requests in flight", "pending", len(pending), "err", err)
	} else {
		c.logger.Info("worker exited", "err", err)
	}
}

package workerproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pkt.systems/workbay/core"
	"pkt.systems/workbay/schema"
)

func requirePython(t *testing.T) string {
	t.Helper()
	if path, err := exec.LookPath("python3"); err == nil {
		return path
	}
	if path, err := exec.LookPath("python"); err == nil {
		return path
	}
	t.Skip("python not found in PATH")
	return ""
}

const echoWorker = `import os, sys, json, time, threading

def respond(resp):
    sys.stdout.write(json.dumps(resp) + "\n")
    sys.stdout.flush()

def handle(req):
    method = req.get("method")
    params = req.get("params") or {}
    delay = params.get("delay_ms")
    if delay:
        time.sleep(delay / 1000.0)
    if method == "test.fail":
        respond({"id": req["id"], "error": {"code": "remote", "message": "boom"}})
        return
    respond({"id": req["id"], "result": {"method": method, "params": params}})

for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    req = json.loads(line)
    if req.get("method") == "test.crash":
        os._exit(1)
    threading.Thread(target=handle, args=(req,), daemon=True).start()
`

func writeScript(t *testing.T, name, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(code), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func testRouter(t *testing.T, script string, cfg Config) *Router {
	t.Helper()
	python := requirePython(t)
	cfg.WorkerBinary = python
	cfg.WorkerArgs = []string{"-u", script}
	router, err := NewRouter(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	t.Cleanup(func() { _ = router.CloseAll(context.Background()) })
	return router
}

func workerMapping(t *testing.T) schema.UserMapping {
	t.Helper()
	home := t.TempDir()
	return schema.UserMapping{
		Email:    "alice@example.com",
		Username: "wb-alice-a1b2c3",
		UID:      os.Getuid(),
		GID:      os.Getgid(),
		HomeDir:  home,
	}
}

func TestSendRequestRoundTrip(t *testing.T) {
	script := writeScript(t, "echo_worker.py", echoWorker)
	router := testRouter(t, script, Config{})
	mapping := workerMapping(t)

	var result struct {
		Method string `json:"method"`
		Params struct {
			Name string `json:"name"`
		} `json:"params"`
	}
	params := map[string]any{"name": "scratch"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := router.SendRequest(ctx, mapping, schema.MethodWorkspaceCreate, params, &result); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if result.Method != schema.MethodWorkspaceCreate || result.Params.Name != "scratch" {
		t.Fatalf("unexpected echo %+v", result)
	}
	if !router.WorkerLive(mapping.Username) {
		t.Fatal("worker should be live after a request")
	}
}

func TestConcurrentRequestsCorrelateByID(t *testing.T) {
	script := writeScript(t, "echo_worker.py", echoWorker)
	router := testRouter(t, script, Config{})
	mapping := workerMapping(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The slow request is sent first but answers last; both must still
	// receive their own payloads.
	var wg sync.WaitGroup
	results := make([]string, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delay := 0
			if i%2 == 0 {
				delay = 300
			}
			var result struct {
				Params struct {
					Tag string `json:"tag"`
				} `json:"params"`
			}
			errs[i] = router.SendRequest(ctx, mapping, schema.MethodWorkerPing,
				map[string]any{"tag": fmt.Sprintf("req-%d", i), "delay_ms": delay}, &result)
			results[i] = result.Params.Tag
		}(i)
	}
	wg.Wait()
	for i := 0; i < 8; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if results[i] != fmt.Sprintf("req-%d", i) {
			t.Fatalf("request %d got response %q", i, results[i])
		}
	}
}

func TestConcurrentFirstRequestsShareOneWorker(t *testing.T) {
	python := requirePython(t)
	dir := t.TempDir()
	startLog := filepath.Join(dir, "starts.log")
	code := "import sys\nopen(" + fmt.Sprintf("%q", startLog) + ", 'a').write('start\\n')\n" + echoWorker
	script := filepath.Join(dir, "counting_worker.py")
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		t.Fatal(err)
	}
	router, err := NewRouter(context.Background(), Config{
		WorkerBinary: python,
		WorkerArgs:   []string{"-u", script},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = router.CloseAll(context.Background()) })
	mapping := workerMapping(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = router.SendRequest(ctx, mapping, schema.MethodWorkerPing, struct{}{}, nil)
		}()
	}
	wg.Wait()

	raw, err := os.ReadFile(startLog)
	if err != nil {
		t.Fatalf("read start log: %v", err)
	}
	if got := len(raw); got != len("start\n") {
		t.Fatalf("expected exactly one worker start, log: %q", raw)
	}
}

func TestWorkerFaultMapsToWorkerError(t *testing.T) {
	script := writeScript(t, "echo_worker.py", echoWorker)
	router := testRouter(t, script, Config{})
	mapping := workerMapping(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := router.SendRequest(ctx, mapping, "test.fail", struct{}{}, nil)
	var workerErr *core.WorkerError
	if !errors.As(err, &workerErr) {
		t.Fatalf("expected WorkerError, got %v", err)
	}
	if workerErr.Kind != core.WorkerErrorRemote || workerErr.Message != "boom" {
		t.Fatalf("unexpected error %+v", workerErr)
	}
	if !router.WorkerLive(mapping.Username) {
		t.Fatal("remote fault must not kill the worker")
	}
}

func TestRequestTimeoutLeavesWorkerRunning(t *testing.T) {
	script := writeScript(t, "echo_worker.py", echoWorker)
	router := testRouter(t, script, Config{RequestTimeout: 200 * time.Millisecond})
	mapping := workerMapping(t)

	ctx := context.Background()
	err := router.SendRequest(ctx, mapping, schema.MethodWorkerPing,
		map[string]any{"delay_ms": 5000}, nil)
	var workerErr *core.WorkerError
	if !errors.As(err, &workerErr) || workerErr.Kind != core.WorkerErrorTimeout {
		t.Fatalf("expected timeout WorkerError, got %v", err)
	}
	if !router.WorkerLive(mapping.Username) {
		t.Fatal("timed-out request must not kill the worker")
	}

	// The worker still answers new requests.
	quickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := router.SendRequest(quickCtx, mapping, schema.MethodWorkerPing, struct{}{}, nil); err != nil {
		t.Fatalf("follow-up request: %v", err)
	}
}

func TestCrashFailsInFlightAndRespawns(t *testing.T) {
	script := writeScript(t, "echo_worker.py", echoWorker)
	router := testRouter(t, script, Config{})
	mapping := workerMapping(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.SendRequest(ctx, mapping, schema.MethodWorkerPing, struct{}{}, nil); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	// A slow request rides alongside the crash and must fail, not hang.
	done := make(chan error, 1)
	go func() {
		done <- router.SendRequest(ctx, mapping, schema.MethodWorkerPing,
			map[string]any{"delay_ms": 5000}, nil)
	}()
	time.Sleep(100 * time.Millisecond)
	_ = router.SendRequest(ctx, mapping, "test.crash", struct{}{}, nil)

	select {
	case err := <-done:
		var workerErr *core.WorkerError
		if !errors.As(err, &workerErr) {
			t.Fatalf("expected WorkerError for in-flight request, got %v", err)
		}
		if workerErr.Kind != core.WorkerErrorCrashed && workerErr.Kind != core.WorkerErrorUnavailable {
			t.Fatalf("unexpected kind %q", workerErr.Kind)
		}
	case <-time.After(8 * time.Second):
		t.Fatal("in-flight request hung across worker crash")
	}

	// Next request starts a fresh worker; terminals did not survive, but
	// the account stays usable.
	if err := router.SendRequest(ctx, mapping, schema.MethodWorkerPing, struct{}{}, nil); err != nil {
		t.Fatalf("respawn request: %v", err)
	}
}

func TestStopWorker(t *testing.T) {
	script := writeScript(t, "echo_worker.py", echoWorker)
	router := testRouter(t, script, Config{})
	mapping := workerMapping(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := router.SendRequest(ctx, mapping, schema.MethodWorkerPing, struct{}{}, nil); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if err := router.StopWorker(ctx, mapping.Username); err != nil {
		t.Fatalf("StopWorker: %v", err)
	}
	if router.WorkerLive(mapping.Username) {
		t.Fatal("worker still live after stop")
	}
	// Stopping an absent worker is a no-op.
	if err := router.StopWorker(ctx, mapping.Username); err != nil {
		t.Fatalf("StopWorker (absent): %v", err)
	}
}

func TestCollectIdleStopsQuietWorkers(t *testing.T) {
	script := writeScript(t, "echo_worker.py", echoWorker)
	router := testRouter(t, script, Config{IdleTimeout: -1})
	mapping := workerMapping(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := router.SendRequest(ctx, mapping, schema.MethodWorkerPing, struct{}{}, nil); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	router.collectIdle(time.Nanosecond)
	if router.WorkerLive(mapping.Username) {
		t.Fatal("idle worker survived the sweep")
	}
}

func TestWorkersIsolatedPerAccount(t *testing.T) {
	script := writeScript(t, "echo_worker.py", echoWorker)
	router := testRouter(t, script, Config{})

	alice := workerMapping(t)
	bob := schema.UserMapping{
		Email:    "bob@example.com",
		Username: "wb-bob-d4e5f6",
		UID:      os.Getuid(),
		GID:      os.Getgid(),
		HomeDir:  t.TempDir(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.SendRequest(ctx, alice, schema.MethodWorkerPing, struct{}{}, nil); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if err := router.SendRequest(ctx, bob, schema.MethodWorkerPing, struct{}{}, nil); err != nil {
		t.Fatalf("bob: %v", err)
	}

	if err := router.StopWorker(ctx, alice.Username); err != nil {
		t.Fatal(err)
	}
	if router.WorkerLive(alice.Username) {
		t.Fatal("alice's worker should be stopped")
	}
	if !router.WorkerLive(bob.Username) {
		t.Fatal("bob's worker must not be affected by alice's stop")
	}
}

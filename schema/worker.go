package schema

import "encoding/json"

// Worker protocol, consumed over the worker's stdio as line-delimited JSON.
// Requests and responses are correlated by id; responses may arrive out of
// order.

// WorkerRequest is one request frame sent to a worker.
type WorkerRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// WorkerResponse is one response frame read from a worker.
type WorkerResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WorkerFault    `json:"error,omitempty"`
}

// WorkerFault is a structured worker-side failure.
type WorkerFault struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Worker methods.
const (
	MethodTerminalExecute = "terminal.execute"
	MethodTerminalRead    = "terminal.read"
	MethodTerminalWrite   = "terminal.write"
	MethodTerminalList    = "terminal.list"
	MethodTerminalKill    = "terminal.kill"
	MethodWorkspaceList   = "workspace.list"
	MethodWorkspaceCreate = "workspace.create"
	MethodWorkspaceDelete = "workspace.delete"
	MethodWorkspaceStatus = "workspace.status"
	MethodAccountRuntimes = "account.runtimes"
	MethodWorkerPing      = "worker.ping"
)
